package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/engine"
	"github.com/jspreddy/dql/fakedynamo"
)

const seed = "CREATE TABLE events (stream STRING HASH KEY, seq NUMBER RANGE KEY); " +
	"INSERT INTO events (stream, seq, tags) VALUES ('a', 1, ('x', 'y')), ('a', 2, null);"

func fakeConnector(client *fakedynamo.Client) Connector {
	return func(context.Context, *RootOptions) (engine.DynamoDB, error) {
		return client, nil
	}
}

func execute(t *testing.T, client *fakedynamo.Client, stdin string, args ...string) (string, string, error) {
	t.Helper()

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	cmd := newRootCommand(fakeConnector(client), prometheus.NewRegistry())
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dql", cmd.Use)

	command := cmd.PersistentFlags().Lookup("command")
	require.NotNil(t, command)
	assert.Equal(t, "c", command.Shorthand)

	port := cmd.PersistentFlags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "8000", port.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestCommandFlag(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()

	_, _, err := execute(t, client, "", "-c", seed)
	c.NoError(err)

	out, _, err := execute(t, client, "", "-c", "SELECT * FROM events WHERE stream = 'a'")
	c.NoError(err)
	c.Equal("{'seq': 1, 'stream': 'a', 'tags': ('x', 'y')}\n{'seq': 2, 'stream': 'a', 'tags': null}\n", out)

	out, _, err = execute(t, client, "", "-c", "COUNT * FROM events WHERE stream = 'a';")
	c.NoError(err)
	c.Equal("2\n", out)

	out, _, err = execute(t, client, "", "-c", "DELETE FROM events WHERE stream = 'a' AND seq = 2")
	c.NoError(err)
	c.Equal("1 item(s) affected\n", out)
}

func TestJSONFormat(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()

	_, _, err := execute(t, client, "", "-c", seed)
	c.NoError(err)

	out, _, err := execute(t, client, "", "--format", "json", "-c", "SELECT seq, tags FROM events WHERE stream = 'a' LIMIT 1;")
	c.NoError(err)
	c.JSONEq(`{"seq": 1, "tags": ["x", "y"]}`, out)

	out, _, err = execute(t, client, "", "--format", "json", "-c", "COUNT * FROM events WHERE stream = 'a';")
	c.NoError(err)
	c.JSONEq(`{"action": "COUNT", "table": "events", "count": 2}`, out)

	_, _, err = execute(t, client, "", "--format", "yaml", "-c", "SCAN * FROM events;")
	c.Error(err)
	c.Equal(ExitCommandError, ExitCode(err))
}

func TestFileFlag(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()

	path := filepath.Join(t.TempDir(), "seed.dql")
	c.NoError(os.WriteFile(path, []byte(seed+"\nDUMP SCHEMA events;\n"), 0o600))

	out, _, err := execute(t, client, "", "--file", path)
	c.NoError(err)
	c.Equal("CREATE TABLE events (stream STRING HASH KEY, seq NUMBER RANGE KEY);\n", out)

	_, _, err = execute(t, client, "", "--file", path, "-c", "SCAN * FROM events;")
	c.Equal(ExitCommandError, ExitCode(err))
}

func TestSaveAndLoad(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()

	_, _, err := execute(t, client, "", "-c", seed+" CREATE TABLE copy (stream STRING HASH KEY, seq NUMBER RANGE KEY);")
	c.NoError(err)

	file := filepath.Join(t.TempDir(), "events.json.gz")

	out, _, err := execute(t, client, "", "-c", "SCAN * FROM events SAVE '"+file+"'")
	c.NoError(err)
	c.Equal("2 item(s) saved to "+file+"\n", out)

	out, _, err = execute(t, client, "", "--format", "json", "-c", "LOAD '"+file+"' INTO copy")
	c.NoError(err)
	c.JSONEq(`{"action": "LOAD", "table": "copy", "count": 2, "file": "`+file+`"}`, out)
}

func TestStdinSession(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()

	input := strings.Join([]string{
		"CREATE TABLE events (stream STRING HASH KEY,",
		"  seq NUMBER RANGE KEY);",
		"INSERT INTO events (stream, seq) VALUES ('a', 1);",
		"SELECT * FROM nowhere WHERE id = 1;",
		"EXPLAIN SELECT * FROM events",
		"  WHERE stream = 'a';",
	}, "\n")

	out, errOut, err := execute(t, client, input)
	c.Error(err)
	c.Equal(ExitFailure, ExitCode(err))
	c.Contains(out, "1 item(s) affected\n")
	c.Contains(out, "Query events")
	c.Contains(errOut, "nowhere")
	c.Equal(1, client.Calls("CreateTable"))
}

func TestStdinUnterminated(t *testing.T) {
	_, _, err := execute(t, fakedynamo.NewClient(), "DUMP SCHEMA\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated statement")
}

func TestParseErrorExitCode(t *testing.T) {
	_, _, err := execute(t, fakedynamo.NewClient(), "", "-c", "SELEKT * FROM events;")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestWithTerminator(t *testing.T) {
	assert.Equal(t, "SCAN * FROM t;", withTerminator("  SCAN * FROM t "))
	assert.Equal(t, "SCAN * FROM t;", withTerminator("SCAN * FROM t;"))
	assert.Equal(t, "", withTerminator("  "))
}
