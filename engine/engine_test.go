package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/fakedynamo"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

const eventsTable = "CREATE TABLE events (stream STRING HASH KEY, seq NUMBER RANGE KEY, " +
	"kind STRING ALL INDEX('by-kind'));"

func noSleep(context.Context, time.Duration) {}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Wait = WaitConfig{MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Timeout: 2 * time.Second}

	return cfg
}

func setupEngine(t *testing.T, client *fakedynamo.Client, opts ...Option) *Engine {
	t.Helper()

	opts = append([]Option{WithConfig(testConfig()), WithSleep(noSleep)}, opts...)

	e, err := New(client, opts...)
	require.NoError(t, err)

	return e
}

func mustExecute(t *testing.T, e *Engine, text string) *Result {
	t.Helper()

	res, err := e.Execute(context.Background(), text)
	require.NoError(t, err, text)

	return res
}

// seedEvents creates the events table with n items in stream 'a'
func seedEvents(t *testing.T, e *Engine, n int) {
	t.Helper()

	mustExecute(t, e, eventsTable)

	rows := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		kind := "odd"
		if i%2 == 0 {
			kind = "even"
		}

		rows = append(rows, fmt.Sprintf("('a', %d, '%s', %d)", i, kind, i*10))
	}

	res := mustExecute(t, e, "INSERT INTO events (stream, seq, kind, n) VALUES "+strings.Join(rows, ", ")+";")
	require.EqualValues(t, n, res.Count)
}

func records(t *testing.T, res *Result) []types.Record {
	t.Helper()
	require.NotNil(t, res.Rows)

	out, err := res.Rows.All()
	require.NoError(t, err)

	return out
}

func TestQueryPagination(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.PageSize = 3

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 10)

	res := mustExecute(t, e, "SELECT * FROM events WHERE stream = 'a';")
	c.Equal(language.ActionSelect, res.Action)

	rows := records(t, res)
	c.Len(rows, 10)
	c.Equal(4, res.Rows.Calls())
	c.Equal(4, client.Calls("Query"))
	c.Zero(client.Calls("Scan"))

	for i, row := range rows {
		c.Equal(fmt.Sprint(i+1), row["seq"].Inspect())
	}
}

func TestScanPagination(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.PageSize = 4

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 10)

	res := mustExecute(t, e, "SCAN * FROM events;")
	c.Len(records(t, res), 10)
	c.Equal(3, client.Calls("Scan"))
}

func TestLimitCapsTotal(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.PageSize = 3

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 10)

	res := mustExecute(t, e, "SELECT * FROM events WHERE stream = 'a' LIMIT 5;")
	c.Len(records(t, res), 5)
	c.Equal(2, res.Rows.Calls())

	res = mustExecute(t, e, "SELECT * FROM events WHERE stream = 'a' DESC LIMIT 2;")
	rows := records(t, res)
	c.Len(rows, 2)
	c.Equal("10", rows[0]["seq"].Inspect())
	c.Equal("9", rows[1]["seq"].Inspect())
}

func TestRowsCloseStopsFetching(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.PageSize = 2

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 10)

	res := mustExecute(t, e, "SELECT * FROM events WHERE stream = 'a';")
	c.True(res.Rows.Next())
	c.True(res.Rows.Next())
	res.Rows.Close()
	c.False(res.Rows.Next())
	c.Equal(1, client.Calls("Query"))
}

func TestPlanChoice(t *testing.T) {
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	mustExecute(t, e, eventsTable)
	mustExecute(t, e, "CREATE TABLE users (id STRING HASH KEY) GLOBAL INDEX ('by-email', email STRING);")

	tests := map[string]struct {
		statement string
		want      string
	}{
		"hash key":               {"SELECT * FROM events WHERE stream = 'a'", "Query events key="},
		"hash and range key":     {"SELECT * FROM events WHERE stream = 'a' AND seq > 3", "Query events key="},
		"local index":            {"SELECT * FROM events WHERE stream = 'a' AND kind = 'odd'", "Query events index=by-kind key="},
		"range key only":         {"SELECT * FROM events WHERE seq > 3", "Scan events filter="},
		"or never queries":       {"SELECT * FROM events WHERE stream = 'a' OR stream = 'b'", "Scan events filter="},
		"global index":           {"SELECT * FROM users WHERE email = 'x@y.z'", "Query users index=by-email"},
		"scan ignores hash key":  {"SCAN * FROM events FILTER stream = 'a'", "Scan events filter="},
		"count is select=COUNT":  {"SELECT count(*) FROM events WHERE stream = 'a'", "select=COUNT"},
		"using picks the index":  {"SELECT * FROM events WHERE stream = 'a' AND kind = 'odd' USING 'by-kind'", "index=by-kind"},
		"desc shows the order":   {"SELECT * FROM events WHERE stream = 'a' DESC", "order=DESC"},
		"limit shows the limit":  {"SCAN * FROM events LIMIT 3", "limit=3"},
		"insert batches":         {"INSERT INTO events (stream, seq) VALUES ('a', 1)", "BatchWriteItem events items=1 batches=1"},
		"update key and returns": {"UPDATE events SET x = 1 WHERE stream = 'a' AND seq = 1 RETURNS ALL NEW", "returns=ALL_NEW"},
		"delete key":             {"DELETE FROM events WHERE stream = 'a' AND seq = 1", "DeleteItem events key="},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			client.ResetCalls()

			res, err := e.Execute(context.Background(), "EXPLAIN "+tt.statement+";")
			require.NoError(t, err)
			require.Len(t, res.Plan, 1)
			assert.Contains(t, res.Plan[0], tt.want)

			assert.Zero(t, client.Calls("Query"))
			assert.Zero(t, client.Calls("Scan"))
			assert.Zero(t, client.Calls("BatchWriteItem"))
		})
	}
}

func TestLocalFilter(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithCapabilities(expressions.Capabilities{}))
	seedEvents(t, e, 6)

	res := mustExecute(t, e, "EXPLAIN SELECT seq FROM events WHERE stream = 'a' AND n > 30;")
	c.Contains(res.Plan[0], "local=")
	c.NotContains(res.Plan[0], "filter=")
	c.Contains(res.Plan[0], "projection=seq,n")

	rows := records(t, mustExecute(t, e, "SELECT seq FROM events WHERE stream = 'a' AND n > 30;"))
	c.Len(rows, 3)

	for _, row := range rows {
		c.Len(row, 1)
		c.Contains(row, "seq")
	}

	res = mustExecute(t, e, "SELECT count(*) FROM events WHERE stream = 'a' AND n > 30;")
	c.EqualValues(3, res.Count)
}

func TestCount(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.PageSize = 4

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 9)

	res := mustExecute(t, e, "SELECT count(*) FROM events WHERE stream = 'a';")
	c.Equal(language.ActionCount, res.Action)
	c.EqualValues(9, res.Count)
	c.Nil(res.Rows)

	res = mustExecute(t, e, "COUNT * FROM events WHERE stream = 'a' AND kind = 'even';")
	c.EqualValues(4, res.Count)

	res = mustExecute(t, e, "COUNT * FROM events WHERE stream = 'b';")
	c.Zero(res.Count)
}

func TestInsertArity(t *testing.T) {
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	mustExecute(t, e, eventsTable)

	_, err := e.Execute(context.Background(), "INSERT INTO events (stream, seq) VALUES ('a', 1), ('b');")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Zero(t, client.Calls("BatchWriteItem"))
}

func TestCompileBeforeRun(t *testing.T) {
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	mustExecute(t, e, eventsTable)

	mustExecute(t, e, "INSERT INTO events (stream, seq) VALUES ('a', 1);")

	_, err := e.Execute(context.Background(), "DELETE FROM events WHERE stream = 'a' AND seq = 1; "+
		"INSERT INTO events (stream, seq) VALUES ('c');")
	require.ErrorIs(t, err, types.ErrValidation)

	res := mustExecute(t, e, "COUNT * FROM events WHERE stream = 'a';")
	assert.EqualValues(t, 1, res.Count)
}

func TestInsertBatches(t *testing.T) {
	c := require.New(t)
	cfg := testConfig()
	cfg.WriteConcurrency = 2

	client := fakedynamo.NewClient(fakedynamo.WithBatchCapacity(10))
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 60)

	// 3 batches of 25, 25 and 10 items, the first two need 3 calls each
	c.Equal(7, client.Calls("BatchWriteItem"))

	res := mustExecute(t, e, "COUNT * FROM events WHERE stream = 'a';")
	c.EqualValues(60, res.Count)
}

func TestInsertDuplicateKeys(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	mustExecute(t, e, eventsTable)

	stmt := "INSERT INTO events (stream, seq, n) VALUES ('a', 1, 1), ('a', 2, 2), ('a', 1, 3);"

	res := mustExecute(t, e, "EXPLAIN "+stmt)
	c.Equal([]string{"BatchWriteItem events items=2 batches=1"}, res.Plan)

	res = mustExecute(t, e, stmt)
	c.EqualValues(2, res.Count)
	c.Equal(1, client.Calls("BatchWriteItem"))

	rows := records(t, mustExecute(t, e, "SELECT n FROM events WHERE stream = 'a' AND seq = 1;"))
	c.Len(rows, 1)
	c.Equal("3", rows[0]["n"].Inspect())
}

func TestInsertKeywordForm(t *testing.T) {
	c := require.New(t)
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)

	res := mustExecute(t, e, "INSERT INTO events (stream = 'a', seq = 1, data = {'k': [1, 2]}), (stream = 'a', seq = 2);")
	c.EqualValues(2, res.Count)

	rows := records(t, mustExecute(t, e, "SELECT data.k[1] AS second FROM events WHERE stream = 'a' AND seq = 1;"))
	c.Len(rows, 1)
	c.Equal("2", rows[0]["second"].Inspect())

	_, err := e.Execute(context.Background(), "INSERT INTO events (stream = 'a', stream = 'b');")
	c.ErrorIs(err, types.ErrValidation)
}

func TestUpdate(t *testing.T) {
	c := require.New(t)
	e := setupEngine(t, fakedynamo.NewClient())
	seedEvents(t, e, 2)

	res := mustExecute(t, e, "UPDATE events SET n = n + 5, note = 'x' WHERE stream = 'a' AND seq = 1 RETURNS ALL NEW;")
	c.Equal(language.ActionUpdate, res.Action)
	c.EqualValues(1, res.Count)

	rows := records(t, res)
	c.Len(rows, 1)
	c.Equal("15", rows[0]["n"].Inspect())
	c.Equal("'x'", rows[0]["note"].Inspect())

	res = mustExecute(t, e, "UPDATE events SET n = 1 WHERE stream = 'a' AND seq = 7;")
	c.EqualValues(1, res.Count)
	c.Nil(res.Rows)

	res = mustExecute(t, e, "COUNT * FROM events WHERE stream = 'a';")
	c.EqualValues(3, res.Count)
}

func TestUpdateOperandTypes(t *testing.T) {
	c := require.New(t)
	ctx := context.Background()
	e := setupEngine(t, fakedynamo.NewClient())
	seedEvents(t, e, 1)

	plan := mustExecute(t, e, "EXPLAIN UPDATE events DELETE n 1 WHERE stream = 'a' AND seq = 1;").Plan
	c.Len(plan, 1)
	c.Contains(plan[0], "update=DELETE n 1")

	_, err := e.Execute(ctx, "UPDATE events DELETE n 1 WHERE stream = 'a' AND seq = 1;")
	c.ErrorIs(err, types.ErrValidation)

	_, err = e.Execute(ctx, "UPDATE events ADD kind 'x' WHERE stream = 'a' AND seq = 1;")
	c.ErrorIs(err, types.ErrValidation)

	res := mustExecute(t, e, "UPDATE events ADD n 5 WHERE stream = 'a' AND seq = 1 RETURNS UPDATED NEW;")
	c.Equal("15", records(t, res)[0]["n"].Inspect())
}

func TestUpdateNeedsKey(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())
	seedEvents(t, e, 1)

	for _, stmt := range []string{
		"UPDATE events SET n = 1 WHERE stream = 'a';",
		"UPDATE events SET n = 1 WHERE seq = 1;",
		"UPDATE events SET n = 1 WHERE stream = 'a' OR seq = 1;",
	} {
		_, err := e.Execute(context.Background(), stmt)
		assert.ErrorIs(t, err, types.ErrValidation, stmt)
	}
}

func TestConditionalWrites(t *testing.T) {
	c := require.New(t)
	e := setupEngine(t, fakedynamo.NewClient())
	seedEvents(t, e, 2)

	_, err := e.Execute(context.Background(), "UPDATE events SET n = 0 WHERE stream = 'a' AND seq = 1 AND n = 99;")
	c.ErrorIs(err, types.ErrConditionalCheckFailed)

	_, err = e.Execute(context.Background(), "DELETE FROM events WHERE stream = 'a' AND seq = 2 AND kind = 'odd';")
	c.ErrorIs(err, types.ErrConditionalCheckFailed)

	res := mustExecute(t, e, "DELETE FROM events WHERE stream = 'a' AND seq = 2 AND kind = 'even' RETURNS ALL OLD;")
	c.EqualValues(1, res.Count)

	rows := records(t, res)
	c.Len(rows, 1)
	c.Equal("20", rows[0]["n"].Inspect())

	res = mustExecute(t, e, "DELETE FROM events WHERE stream = 'a' AND seq = 2;")
	c.Zero(res.Count)
}

func TestUnknownTable(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())

	_, err := e.Execute(context.Background(), "SELECT * FROM nothing WHERE id = 'a';")
	require.ErrorIs(t, err, types.ErrSchema)

	_, err = e.Execute(context.Background(), "SELECT * FROM nothing USING 'idx';")
	require.ErrorIs(t, err, types.ErrSchema)
}

func TestUnknownIndex(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)

	_, err := e.Execute(context.Background(), "SELECT * FROM events WHERE stream = 'a' USING 'nope';")
	require.ErrorIs(t, err, types.ErrSchema)
}

func TestParseError(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())

	_, err := e.Execute(context.Background(), "SELEKT * FROM t;")
	require.ErrorIs(t, err, types.ErrParse)

	var perr *types.ParseError
	require.True(t, errors.As(err, &perr))
}

func TestPartialProgram(t *testing.T) {
	c := require.New(t)
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)

	res := mustExecute(t, e, "INSERT INTO events (stream, seq) VALUES ('a', 1); COUNT * FROM events WHERE stream = 'a'")
	c.True(res.Partial)
	c.EqualValues(1, res.Count)

	res = mustExecute(t, e, "  ")
	c.Nil(res.Rows)
	c.False(res.Partial)
}

func TestTimestampsAreFolded(t *testing.T) {
	c := require.New(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	e := setupEngine(t, fakedynamo.NewClient(), WithClock(func() time.Time { return now }))
	mustExecute(t, e, eventsTable)

	mustExecute(t, e, "INSERT INTO events (stream, seq, at) VALUES ('a', 1, now());")

	rows := records(t, mustExecute(t, e, "SELECT at FROM events WHERE stream = 'a' AND at = now();"))
	c.Len(rows, 1)
	c.Equal(fmt.Sprint(now.Unix()), strings.SplitN(rows[0]["at"].Inspect(), ".", 2)[0])
}
