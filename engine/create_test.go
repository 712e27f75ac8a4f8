package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/fakedynamo"
	"github.com/jspreddy/dql/types"
)

func TestCreateValidation(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())

	tests := map[string]string{
		"no hash key":          "CREATE TABLE t (a STRING RANGE KEY);",
		"two hash keys":        "CREATE TABLE t (a STRING HASH KEY, b STRING HASH KEY);",
		"two range keys":       "CREATE TABLE t (a STRING HASH KEY, b STRING RANGE KEY, c STRING RANGE KEY);",
		"attribute twice":      "CREATE TABLE t (a STRING HASH KEY, a NUMBER);",
		"local without range":  "CREATE TABLE t (a STRING HASH KEY, b STRING INDEX('bi'));",
		"index twice":          "CREATE TABLE t (a STRING HASH KEY, r STRING RANGE KEY, b STRING INDEX('x')) GLOBAL INDEX ('x', c STRING);",
		"untyped global key":   "CREATE TABLE t (a STRING HASH KEY) GLOBAL INDEX ('g', c);",
		"star throughput":      "CREATE TABLE t (a STRING HASH KEY, THROUGHPUT (*, 1));",
		"global on on-demand":  "CREATE TABLE t (a STRING HASH KEY) GLOBAL INDEX ('g', c STRING, THROUGHPUT (1, 1));",
		"conflicting key type": "CREATE TABLE t (a STRING HASH KEY) GLOBAL INDEX ('g', a NUMBER);",
	}

	for name, stmt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := e.Execute(context.Background(), stmt)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestCreateTable(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient(fakedynamo.WithSettleDescribes(2))
	e := setupEngine(t, client)

	mustExecute(t, e, "CREATE TABLE users (id STRING HASH KEY, THROUGHPUT (5, 5)) "+
		"GLOBAL KEYS INDEX ('by-email', email STRING) GLOBAL INCLUDE INDEX ('by-team', team STRING, age NUMBER, ['name'], THROUGHPUT (1, 2));")
	c.Equal(3, client.Calls("DescribeTable"))

	schema, err := e.Describe(context.Background(), "users")
	c.NoError(err)
	c.Equal("ACTIVE", schema.Status)
	c.Equal(KeyAttribute{Name: "id", Type: "S"}, schema.HashKey)
	c.Nil(schema.RangeKey)
	c.Equal(&Throughput{Read: 5, Write: 5}, schema.Throughput)
	c.Len(schema.GlobalIndexes, 2)

	email, ok := schema.Index("by-email")
	c.True(ok)
	c.Equal("KEYS", email.Projection)
	c.Equal(&Throughput{Read: 5, Write: 5}, email.Throughput)

	team, ok := schema.Index("by-team")
	c.True(ok)
	c.Equal("INCLUDE", team.Projection)
	c.Equal([]string{"name"}, team.Include)
	c.Equal(&KeyAttribute{Name: "age", Type: "N"}, team.RangeKey)
	c.Equal(&Throughput{Read: 1, Write: 2}, team.Throughput)
}

func TestCreateIfNotExists(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)

	mustExecute(t, e, eventsTable)
	mustExecute(t, e, "CREATE TABLE IF NOT EXISTS events (stream STRING HASH KEY);")
	c.Equal(1, client.Calls("CreateTable"))

	_, err := e.Execute(context.Background(), eventsTable)
	c.ErrorIs(err, types.ErrSchema)
}

func TestCreateWaitTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Wait = WaitConfig{MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Timeout: 30 * time.Millisecond}

	client := fakedynamo.NewClient(fakedynamo.WithSettleDescribes(-1))
	e := setupEngine(t, client, WithConfig(cfg))

	_, err := e.Execute(context.Background(), eventsTable)
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.Greater(t, client.Calls("DescribeTable"), 1)
}

func TestCreateCancelled(t *testing.T) {
	client := fakedynamo.NewClient(fakedynamo.WithSettleDescribes(-1))
	e := setupEngine(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, eventsTable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropTable(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient(fakedynamo.WithSettleDescribes(1))
	e := setupEngine(t, client)

	mustExecute(t, e, eventsTable)
	_, err := e.Describe(context.Background(), "events")
	c.NoError(err)

	mustExecute(t, e, "DROP TABLE events;")

	_, err = e.Describe(context.Background(), "events")
	c.ErrorIs(err, types.ErrSchema)

	mustExecute(t, e, "DROP TABLE IF EXISTS events;")

	_, err = e.Execute(context.Background(), "DROP TABLE events;")
	c.ErrorIs(err, types.ErrSchema)
}

func TestAlterTable(t *testing.T) {
	c := require.New(t)
	ctx := context.Background()
	e := setupEngine(t, fakedynamo.NewClient())

	mustExecute(t, e, "CREATE TABLE t (id STRING HASH KEY, THROUGHPUT (5, 5)) GLOBAL INDEX ('g', g STRING, THROUGHPUT (1, 2));")

	mustExecute(t, e, "ALTER TABLE t SET THROUGHPUT (7, *);")
	schema, err := e.Describe(ctx, "t")
	c.NoError(err)
	c.Equal(&Throughput{Read: 7, Write: 5}, schema.Throughput)

	mustExecute(t, e, "ALTER TABLE t SET INDEX g THROUGHPUT (*, 9);")
	schema, err = e.Describe(ctx, "t")
	c.NoError(err)

	g, ok := schema.Index("g")
	c.True(ok)
	c.Equal(&Throughput{Read: 1, Write: 9}, g.Throughput)

	mustExecute(t, e, "ALTER TABLE t CREATE GLOBAL INDEX ('h', h NUMBER);")
	schema, err = e.Describe(ctx, "t")
	c.NoError(err)

	h, ok := schema.Index("h")
	c.True(ok)
	c.Equal(KeyAttribute{Name: "h", Type: "N"}, h.HashKey)
	c.Equal(&Throughput{Read: 7, Write: 5}, h.Throughput)

	mustExecute(t, e, "ALTER TABLE t DROP INDEX 'g';")
	schema, err = e.Describe(ctx, "t")
	c.NoError(err)

	_, ok = schema.Index("g")
	c.False(ok)

	_, err = e.Execute(ctx, "ALTER TABLE t DROP INDEX 'g';")
	c.ErrorIs(err, types.ErrSchema)

	_, err = e.Execute(ctx, "ALTER TABLE t CREATE GLOBAL INDEX ('h', x STRING);")
	c.ErrorIs(err, types.ErrValidation)
}

func TestAlterOnDemand(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)

	_, err := e.Execute(context.Background(), "ALTER TABLE events SET THROUGHPUT (*, 1);")
	require.ErrorIs(t, err, types.ErrValidation)

	mustExecute(t, e, "ALTER TABLE events SET THROUGHPUT (2, 3);")

	schema, err := e.Describe(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, &Throughput{Read: 2, Write: 3}, schema.Throughput)
}
