package engine

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/fakedynamo"
)

const usersTable = "CREATE TABLE users (id STRING HASH KEY, THROUGHPUT (5, 5)) " +
	"GLOBAL INDEX ('by-email', email STRING, THROUGHPUT (1, 2)) " +
	"GLOBAL INCLUDE INDEX ('by-team', team STRING, joined NUMBER, ['name', 'role']);"

func TestDumpSchema(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)
	mustExecute(t, e, usersTable)

	res := mustExecute(t, e, "DUMP SCHEMA;")

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "dump_schema", []byte(res.Schema+"\n"))

	res = mustExecute(t, e, "DUMP SCHEMA users;")
	g.Assert(t, "dump_schema_users", []byte(res.Schema+"\n"))
}

func TestDumpSchemaRoundTrip(t *testing.T) {
	c := require.New(t)

	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)
	mustExecute(t, e, usersTable)
	mustExecute(t, e, "CREATE TABLE `odd-name` (`in` BINARY HASH KEY, r NUMBER RANGE KEY, "+
		"v STRING KEYS INDEX('v-index'), w NUMBER INCLUDE INDEX('w-index', ['x']));")

	first := mustExecute(t, e, "DUMP SCHEMA;").Schema

	replay := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, replay, first)

	second := mustExecute(t, replay, "DUMP SCHEMA;").Schema
	c.Equal(first, second)
}

func TestDumpUnknownTable(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())

	_, err := e.Execute(context.Background(), "DUMP SCHEMA missing;")
	assert.Error(t, err)
}

func TestDumpEmpty(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())

	res := mustExecute(t, e, "DUMP SCHEMA;")
	assert.Empty(t, res.Schema)
}
