package expressions

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

func buildUpdate(t *testing.T, input string) *Update {
	t.Helper()

	clauses, err := language.ParseUpdate(input)
	require.NoError(t, err, input)

	u, err := NewUpdate(clauses, testFold)
	require.NoError(t, err, input)

	return u
}

func TestUpdateRendering(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{
			"ADD foo 1 SET a = 1, b = b + 1 REMOVE c DELETE bar ('a',)",
			"SET a = 1, b = b + 1 REMOVE c ADD foo 1 DELETE bar ('a',)",
		},
		{"SET a = 1 + 2", "SET a = 3"},
		{"SET a = if_not_exists(a, 0) + 1", "SET a = if_not_exists(a, 0) + 1"},
		{"SET l = list_append(l, [1, 2])", "SET l = list_append(l, [1, 2])"},
		{"SET m.k[0] = now()", "SET m.k[0] = 1449273600"},
		{"REMOVE a, b.c[1]", "REMOVE a, b.c[1]"},
		{"ADD tags ('x', 'y'), n -1", "ADD tags ('x', 'y'), n -1"},
		{"DELETE foo 1, bar 2", "DELETE foo 1, bar 2"},
		{`ADD foo 1, bar "a"`, "ADD foo 1, bar 'a'"},
	}

	for _, tt := range tests {
		u := buildUpdate(t, tt.input)
		assert.Equal(t, tt.want, u.String(), tt.input)

		again := buildUpdate(t, u.String())
		if diff := cmp.Diff(u, again); diff != "" {
			t.Errorf("%q does not round trip (-first +second):\n%s", tt.input, diff)
		}
	}
}

func TestUpdateErrors(t *testing.T) {
	for _, input := range []string{
		"SET a = b + c + 1",
		"SET a = b * 2",
		"SET a = size(b)",
		"SET a = 1, a = 2",
		"SET a = list_append(b)",
	} {
		clauses, err := language.ParseUpdate(input)
		require.NoError(t, err, input)

		_, err = NewUpdate(clauses, testFold)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, types.ErrValidation, input)
	}
}

func TestUpdateBuilder(t *testing.T) {
	u := buildUpdate(t, "SET a = a + 1 REMOVE c ADD hits 1 DELETE tags ('x',)")

	expr, err := expression.NewBuilder().WithUpdate(u.Builder()).Build()
	require.NoError(t, err)

	update := *expr.Update()
	for _, verb := range []string{"SET ", "REMOVE ", "ADD ", "DELETE "} {
		assert.Contains(t, update, verb)
	}

	assert.Len(t, expr.Names(), 4)
	assert.Len(t, expr.Values(), 3)
	assert.ElementsMatch(t, []string{"a", "c", "hits", "tags"}, u.Fields())
}

func TestUpdateApply(t *testing.T) {
	env := NewEnvironment(types.Record{
		"a":    types.NewInteger(1),
		"c":    &types.String{Value: "x"},
		"tags": types.NewStringSet("a", "b"),
		"nums": types.NewNumberSet("1"),
		"l":    &types.List{Value: []types.Value{types.NewInteger(1)}},
	})

	u := buildUpdate(t, "SET a = a + 10, z = if_not_exists(z, 0), l = list_append(l, [2]) "+
		"REMOVE c ADD tags ('c',), hits 1 DELETE nums (1,)")
	require.NoError(t, u.Apply(env))

	want := types.Record{
		"a":    types.NewInteger(11),
		"z":    types.NewInteger(0),
		"l":    &types.List{Value: []types.Value{types.NewInteger(1), types.NewInteger(2)}},
		"tags": types.NewStringSet("a", "b", "c"),
		"hits": types.NewInteger(1),
	}

	require.Len(t, env.Record, len(want))

	for k, v := range want {
		assert.True(t, types.Equal(v, env.Record[k]), "%s = %s", k, env.Record[k].Inspect())
	}
}

func TestUpdateApplyUsesOriginalValues(t *testing.T) {
	env := NewEnvironment(types.Record{"a": types.NewInteger(1), "b": types.NewInteger(2)})

	require.NoError(t, buildUpdate(t, "SET a = b, b = a").Apply(env))
	assert.Equal(t, "2", env.Record["a"].Inspect())
	assert.Equal(t, "1", env.Record["b"].Inspect())
}

func TestUpdateApplyErrors(t *testing.T) {
	for _, input := range []string{
		"SET a = missing + 1",
		"SET a = s + 1",
		"ADD s 1",
		"ADD n 'x'",
		"DELETE missing 1",
		"SET x.y = 1",
	} {
		env := NewEnvironment(types.Record{"s": &types.String{Value: "str"}})

		err := buildUpdate(t, input).Apply(env)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, types.ErrValidation, input)
	}
}

func TestReturnValue(t *testing.T) {
	assert.Equal(t, ddbtypes.ReturnValueUpdatedNew, ReturnValue(language.ReturnsUpdatedNew))
	assert.Equal(t, ddbtypes.ReturnValueAllOld, ReturnValue(language.ReturnsAllOld))
	assert.Equal(t, ddbtypes.ReturnValueNone, ReturnValue(""))
}
