package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

func TestSelectionEval(t *testing.T) {
	items, err := language.ParseSelection("a, b + 1 AS c, b * 2, missing, utcts(a) AS t, m.k")
	require.NoError(t, err)

	sel, err := NewSelection(items, testFold)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "missing", "m"}, sel.Names())

	env := NewEnvironment(types.Record{
		"a": types.NewInteger(1),
		"b": types.NewInteger(2),
		"m": &types.Map{Value: map[string]types.Value{"k": &types.String{Value: "v"}}},
		"x": &types.String{Value: "not selected"},
	})

	got, err := sel.Eval(env)
	require.NoError(t, err)

	want := types.Record{
		"a":     types.NewInteger(1),
		"c":     types.NewInteger(3),
		"b * 2": types.NewInteger(4),
		"t":     &types.String{Value: "1970-01-01T00:00:01Z"},
		"m.k":   &types.String{Value: "v"},
	}

	require.Len(t, got, len(want))

	for k, v := range want {
		assert.True(t, types.Equal(v, got[k]), "%s = %v", k, got[k])
	}
}

func TestSelectionStar(t *testing.T) {
	sel, err := NewSelection(nil, testFold)
	require.NoError(t, err)
	assert.Nil(t, sel)
	assert.Nil(t, sel.Names())
	assert.Equal(t, "*", sel.String())

	record := types.Record{"a": types.NewInteger(1)}

	got, err := sel.Eval(NewEnvironment(record))
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestSelectionString(t *testing.T) {
	items, err := language.ParseSelection("a, b + 1 AS total, `in`")
	require.NoError(t, err)

	sel, err := NewSelection(items, testFold)
	require.NoError(t, err)

	assert.Equal(t, "a, (b + 1) AS total, `in`", sel.String())
}

func TestSelectionErrors(t *testing.T) {
	for _, input := range []string{
		"a, a",
		"foo(a)",
		"a = 1",
		"NOT a",
	} {
		items, err := language.ParseSelection(input)
		require.NoError(t, err, input)

		_, err = NewSelection(items, testFold)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, types.ErrValidation, input)
	}
}
