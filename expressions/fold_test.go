package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

func fold(t *testing.T, input string) (types.Value, error) {
	t.Helper()

	exp, err := language.ParseExpression(input)
	require.NoError(t, err, input)

	return testFold.Fold(exp)
}

func TestFoldTemporal(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{`utcts "2015-12-5" - interval "1y -2d 1month -3 weeks 8 day 2h 3ms 10us"`, 1416434399.99699},
		{"now()", 1449273600},
		{"now() + interval '1 day'", 1449360000},
		{"interval '1 day'", 86400},
		{"interval '1 month'", 31 * 86400},
		{"utcts('2015-12-06') - now()", 86400},
		{"ms(interval '1s')", 1000},
		{"ms(utcts('1970-01-01T00:00:01.5Z'))", 1500},
		{"utctimestamp(1449273600)", 1449273600},
		{"interval '20000 weeks'", 1.2096e10},
		{"now() - interval '20000 weeks'", 1449273600 - 1.2096e10},
		{"utcts('2015-12-05') - utcts('1600-01-01')", 1449273600 + 11676096000},
		{"utcts('1600-01-01') - utcts('2015-12-05')", -(1449273600 + 11676096000)},
	}

	for _, tt := range tests {
		v, err := fold(t, tt.input)
		require.NoError(t, err, tt.input)

		n, ok := v.(*types.Number)
		require.True(t, ok, "%s folded to %T", tt.input, v)
		assert.InDelta(t, tt.want, n.Float(), 1e-5, tt.input)
	}
}

func TestFoldValues(t *testing.T) {
	tests := []struct {
		input string
		want  types.Value
	}{
		{"1 + 2 * 3", types.NewInteger(7)},
		{"10 / 4", &types.Number{Text: "2.5"}},
		{"-(2 - 5)", types.NewInteger(3)},
		{"'abc'", &types.String{Value: "abc"}},
		{"(1, 2, 2)", types.NewNumberSet("1", "2")},
		{"()", types.NewStringSet()},
		{"(b'a',)", types.NewBinarySet([]byte("a"))},
		{"[1, 'a', null]", &types.List{Value: []types.Value{types.NewInteger(1), &types.String{Value: "a"}, &types.Null{}}}},
		{"{'k': true}", &types.Map{Value: map[string]types.Value{"k": &types.Boolean{Value: true}}}},
	}

	for _, tt := range tests {
		v, err := fold(t, tt.input)
		require.NoError(t, err, tt.input)
		assert.True(t, types.Equal(tt.want, v), "%s folded to %s", tt.input, v.Inspect())
	}
}

func TestFoldErrors(t *testing.T) {
	for _, input := range []string{
		"1 / 0",
		"'a' + 1",
		"a + 1",
		"(1, 'a')",
		"interval 'fortnight'",
		"interval '9223372036854775807 weeks'",
		"utcts('not a date')",
		"now(1)",
		"now() + now()",
	} {
		_, err := fold(t, input)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, types.ErrValidation, input)
	}
}

func TestIsConstant(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1 + 2", true},
		{"now() - interval '1d'", true},
		{"[1, (2,)]", true},
		{"a", false},
		{"a.b", false},
		{"1 + a", false},
		{"size(a)", false},
		{"[1, a]", false},
	}

	for _, tt := range tests {
		exp, err := language.ParseExpression(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, IsConstant(exp), tt.input)
	}
}
