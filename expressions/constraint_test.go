package expressions

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

var testFold = NewFoldContext(time.Date(2015, 12, 5, 0, 0, 0, 0, time.UTC), nil)

func buildConstraint(t *testing.T, input string) Constraint {
	t.Helper()

	exp, err := language.ParseExpression(input)
	require.NoError(t, err, input)

	c, err := NewConstraint(exp, testFold)
	require.NoError(t, err, input)

	return c
}

func TestConstraintRendering(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a = 1", "a = 1"},
		{"1 < a", "a > 1"},
		{"'x' <> name", "name <> 'x'"},
		{"(a = 1 AND b = 2) AND c = 3", "a = 1 AND b = 2 AND c = 3"},
		{"a = 1 AND (b = 2 AND c = 3)", "a = 1 AND b = 2 AND c = 3"},
		{"a = 1 OR (b = 2 AND c > 'x')", "a = 1 OR (b = 2 AND c > 'x')"},
		{"NOT (a = 1 OR b = 2)", "NOT (a = 1 OR b = 2)"},
		{"NOT a = 1", "NOT a = 1"},
		{"a BETWEEN 1 AND 5 AND b IN (1, 2)", "a BETWEEN 1 AND 5 AND b IN (1, 2)"},
		{"begins_with(name, 'x') AND attribute_not_exists(z)", "begins_with(name, 'x') AND attribute_not_exists(z)"},
		{"attribute_type(a, 'n')", "attribute_type(a, 'N')"},
		{"attribute_type(foo, N)", "attribute_type(foo, 'N')"},
		{"attribute_type(foo, ss)", "attribute_type(foo, 'SS')"},
		{"attribute_type(foo, BOOL)", "attribute_type(foo, 'BOOL')"},
		{"attribute_type(foo, NULL)", "attribute_type(foo, 'NULL')"},
		{"3 < size(tags)", "size(tags) > 3"},
		{"contains(tags, 'a')", "contains(tags, 'a')"},
		{"foo.bar[2] <> -5", "foo.bar[2] <> -5"},
		{"`and` = 1", "`and` = 1"},
		{"a = b", "a = b"},
		{"created > utcts '2015-12-05'", "created > 1449273600"},
		{"created > now() - interval '1 day'", "created > 1449187200"},
		{"tags = ('a',)", "tags = ('a',)"},
	}

	for _, tt := range tests {
		c := buildConstraint(t, tt.input)
		assert.Equal(t, tt.want, c.String(), tt.input)

		again := buildConstraint(t, c.String())
		if diff := cmp.Diff(c, again); diff != "" {
			t.Errorf("%q does not round trip (-first +second):\n%s", tt.input, diff)
		}
	}
}

func TestConstraintFlattening(t *testing.T) {
	c := buildConstraint(t, "a = 1 AND (b = 2 AND (c = 3 AND d = 4)) AND (e = 5 OR f = 6)")

	conj, ok := c.(*Conjunction)
	require.True(t, ok)
	assert.True(t, conj.And)
	require.Len(t, conj.Children, 5)
	assert.Equal(t, KindConjunction, conj.Children[4].Kind())
	assert.Len(t, Conjuncts(c), 5)
}

func TestMixedAndOrRequiresParentheses(t *testing.T) {
	for _, input := range []string{
		"a = 1 AND b = 2 OR c = 3",
		"a = 1 OR b = 2 AND c = 3",
		"NOT (a = 1 OR b = 2 AND c = 3)",
	} {
		exp, err := language.ParseExpression(input)
		require.NoError(t, err)

		_, err = NewConstraint(exp, testFold)
		require.Error(t, err, input)
		assert.True(t, types.HasCode(err, types.CodeValidation), input)
	}

	buildConstraint(t, "(a = 1 AND b = 2) OR c = 3")
}

func TestConstraintErrors(t *testing.T) {
	for _, input := range []string{
		"1 = 2",
		"a + 1 = 2",
		"foo(a)",
		"a",
		"attribute_type(a, 'X')",
		"attribute_type(a, X)",
		"attribute_type(a, 1)",
		"begins_with(a)",
		"1 BETWEEN a AND 2",
	} {
		exp, err := language.ParseExpression(input)
		require.NoError(t, err, input)

		_, err = NewConstraint(exp, testFold)
		require.Error(t, err, input)
		assert.ErrorIs(t, err, types.ErrValidation, input)
	}
}

func TestConstraintCondition(t *testing.T) {
	c := buildConstraint(t, "a = 1 AND b < 2")

	cond, err := c.Condition()
	require.NoError(t, err)

	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	require.NoError(t, err)

	assert.Equal(t, "(#0 = :0) AND (#1 < :1)", *expr.Condition())
	assert.Equal(t, map[string]string{"#0": "a", "#1": "b"}, expr.Names())
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "1"}, expr.Values()[":0"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "2"}, expr.Values()[":1"])
}

func TestConstraintConditionKinds(t *testing.T) {
	for _, input := range []string{
		"a BETWEEN 1 AND 5",
		"a IN (1, 2, 3)",
		"begins_with(a, 'x')",
		"contains(tags, 'x')",
		"attribute_exists(a.b[1])",
		"attribute_type(a, 'SS')",
		"size(a) >= 2",
		"NOT (a = 1 OR b <> 2)",
	} {
		cond, err := buildConstraint(t, input).Condition()
		require.NoError(t, err, input)

		_, err = expression.NewBuilder().WithCondition(cond).Build()
		require.NoError(t, err, input)
	}

	_, err := buildConstraint(t, "begins_with(a, 1)").Condition()
	assert.Error(t, err)
}

func TestPushable(t *testing.T) {
	caps := DefaultCapabilities()

	assert.True(t, caps.Pushable(buildConstraint(t, "a = 1 AND begins_with(b, 'x')")))
	assert.False(t, caps.Pushable(buildConstraint(t, "a = 1 AND begins_with(b, 1)")))
	assert.False(t, caps.Pushable(buildConstraint(t, "NOT contains(b, 2)")))

	delete(caps, KindSize)
	assert.False(t, caps.Pushable(buildConstraint(t, "size(a) > 1")))
}

func TestConstraintMatch(t *testing.T) {
	env := NewEnvironment(types.Record{
		"id":   &types.String{Value: "abc"},
		"n":    types.NewInteger(5),
		"tags": types.NewStringSet("x", "y"),
		"nums": types.NewNumberSet("1", "2.5"),
		"m": &types.Map{Value: map[string]types.Value{
			"k": &types.List{Value: []types.Value{types.NewInteger(1), types.NewInteger(2)}},
		}},
	})

	tests := []struct {
		input string
		want  bool
	}{
		{"n = 5", true},
		{"n = 5.0", true},
		{"n <> 5", false},
		{"missing = 1", false},
		{"missing <> 1", true},
		{"missing < 1", false},
		{"n BETWEEN 1 AND 5", true},
		{"n BETWEEN 6 AND 9", false},
		{"n IN (1, 2)", false},
		{"id IN ('x', 'abc')", true},
		{"begins_with(id, 'ab')", true},
		{"begins_with(id, 'b')", false},
		{"contains(id, 'bc')", true},
		{"contains(tags, 'y')", true},
		{"contains(nums, 2.50)", true},
		{"contains(m.k, 2)", true},
		{"size(tags) = 2", true},
		{"size(id) > 3", false},
		{"m.k[1] = 2", true},
		{"m.k[5] = 2", false},
		{"attribute_type(n, 'N')", true},
		{"attribute_type(n, 'S')", false},
		{"attribute_type(n, N)", true},
		{"attribute_type(tags, SS)", true},
		{"attribute_exists(m.k)", true},
		{"attribute_not_exists(zz)", true},
		{"NOT n > 4", false},
		{"n > 10 OR id = 'abc'", true},
		{"n > 1 AND id = 'x'", false},
		{"n < 'x'", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, buildConstraint(t, tt.input).Match(env), tt.input)
	}
}

func TestJoinAndFields(t *testing.T) {
	a := buildConstraint(t, "a = 1")
	b := buildConstraint(t, "b = 2 AND a > 0")

	assert.Nil(t, Join(true, nil))
	assert.Same(t, a, Join(true, []Constraint{a}))

	joined := Join(true, []Constraint{a, b})
	assert.Equal(t, "a = 1 AND b = 2 AND a > 0", joined.String())
	assert.Equal(t, []string{"a", "b"}, UniqueFields(joined))

	assert.Equal(t, "a = 1 OR (b = 2 AND a > 0)", Join(false, []Constraint{a, b}).String())
}
