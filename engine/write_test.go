package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/fakedynamo"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

func TestSplitKey(t *testing.T) {
	e := setupEngine(t, fakedynamo.NewClient())
	mustExecute(t, e, eventsTable)

	schema, err := e.Describe(context.Background(), "events")
	require.NoError(t, err)

	tests := []struct {
		where     string
		key       string
		condition string
	}{
		{"stream = 'a' AND seq = 1", "{'seq': 1, 'stream': 'a'}", ""},
		{"seq = 2 AND n > 3 AND stream = 'b'", "{'seq': 2, 'stream': 'b'}", "n > 3"},
		{"stream = 'a' AND seq = 1 AND seq = 2", "{'seq': 1, 'stream': 'a'}", "seq = 2"},
		{"stream = 'a' AND seq = n AND seq = 3", "{'seq': 3, 'stream': 'a'}", "seq = n"},
	}

	for _, tt := range tests {
		exp, err := language.ParseExpression(tt.where)
		require.NoError(t, err, tt.where)

		c, err := where(exp, expressions.NewFoldContext(time.Now(), nil))
		require.NoError(t, err, tt.where)

		target, err := splitKey(schema, c)
		require.NoError(t, err, tt.where)
		assert.Equal(t, tt.key, (&types.Map{Value: target.key}).Inspect(), tt.where)

		if tt.condition == "" {
			assert.Nil(t, target.condition, tt.where)
		} else {
			assert.Equal(t, tt.condition, target.condition.String(), tt.where)
		}
	}
}
