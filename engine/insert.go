package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/birdie-ai/golibs/slog"
	"golang.org/x/sync/errgroup"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

const batchSize = 25

type insertCommand struct {
	table string
	rows  []types.Record
}

// compileInsert folds every value, rows must have one value per attribute
func compileInsert(s *language.InsertStatement, fc *expressions.FoldContext) (command, error) {
	cmd := &insertCommand{table: s.Table}

	for i, row := range s.Rows {
		if len(row) != len(s.Attributes) {
			return nil, types.Validationf("row %d has %d values, expected %d", i+1, len(row), len(s.Attributes))
		}

		record := types.Record{}

		for j, exp := range row {
			v, err := fc.Fold(exp)
			if err != nil {
				return nil, err
			}

			record[s.Attributes[j]] = v
		}

		cmd.rows = append(cmd.rows, record)
	}

	for _, assignments := range s.Items {
		record := types.Record{}

		for _, a := range assignments {
			if _, ok := record[a.Name]; ok {
				return nil, types.Validationf("attribute %s is assigned twice", a.Name)
			}

			v, err := fc.Fold(a.Value)
			if err != nil {
				return nil, err
			}

			record[a.Name] = v
		}

		cmd.rows = append(cmd.rows, record)
	}

	return cmd, nil
}

// unique drops all but the last row written to each primary key. DynamoDB
// rejects a batch that holds two writes to the same item.
func unique(schema *TableSchema, items []types.Record) []types.Record {
	names := []string{schema.HashKey.Name}
	if schema.RangeKey != nil {
		names = append(names, schema.RangeKey.Name)
	}

	out := make([]types.Record, 0, len(items))
	positions := map[string]int{}

	for _, item := range items {
		key, ok := primaryKey(names, item)
		if !ok {
			out = append(out, item)

			continue
		}

		if i, seen := positions[key]; seen {
			out[i] = item

			continue
		}

		positions[key] = len(out)
		out = append(out, item)
	}

	return out
}

// primaryKey is false when the item misses a key attribute, the backend
// reports that
func primaryKey(names []string, item types.Record) (string, bool) {
	parts := make([]string, 0, len(names))

	for _, name := range names {
		v, ok := item[name]
		if !ok {
			return "", false
		}

		text := v.Inspect()
		if n, isNumber := v.(*types.Number); isNumber {
			if r, ok := n.Rat(); ok {
				text = r.RatString()
			}
		}

		parts = append(parts, string(v.Type())+":"+text)
	}

	return strings.Join(parts, "\x00"), true
}

func batches(items []types.Record) [][]ddbtypes.WriteRequest {
	var out [][]ddbtypes.WriteRequest

	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))

		batch := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			batch = append(batch, ddbtypes.WriteRequest{PutRequest: &ddbtypes.PutRequest{Item: item.ToItem()}})
		}

		out = append(out, batch)
	}

	return out
}

func (c *insertCommand) items(ctx context.Context, e *Engine) ([]types.Record, error) {
	schema, err := e.describe(ctx, c.table)
	if err != nil {
		return nil, err
	}

	return unique(schema, c.rows), nil
}

func (c *insertCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	items, err := c.items(ctx, e)
	if err != nil {
		return nil, err
	}

	return []string{fmt.Sprintf("BatchWriteItem %s items=%d batches=%d", c.table, len(items), len(batches(items)))}, nil
}

// run writes the batches in parallel, bounded by WriteConcurrency. Count is
// the number of distinct items written.
func (c *insertCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	items, err := c.items(ctx, e)
	if err != nil {
		return nil, err
	}

	var written atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.WriteConcurrency)

	for _, batch := range batches(items) {
		g.Go(func() error {
			if err := e.writeBatch(gctx, c.table, batch); err != nil {
				return err
			}

			written.Add(int64(len(batch)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.FromCtx(ctx).Debug("dql: insert failed", "table", c.table, "written", written.Load(), "error", err)

		return nil, err
	}

	return &Result{Table: c.table, Count: written.Load()}, nil
}

// writeBatch sends one batch and resends the unprocessed items within the
// write retry budget
func (e *Engine) writeBatch(ctx context.Context, table string, batch []ddbtypes.WriteRequest) error {
	policy := e.cfg.WriteRetry
	pending := batch
	sleepPeriod := policy.MinDelay

	for attempt := 1; ; attempt++ {
		out, err := invoke(ctx, e, "BatchWriteItem", policy, func(ctx context.Context) (*dynamodb.BatchWriteItemOutput, error) {
			return e.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems:           map[string][]ddbtypes.WriteRequest{table: pending},
				ReturnConsumedCapacity: ddbtypes.ReturnConsumedCapacityTotal,
			})
		})
		if err != nil {
			return err
		}

		for _, cc := range out.ConsumedCapacity {
			consumed(e, table, &cc)
		}

		pending = out.UnprocessedItems[table]
		if len(pending) == 0 {
			return nil
		}

		if attempt >= policy.Attempts {
			msg := fmt.Sprintf("%d items of %s still unprocessed after %d attempts", len(pending), table, attempt)

			return types.NewError(types.CodeThrottled, msg, nil)
		}

		e.metrics.retry("BatchWriteItem")
		slog.FromCtx(ctx).Debug("dql: resending unprocessed items", "table", table, "items", len(pending))

		e.sleep(ctx, addJitter(sleepPeriod, policy.Jitter))

		if err := ctx.Err(); err != nil {
			return err
		}

		sleepPeriod = min(sleepPeriod*2, policy.MaxDelay)
	}
}
