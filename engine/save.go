package engine

import (
	"context"
	"fmt"

	"github.com/birdie-ai/golibs/slog"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// saveCommand drains the rows of a SELECT or SCAN into a file
type saveCommand struct {
	read   command
	table  string
	file   string
	format fileFormat
}

func newSaveCommand(read command, table, file string) (command, error) {
	format, err := formatOf(file)
	if err != nil {
		return nil, err
	}

	return &saveCommand{read: read, table: table, file: file, format: format}, nil
}

func (c *saveCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	plan, err := c.read.explain(ctx, e)
	if err != nil {
		return nil, err
	}

	return append(plan, fmt.Sprintf("Save %s format=%s", c.file, c.format)), nil
}

// run reads every row before the file is created, a failed read leaves no
// file behind
func (c *saveCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	res, err := c.read.run(ctx, e)
	if err != nil {
		return nil, err
	}

	defer res.Rows.Close()

	records, err := res.Rows.All()
	if err != nil {
		return nil, err
	}

	if err := c.format.writeRecords(c.file, records); err != nil {
		return nil, fmt.Errorf("saving %s: %w", c.file, err)
	}

	slog.FromCtx(ctx).Debug("dql: rows saved", "table", c.table, "file", c.file, "items", len(records))

	return &Result{Table: c.table, File: c.file, Count: int64(len(records))}, nil
}

// loadCommand inserts the items of a file written by SAVE
type loadCommand struct {
	table  string
	file   string
	format fileFormat
	fc     *expressions.FoldContext
}

func compileLoad(s *language.LoadStatement, fc *expressions.FoldContext) (command, error) {
	format, err := formatOf(s.File)
	if err != nil {
		return nil, err
	}

	return &loadCommand{table: s.Table, file: s.File, format: format, fc: fc}, nil
}

func (c *loadCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	if _, err := e.describe(ctx, c.table); err != nil {
		return nil, err
	}

	return []string{fmt.Sprintf("Load %s format=%s", c.file, c.format), "BatchWriteItem " + c.table}, nil
}

func (c *loadCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	records, err := c.format.readRecords(c.file, c.fc)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "loading "+c.file, err)
	}

	slog.FromCtx(ctx).Debug("dql: loading items", "table", c.table, "file", c.file, "items", len(records))

	res, err := (&insertCommand{table: c.table, rows: records}).run(ctx, e)
	if err != nil {
		return nil, err
	}

	res.File = c.file

	return res, nil
}
