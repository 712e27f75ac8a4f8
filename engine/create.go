package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/birdie-ai/golibs/slog"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// definitions collects the attribute definitions of the key attributes in
// the order they are first seen
type definitions struct {
	order []string
	types map[string]string
}

func newDefinitions() *definitions {
	return &definitions{types: map[string]string{}}
}

func (d *definitions) add(name, typ string) error {
	if prev, ok := d.types[name]; ok {
		if prev != typ {
			return types.Validationf("attribute %s is declared as %s and %s", name,
				language.AttributeTypeName(prev), language.AttributeTypeName(typ))
		}

		return nil
	}

	d.types[name] = typ
	d.order = append(d.order, name)

	return nil
}

func (d *definitions) list() []ddbtypes.AttributeDefinition {
	out := make([]ddbtypes.AttributeDefinition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, ddbtypes.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: ddbtypes.ScalarAttributeType(d.types[name]),
		})
	}

	return out
}

func keySchema(hash, rangeKey string) []ddbtypes.KeySchemaElement {
	ks := []ddbtypes.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: ddbtypes.KeyTypeHash}}
	if rangeKey != "" {
		ks = append(ks, ddbtypes.KeySchemaElement{AttributeName: aws.String(rangeKey), KeyType: ddbtypes.KeyTypeRange})
	}

	return ks
}

func projection(kind string, include []string) *ddbtypes.Projection {
	p := &ddbtypes.Projection{ProjectionType: projectionTypes[kind]}
	if kind == language.ProjectionInclude {
		p.NonKeyAttributes = include
	}

	return p
}

// provisioned converts a declared throughput, both values are required
func provisioned(t *language.Throughput, what string) (*ddbtypes.ProvisionedThroughput, error) {
	if t.Read == nil || t.Write == nil {
		return nil, types.Validationf("THROUGHPUT of %s needs both values, * only keeps a current value in ALTER", what)
	}

	if *t.Read < 1 || *t.Write < 1 {
		return nil, types.Validationf("THROUGHPUT of %s must be at least 1", what)
	}

	return &ddbtypes.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(*t.Read),
		WriteCapacityUnits: aws.Int64(*t.Write),
	}, nil
}

// globalIndex builds a global index, key types come from the declaration or
// from known attributes. A nil throughput means on-demand.
func globalIndex(g *language.GlobalIndexDeclaration, known map[string]string, defs *definitions, throughput *ddbtypes.ProvisionedThroughput) (ddbtypes.GlobalSecondaryIndex, error) {
	gsi := ddbtypes.GlobalSecondaryIndex{
		IndexName:  aws.String(g.Name),
		KeySchema:  keySchema(g.HashKey, g.RangeKey),
		Projection: projection(g.Projection, g.Include),
	}

	keys := [][2]string{{g.HashKey, g.HashType}}
	if g.RangeKey != "" {
		keys = append(keys, [2]string{g.RangeKey, g.RangeType})
	}

	for _, k := range keys {
		typ := k[1]
		if typ == "" {
			typ = known[k[0]]
		}

		if typ == "" {
			return gsi, types.Validationf("global index %s needs the type of %s", g.Name, k[0])
		}

		if err := defs.add(k[0], typ); err != nil {
			return gsi, err
		}
	}

	switch {
	case g.Throughput != nil && throughput == nil:
		return gsi, types.Validationf("global index %s declares THROUGHPUT on an on-demand table", g.Name)
	case g.Throughput != nil:
		pt, err := provisioned(g.Throughput, "index "+g.Name)
		if err != nil {
			return gsi, err
		}

		gsi.ProvisionedThroughput = pt
	default:
		gsi.ProvisionedThroughput = throughput
	}

	return gsi, nil
}

type createCommand struct {
	stmt  *language.CreateStatement
	input *dynamodb.CreateTableInput
}

// compileCreate validates the declarations and builds the request. Only key
// attributes become attribute definitions.
func compileCreate(s *language.CreateStatement) (command, error) {
	input := &dynamodb.CreateTableInput{TableName: aws.String(s.Table)}
	defs := newDefinitions()
	declared := map[string]string{}

	var hash, rangeKey string

	for _, a := range s.Attributes {
		if _, ok := declared[a.Name]; ok {
			return nil, types.Validationf("attribute %s is declared twice", a.Name)
		}

		declared[a.Name] = a.Type

		switch a.Key {
		case language.KeyHash:
			if hash != "" {
				return nil, types.Validationf("table %s declares more than one HASH KEY", s.Table)
			}

			hash = a.Name
		case language.KeyRange:
			if rangeKey != "" {
				return nil, types.Validationf("table %s declares more than one RANGE KEY", s.Table)
			}

			rangeKey = a.Name
		}
	}

	if hash == "" {
		return nil, types.Validationf("table %s has no HASH KEY", s.Table)
	}

	if err := defs.add(hash, declared[hash]); err != nil {
		return nil, err
	}

	if rangeKey != "" {
		if err := defs.add(rangeKey, declared[rangeKey]); err != nil {
			return nil, err
		}
	}

	input.KeySchema = keySchema(hash, rangeKey)

	if s.Throughput == nil {
		input.BillingMode = ddbtypes.BillingModePayPerRequest
	} else {
		pt, err := provisioned(s.Throughput, "table "+s.Table)
		if err != nil {
			return nil, err
		}

		input.BillingMode = ddbtypes.BillingModeProvisioned
		input.ProvisionedThroughput = pt
	}

	indexNames := map[string]bool{}

	for _, a := range s.Attributes {
		if a.Index == nil {
			continue
		}

		if a.Key != "" {
			return nil, types.Validationf("local index %s cannot be on key attribute %s", a.Index.Name, a.Name)
		}

		if rangeKey == "" {
			return nil, types.Validationf("local index %s needs a table with a RANGE KEY", a.Index.Name)
		}

		if indexNames[a.Index.Name] {
			return nil, types.Validationf("index %s is declared twice", a.Index.Name)
		}

		indexNames[a.Index.Name] = true

		if err := defs.add(a.Name, a.Type); err != nil {
			return nil, err
		}

		input.LocalSecondaryIndexes = append(input.LocalSecondaryIndexes, ddbtypes.LocalSecondaryIndex{
			IndexName:  aws.String(a.Index.Name),
			KeySchema:  keySchema(hash, a.Name),
			Projection: projection(a.Index.Projection, a.Index.Include),
		})
	}

	for _, g := range s.GlobalIndexes {
		if indexNames[g.Name] {
			return nil, types.Validationf("index %s is declared twice", g.Name)
		}

		indexNames[g.Name] = true

		gsi, err := globalIndex(g, declared, defs, input.ProvisionedThroughput)
		if err != nil {
			return nil, err
		}

		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}

	input.AttributeDefinitions = defs.list()

	return &createCommand{stmt: s, input: input}, nil
}

func (c *createCommand) explain(context.Context, *Engine) ([]string, error) {
	line := fmt.Sprintf("CreateTable %s billing=%s lsi=%d gsi=%d", c.stmt.Table, c.input.BillingMode,
		len(c.input.LocalSecondaryIndexes), len(c.input.GlobalSecondaryIndexes))

	return []string{line, "DescribeTable " + c.stmt.Table + " until ACTIVE"}, nil
}

func (c *createCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	res := &Result{Table: c.stmt.Table}

	if c.stmt.IfNotExists {
		_, err := e.describe(ctx, c.stmt.Table)
		if err == nil {
			slog.FromCtx(ctx).Debug("dql: table already exists", "table", c.stmt.Table)

			return res, nil
		}

		if !types.HasCode(err, types.CodeSchema) {
			return nil, err
		}
	}

	e.schemas.invalidate(c.stmt.Table)

	_, err := invoke(ctx, e, "CreateTable", e.cfg.WriteRetry, func(ctx context.Context) (*dynamodb.CreateTableOutput, error) {
		return e.client.CreateTable(ctx, c.input)
	})
	if err != nil {
		var inUse *ddbtypes.ResourceInUseException
		if !errors.As(err, &inUse) {
			return nil, err
		}

		if !c.stmt.IfNotExists {
			return nil, types.NewError(types.CodeSchema, "table "+c.stmt.Table+" already exists", err)
		}
	}

	if err := e.waitExists(ctx, c.stmt.Table); err != nil {
		return nil, err
	}

	return res, nil
}

type dropCommand struct {
	stmt *language.DropStatement
}

func (c *dropCommand) explain(context.Context, *Engine) ([]string, error) {
	return []string{"DeleteTable " + c.stmt.Table, "DescribeTable " + c.stmt.Table + " until gone"}, nil
}

func (c *dropCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	e.schemas.invalidate(c.stmt.Table)

	_, err := invoke(ctx, e, "DeleteTable", e.cfg.WriteRetry, func(ctx context.Context) (*dynamodb.DeleteTableOutput, error) {
		return e.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(c.stmt.Table)})
	})
	if err != nil {
		if !types.HasCode(err, types.CodeSchema) {
			return nil, err
		}

		if !c.stmt.IfExists {
			return nil, types.NewError(types.CodeSchema, "unknown table "+c.stmt.Table, err)
		}

		return &Result{Table: c.stmt.Table}, nil
	}

	if err := e.waitNotExists(ctx, c.stmt.Table); err != nil {
		return nil, err
	}

	return &Result{Table: c.stmt.Table}, nil
}

// waitExists polls DescribeTable until the table is ACTIVE
func (e *Engine) waitExists(ctx context.Context, table string) error {
	w := dynamodb.NewTableExistsWaiter(e.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = e.cfg.Wait.MinDelay
		o.MaxDelay = e.cfg.Wait.MaxDelay
	})

	err := w.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, e.cfg.Wait.Timeout)
	e.schemas.invalidate(table)

	return e.waitResult(ctx, "ACTIVE", table, err)
}

// waitNotExists polls DescribeTable until the table is gone
func (e *Engine) waitNotExists(ctx context.Context, table string) error {
	w := dynamodb.NewTableNotExistsWaiter(e.client, func(o *dynamodb.TableNotExistsWaiterOptions) {
		o.MinDelay = e.cfg.Wait.MinDelay
		o.MaxDelay = e.cfg.Wait.MaxDelay
	})

	err := w.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, e.cfg.Wait.Timeout)
	e.schemas.invalidate(table)

	return e.waitResult(ctx, "deleted", table, err)
}

func (e *Engine) waitResult(ctx context.Context, state, table string, err error) error {
	log := slog.FromCtx(ctx)

	if err == nil {
		log.Debug("dql: table settled", "table", table, "state", state)

		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if types.HasCode(err, types.CodeSchema) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return classify("DescribeTable", err)
	}

	log.Debug("dql: table wait timed out", "table", table, "state", state, "timeout", e.cfg.Wait.Timeout)

	msg := fmt.Sprintf("table %s not %s after %s", table, state, e.cfg.Wait.Timeout)

	return types.NewError(types.CodeTimeout, msg, err)
}

// alterCommand changes one thing of an existing table. Index changes are
// not waited for.
type alterCommand struct {
	stmt *language.AlterStatement
}

func compileAlter(s *language.AlterStatement) (command, error) {
	if s.CreateIndex != nil && s.CreateIndex.Throughput != nil {
		if s.CreateIndex.Throughput.Read == nil || s.CreateIndex.Throughput.Write == nil {
			return nil, types.Validationf("THROUGHPUT of new index %s needs both values", s.CreateIndex.Name)
		}
	}

	return &alterCommand{stmt: s}, nil
}

func (c *alterCommand) input(ctx context.Context, e *Engine) (*dynamodb.UpdateTableInput, error) {
	e.schemas.invalidate(c.stmt.Table)

	schema, err := e.Describe(ctx, c.stmt.Table)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.UpdateTableInput{TableName: aws.String(c.stmt.Table)}
	s := c.stmt

	switch {
	case s.DropIndex != "":
		i, ok := schema.Index(s.DropIndex)
		if !ok || !i.Global {
			return nil, types.Schemaf("table %s has no global index %s", s.Table, s.DropIndex)
		}

		input.GlobalSecondaryIndexUpdates = []ddbtypes.GlobalSecondaryIndexUpdate{{
			Delete: &ddbtypes.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(s.DropIndex)},
		}}
	case s.CreateIndex != nil:
		if _, ok := schema.Index(s.CreateIndex.Name); ok {
			return nil, types.Validationf("table %s already has an index %s", s.Table, s.CreateIndex.Name)
		}

		var current *ddbtypes.ProvisionedThroughput
		if schema.Throughput != nil {
			current = &ddbtypes.ProvisionedThroughput{
				ReadCapacityUnits:  aws.Int64(schema.Throughput.Read),
				WriteCapacityUnits: aws.Int64(schema.Throughput.Write),
			}
		}

		defs := newDefinitions()

		gsi, err := globalIndex(s.CreateIndex, schema.Attributes, defs, current)
		if err != nil {
			return nil, err
		}

		input.AttributeDefinitions = defs.list()
		input.GlobalSecondaryIndexUpdates = []ddbtypes.GlobalSecondaryIndexUpdate{{
			Create: &ddbtypes.CreateGlobalSecondaryIndexAction{
				IndexName:             gsi.IndexName,
				KeySchema:             gsi.KeySchema,
				Projection:            gsi.Projection,
				ProvisionedThroughput: gsi.ProvisionedThroughput,
			},
		}}
	case s.Index != "":
		i, ok := schema.Index(s.Index)
		if !ok || !i.Global {
			return nil, types.Schemaf("table %s has no global index %s", s.Table, s.Index)
		}

		if i.Throughput == nil {
			return nil, types.Validationf("index %s of on-demand table %s has no throughput", s.Index, s.Table)
		}

		input.GlobalSecondaryIndexUpdates = []ddbtypes.GlobalSecondaryIndexUpdate{{
			Update: &ddbtypes.UpdateGlobalSecondaryIndexAction{
				IndexName:             aws.String(s.Index),
				ProvisionedThroughput: merge(s.Throughput, *i.Throughput),
			},
		}}
	default:
		current := Throughput{}
		if schema.Throughput != nil {
			current = *schema.Throughput
		} else if s.Throughput.Read == nil || s.Throughput.Write == nil {
			return nil, types.Validationf("on-demand table %s has no throughput for * to keep", s.Table)
		}

		input.BillingMode = ddbtypes.BillingModeProvisioned
		input.ProvisionedThroughput = merge(s.Throughput, current)
	}

	return input, nil
}

// merge fills the * members of t with the current values
func merge(t *language.Throughput, current Throughput) *ddbtypes.ProvisionedThroughput {
	pt := &ddbtypes.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(current.Read),
		WriteCapacityUnits: aws.Int64(current.Write),
	}

	if t.Read != nil {
		pt.ReadCapacityUnits = aws.Int64(*t.Read)
	}

	if t.Write != nil {
		pt.WriteCapacityUnits = aws.Int64(*t.Write)
	}

	return pt
}

func (c *alterCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	input, err := c.input(ctx, e)
	if err != nil {
		return nil, err
	}

	parts := []string{"UpdateTable " + c.stmt.Table}

	if pt := input.ProvisionedThroughput; pt != nil {
		parts = append(parts, fmt.Sprintf("throughput=%d,%d", aws.ToInt64(pt.ReadCapacityUnits), aws.ToInt64(pt.WriteCapacityUnits)))
	}

	for _, u := range input.GlobalSecondaryIndexUpdates {
		switch {
		case u.Create != nil:
			parts = append(parts, "create_index="+aws.ToString(u.Create.IndexName))
		case u.Delete != nil:
			parts = append(parts, "drop_index="+aws.ToString(u.Delete.IndexName))
		case u.Update != nil:
			pt := u.Update.ProvisionedThroughput
			parts = append(parts, fmt.Sprintf("index=%s throughput=%d,%d", aws.ToString(u.Update.IndexName),
				aws.ToInt64(pt.ReadCapacityUnits), aws.ToInt64(pt.WriteCapacityUnits)))
		}
	}

	return []string{strings.Join(parts, " ")}, nil
}

func (c *alterCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	input, err := c.input(ctx, e)
	if err != nil {
		return nil, err
	}

	defer e.schemas.invalidate(c.stmt.Table)

	_, err = invoke(ctx, e, "UpdateTable", e.cfg.WriteRetry, func(ctx context.Context) (*dynamodb.UpdateTableOutput, error) {
		return e.client.UpdateTable(ctx, input)
	})
	if err != nil {
		return nil, err
	}

	slog.FromCtx(ctx).Debug("dql: table altered", "table", c.stmt.Table, "statement", c.stmt.String())

	return &Result{Table: c.stmt.Table}, nil
}
