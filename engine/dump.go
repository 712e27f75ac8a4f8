package engine

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jspreddy/dql/language"
)

// dumpCommand renders the CREATE TABLE statements of existing tables
type dumpCommand struct {
	tables []string
}

func (c *dumpCommand) explain(context.Context, *Engine) ([]string, error) {
	if len(c.tables) == 0 {
		return []string{"ListTables", "DescribeTable *"}, nil
	}

	return []string{"DescribeTable " + strings.Join(c.tables, ", ")}, nil
}

func (c *dumpCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	names := c.tables

	if len(names) == 0 {
		var err error

		names, err = e.listTables(ctx)
		if err != nil {
			return nil, err
		}
	}

	statements := make([]string, 0, len(names))

	for _, name := range names {
		schema, err := e.Describe(ctx, name)
		if err != nil {
			return nil, err
		}

		statements = append(statements, schema.Statement().String()+";")
	}

	return &Result{Schema: strings.Join(statements, "\n")}, nil
}

// listTables follows ListTables pagination
func (e *Engine) listTables(ctx context.Context) ([]string, error) {
	var (
		names []string
		start *string
	)

	for {
		out, err := invoke(ctx, e, "ListTables", e.cfg.ReadRetry, func(ctx context.Context) (*dynamodb.ListTablesOutput, error) {
			return e.client.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		})
		if err != nil {
			return nil, err
		}

		names = append(names, out.TableNames...)

		if aws.ToString(out.LastEvaluatedTableName) == "" {
			return names, nil
		}

		start = out.LastEvaluatedTableName
	}
}

func declaredThroughput(t *Throughput) *language.Throughput {
	if t == nil {
		return nil
	}

	return &language.Throughput{Read: aws.Int64(t.Read), Write: aws.Int64(t.Write)}
}

// Statement returns the CREATE TABLE statement that recreates the table.
// Attributes that are not part of any key are not known and not declared.
func (s *TableSchema) Statement() *language.CreateStatement {
	stmt := &language.CreateStatement{
		Table:      s.Name,
		Throughput: declaredThroughput(s.Throughput),
	}

	stmt.Attributes = append(stmt.Attributes, &language.AttributeDeclaration{
		Name: s.HashKey.Name,
		Type: s.HashKey.Type,
		Key:  language.KeyHash,
	})

	if s.RangeKey != nil {
		stmt.Attributes = append(stmt.Attributes, &language.AttributeDeclaration{
			Name: s.RangeKey.Name,
			Type: s.RangeKey.Type,
			Key:  language.KeyRange,
		})
	}

	for _, i := range s.LocalIndexes {
		if i.RangeKey == nil {
			continue
		}

		stmt.Attributes = append(stmt.Attributes, &language.AttributeDeclaration{
			Name: i.RangeKey.Name,
			Type: i.RangeKey.Type,
			Index: &language.LocalIndexDeclaration{
				Name:       i.Name,
				Projection: i.Projection,
				Include:    i.Include,
			},
		})
	}

	for _, i := range s.GlobalIndexes {
		g := &language.GlobalIndexDeclaration{
			Name:       i.Name,
			Projection: i.Projection,
			Include:    i.Include,
			HashKey:    i.HashKey.Name,
			HashType:   i.HashKey.Type,
			Throughput: declaredThroughput(i.Throughput),
		}

		if i.RangeKey != nil {
			g.RangeKey = i.RangeKey.Name
			g.RangeType = i.RangeKey.Type
		}

		stmt.GlobalIndexes = append(stmt.GlobalIndexes, g)
	}

	return stmt
}
