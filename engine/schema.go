package engine

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// KeyAttribute is a key attribute with its type code (S, N or B)
type KeyAttribute struct {
	Name string
	Type string
}

// Throughput is provisioned read and write capacity
type Throughput struct {
	Read  int64
	Write int64
}

// IndexSchema describes a local or global secondary index
type IndexSchema struct {
	Name     string
	Global   bool
	HashKey  KeyAttribute
	RangeKey *KeyAttribute
	// Projection is ALL, KEYS or INCLUDE
	Projection string
	Include    []string
	// Throughput is nil for local indexes and on-demand tables
	Throughput *Throughput
	Status     string
	ItemCount  int64
}

// TableSchema is the live schema of a table
type TableSchema struct {
	Name     string
	HashKey  KeyAttribute
	RangeKey *KeyAttribute
	// Attributes maps every declared attribute to its type code
	Attributes    map[string]string
	LocalIndexes  []*IndexSchema
	GlobalIndexes []*IndexSchema
	// Throughput is nil for on-demand tables
	Throughput *Throughput
	Status     string
	ItemCount  int64
	SizeBytes  int64
}

// Index returns the local or global index with the given name
func (s *TableSchema) Index(name string) (*IndexSchema, bool) {
	for _, i := range s.LocalIndexes {
		if i.Name == name {
			return i, true
		}
	}

	for _, i := range s.GlobalIndexes {
		if i.Name == name {
			return i, true
		}
	}

	return nil, false
}

// OnDemand reports whether the table uses pay per request billing
func (s *TableSchema) OnDemand() bool { return s.Throughput == nil }

var projectionNames = map[ddbtypes.ProjectionType]string{
	ddbtypes.ProjectionTypeAll:      language.ProjectionAll,
	ddbtypes.ProjectionTypeKeysOnly: language.ProjectionKeys,
	ddbtypes.ProjectionTypeInclude:  language.ProjectionInclude,
}

var projectionTypes = map[string]ddbtypes.ProjectionType{
	language.ProjectionAll:     ddbtypes.ProjectionTypeAll,
	language.ProjectionKeys:    ddbtypes.ProjectionTypeKeysOnly,
	language.ProjectionInclude: ddbtypes.ProjectionTypeInclude,
}

func newTableSchema(desc *ddbtypes.TableDescription) *TableSchema {
	s := &TableSchema{
		Name:       aws.ToString(desc.TableName),
		Attributes: map[string]string{},
		Status:     string(desc.TableStatus),
		ItemCount:  aws.ToInt64(desc.ItemCount),
		SizeBytes:  aws.ToInt64(desc.TableSizeBytes),
	}

	for _, attr := range desc.AttributeDefinitions {
		s.Attributes[aws.ToString(attr.AttributeName)] = string(attr.AttributeType)
	}

	s.HashKey, s.RangeKey = s.keys(desc.KeySchema)

	onDemand := desc.BillingModeSummary != nil && desc.BillingModeSummary.BillingMode == ddbtypes.BillingModePayPerRequest
	if !onDemand {
		s.Throughput = throughputFrom(desc.ProvisionedThroughput)
	}

	for _, lsi := range desc.LocalSecondaryIndexes {
		i := &IndexSchema{
			Name:      aws.ToString(lsi.IndexName),
			ItemCount: aws.ToInt64(lsi.ItemCount),
		}

		i.HashKey, i.RangeKey = s.keys(lsi.KeySchema)
		i.Projection, i.Include = projectionFrom(lsi.Projection)
		s.LocalIndexes = append(s.LocalIndexes, i)
	}

	for _, gsi := range desc.GlobalSecondaryIndexes {
		i := &IndexSchema{
			Name:      aws.ToString(gsi.IndexName),
			Global:    true,
			Status:    string(gsi.IndexStatus),
			ItemCount: aws.ToInt64(gsi.ItemCount),
		}

		i.HashKey, i.RangeKey = s.keys(gsi.KeySchema)
		i.Projection, i.Include = projectionFrom(gsi.Projection)

		if !onDemand {
			i.Throughput = throughputFrom(gsi.ProvisionedThroughput)
		}

		s.GlobalIndexes = append(s.GlobalIndexes, i)
	}

	return s
}

func (s *TableSchema) keys(schema []ddbtypes.KeySchemaElement) (KeyAttribute, *KeyAttribute) {
	var (
		hash KeyAttribute
		rng  *KeyAttribute
	)

	for _, element := range schema {
		name := aws.ToString(element.AttributeName)
		attr := KeyAttribute{Name: name, Type: s.Attributes[name]}

		if element.KeyType == ddbtypes.KeyTypeHash {
			hash = attr

			continue
		}

		rng = &attr
	}

	return hash, rng
}

func throughputFrom(pt *ddbtypes.ProvisionedThroughputDescription) *Throughput {
	if pt == nil {
		return &Throughput{}
	}

	return &Throughput{
		Read:  aws.ToInt64(pt.ReadCapacityUnits),
		Write: aws.ToInt64(pt.WriteCapacityUnits),
	}
}

func projectionFrom(p *ddbtypes.Projection) (string, []string) {
	if p == nil {
		return language.ProjectionAll, nil
	}

	return projectionNames[p.ProjectionType], p.NonKeyAttributes
}

// schemaCache holds described tables until a statement changes them. The
// lock is never held while calling DynamoDB.
type schemaCache struct {
	mu     sync.Mutex
	tables map[string]*TableSchema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{tables: map[string]*TableSchema{}}
}

func (c *schemaCache) get(name string) (*TableSchema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.tables[name]

	return s, ok
}

func (c *schemaCache) put(s *TableSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tables[s.Name] = s
}

func (c *schemaCache) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tables, name)
}

// Describe returns the schema of a table, cached until a CREATE, ALTER or
// DROP of the same table
func (e *Engine) Describe(ctx context.Context, table string) (*TableSchema, error) {
	if s, ok := e.schemas.get(table); ok {
		return s, nil
	}

	s, err := e.describe(ctx, table)
	if err != nil {
		return nil, err
	}

	e.schemas.put(s)

	return s, nil
}

func (e *Engine) describe(ctx context.Context, table string) (*TableSchema, error) {
	out, err := invoke(ctx, e, "DescribeTable", e.cfg.ReadRetry, func(ctx context.Context) (*dynamodb.DescribeTableOutput, error) {
		return e.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
	})
	if err != nil {
		if types.HasCode(err, types.CodeSchema) {
			return nil, types.NewError(types.CodeSchema, "unknown table "+table, err)
		}

		return nil, err
	}

	return newTableSchema(out.Table), nil
}
