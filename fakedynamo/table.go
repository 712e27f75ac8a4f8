package fakedynamo

import (
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/types"
)

type index struct {
	name       string
	global     bool
	keys       keySchema
	projection *ddbtypes.Projection
	throughput *ddbtypes.ProvisionedThroughput
	status     ddbtypes.IndexStatus
}

type table struct {
	name       string
	attributes map[string]ddbtypes.ScalarAttributeType
	keys       keySchema
	indexes    map[string]*index
	data       map[string]types.Record
	billing    ddbtypes.BillingMode
	throughput *ddbtypes.ProvisionedThroughput
	status     ddbtypes.TableStatus
	// pending counts the DescribeTable calls left before status settles
	pending int
	created time.Time
}

func newTable(input *dynamodb.CreateTableInput, now time.Time) (*table, error) {
	t := &table{
		name:       aws.ToString(input.TableName),
		attributes: map[string]ddbtypes.ScalarAttributeType{},
		indexes:    map[string]*index{},
		data:       map[string]types.Record{},
		billing:    input.BillingMode,
		throughput: input.ProvisionedThroughput,
		status:     ddbtypes.TableStatusActive,
		created:    now,
	}

	if t.billing == "" {
		t.billing = ddbtypes.BillingModeProvisioned
	}

	t.setAttributeDefinitions(input.AttributeDefinitions)

	ks, err := parseKeySchema(input.KeySchema)
	if err != nil {
		return nil, err
	}

	if err := t.validateKeyAttributes(ks, ""); err != nil {
		return nil, err
	}

	if t.provisioned() && input.ProvisionedThroughput == nil {
		return nil, validationError("No provisioned throughput specified for the table")
	}

	t.keys = ks

	for _, gsi := range input.GlobalSecondaryIndexes {
		i, err := t.buildIndex(aws.ToString(gsi.IndexName), gsi.KeySchema, gsi.Projection, gsi.ProvisionedThroughput, true)
		if err != nil {
			return nil, err
		}

		t.indexes[i.name] = i
	}

	for _, lsi := range input.LocalSecondaryIndexes {
		i, err := t.buildIndex(aws.ToString(lsi.IndexName), lsi.KeySchema, lsi.Projection, nil, false)
		if err != nil {
			return nil, err
		}

		if i.keys.HashKey != ks.HashKey {
			return nil, validationError("Local Secondary Index hash key must match the table hash key")
		}

		t.indexes[i.name] = i
	}

	return t, nil
}

func (t *table) provisioned() bool {
	return t.billing != ddbtypes.BillingModePayPerRequest
}

func (t *table) setAttributeDefinitions(attrs []ddbtypes.AttributeDefinition) {
	for _, attr := range attrs {
		t.attributes[aws.ToString(attr.AttributeName)] = attr.AttributeType
	}
}

func (t *table) validateKeyAttributes(ks keySchema, prefix string) error {
	if _, ok := t.attributes[ks.HashKey]; !ok {
		return validationError(prefix + "Hash Key not specified in Attribute Definitions.")
	}

	if _, ok := t.attributes[ks.RangeKey]; ks.RangeKey != "" && !ok {
		return validationError(prefix + "Range Key not specified in Attribute Definitions.")
	}

	return nil
}

func (t *table) buildIndex(name string, schema []ddbtypes.KeySchemaElement, projection *ddbtypes.Projection, throughput *ddbtypes.ProvisionedThroughput, global bool) (*index, error) {
	prefix := "Local Secondary Index "
	if global {
		prefix = "Global Secondary Index "
	}

	if _, ok := t.indexes[name]; ok {
		return nil, validationError(prefix + name + " already exists")
	}

	ks, err := parseKeySchema(schema)
	if err != nil {
		return nil, err
	}

	if err := t.validateKeyAttributes(ks, prefix); err != nil {
		return nil, err
	}

	if global && t.provisioned() && throughput == nil {
		return nil, validationError("No provisioned throughput specified for the global secondary index")
	}

	if projection == nil {
		projection = &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll}
	}

	ks.Secondary = true

	return &index{
		name:       name,
		global:     global,
		keys:       ks,
		projection: projection,
		throughput: throughput,
		status:     ddbtypes.IndexStatusActive,
	}, nil
}

// applyIndexChange applies one GlobalSecondaryIndexUpdate, the new index is
// reported as CREATING while the table settles
func (t *table) applyIndexChange(change ddbtypes.GlobalSecondaryIndexUpdate, settling bool) error {
	switch {
	case change.Create != nil:
		c := change.Create

		i, err := t.buildIndex(aws.ToString(c.IndexName), c.KeySchema, c.Projection, c.ProvisionedThroughput, true)
		if err != nil {
			return err
		}

		if settling {
			i.status = ddbtypes.IndexStatusCreating
		}

		t.indexes[i.name] = i
	case change.Delete != nil:
		name := aws.ToString(change.Delete.IndexName)
		if _, ok := t.indexes[name]; !ok {
			return &ddbtypes.ResourceNotFoundException{Message: aws.String("Requested resource not found: Index: " + name)}
		}

		delete(t.indexes, name)
	case change.Update != nil:
		name := aws.ToString(change.Update.IndexName)

		i, ok := t.indexes[name]
		if !ok {
			return &ddbtypes.ResourceNotFoundException{Message: aws.String("Requested resource not found: Index: " + name)}
		}

		i.throughput = change.Update.ProvisionedThroughput
	}

	return nil
}

// settle moves CREATING, UPDATING and DELETING states one step forward; it
// reports whether the table is gone
func (t *table) settle() bool {
	if t.pending == 0 {
		return false
	}

	if t.pending > 0 {
		t.pending--
	}

	if t.pending != 0 {
		return false
	}

	if t.status == ddbtypes.TableStatusDeleting {
		return true
	}

	t.status = ddbtypes.TableStatusActive

	for _, i := range t.indexes {
		i.status = ddbtypes.IndexStatusActive
	}

	return false
}

func (t *table) primaryKey(record types.Record) (string, error) {
	key, err := t.keys.key(t.attributes, record)
	if err != nil {
		return "", validationError("One or more parameter values were invalid: " + err.Error())
	}

	return key, nil
}

func (t *table) validateIndexKeys(record types.Record) error {
	for _, i := range t.indexes {
		if _, err := i.keys.key(t.attributes, record); err != nil {
			return validationError("One or more parameter values were invalid: " + err.Error())
		}
	}

	return nil
}

func (t *table) check(cond expressions.Constraint, current types.Record) error {
	if cond == nil {
		return nil
	}

	if current == nil {
		current = types.Record{}
	}

	if !cond.Match(expressions.NewEnvironment(current)) {
		return &ddbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}

	return nil
}

func (t *table) put(record types.Record, cond expressions.Constraint) (types.Record, error) {
	key, err := t.primaryKey(record)
	if err != nil {
		return nil, err
	}

	if err := t.validateIndexKeys(record); err != nil {
		return nil, err
	}

	old := t.data[key]

	if err := t.check(cond, old); err != nil {
		return nil, err
	}

	t.data[key] = record

	return old, nil
}

// update applies upd to the item with the given key, creating it when it
// does not exist yet
func (t *table) update(keyRecord types.Record, upd *expressions.Update, cond expressions.Constraint) (types.Record, types.Record, error) {
	if len(keyRecord) != len(t.keys.keyRecord(keyRecord)) {
		return nil, nil, validationError("The provided key element does not match the schema")
	}

	key, err := t.primaryKey(keyRecord)
	if err != nil {
		return nil, nil, err
	}

	old := t.data[key]

	if err := t.check(cond, old); err != nil {
		return nil, nil, err
	}

	current := cloneRecord(keyRecord)
	if old != nil {
		current = cloneRecord(old)
	}

	if upd != nil {
		for _, f := range upd.Fields() {
			if f == t.keys.HashKey || f == t.keys.RangeKey {
				return nil, nil, validationError("Cannot update attribute " + f + ". This attribute is part of the key")
			}
		}

		if err := upd.Apply(expressions.NewEnvironment(current)); err != nil {
			return nil, nil, validationError(err.Error())
		}
	}

	if err := t.validateIndexKeys(current); err != nil {
		return nil, nil, err
	}

	t.data[key] = current

	return old, current, nil
}

func (t *table) delete(keyRecord types.Record, cond expressions.Constraint) (types.Record, error) {
	if len(keyRecord) != len(t.keys.keyRecord(keyRecord)) {
		return nil, validationError("The provided key element does not match the schema")
	}

	key, err := t.primaryKey(keyRecord)
	if err != nil {
		return nil, err
	}

	old := t.data[key]

	if err := t.check(cond, old); err != nil {
		return nil, err
	}

	delete(t.data, key)

	return old, nil
}

type searchInput struct {
	index        string
	keyCondition expressions.Constraint
	filter       expressions.Constraint
	startKey     types.Record
	limit        int
	forward      bool
}

type searchOutput struct {
	items   []types.Record
	scanned int
	lastKey types.Record
}

// search walks the table or an index in key order. Limit caps the number of
// evaluated items before the filter runs, and a last key is only returned
// when more items remain.
func (t *table) search(in searchInput) (searchOutput, error) {
	var out searchOutput

	ks := t.keys

	var idx *index

	if in.index != "" {
		i, ok := t.indexes[in.index]
		if !ok {
			return out, validationError("The table does not have the specified index: " + in.index)
		}

		idx, ks = i, i.keys
	}

	candidates := t.candidates(idx, ks, in.forward)

	start := 0

	if len(in.startKey) > 0 {
		pk, err := t.primaryKey(in.startKey)
		if err != nil {
			return out, err
		}

		for pos, c := range candidates {
			if c.key == pk {
				start = pos + 1

				break
			}
		}
	}

	for pos := start; pos < len(candidates); pos++ {
		record := candidates[pos].record
		env := expressions.NewEnvironment(record)

		if in.keyCondition != nil && !in.keyCondition.Match(env) {
			continue
		}

		out.scanned++

		if in.filter == nil || in.filter.Match(env) {
			out.items = append(out.items, t.project(idx, record))
		}

		if in.limit > 0 && out.scanned == in.limit {
			if t.hasMore(candidates[pos+1:], in.keyCondition) {
				out.lastKey = t.keys.keyRecord(record)

				if idx != nil {
					for k, v := range idx.keys.keyRecord(record) {
						out.lastKey[k] = v
					}
				}
			}

			break
		}
	}

	return out, nil
}

type candidate struct {
	key    string
	record types.Record
}

func (t *table) candidates(idx *index, ks keySchema, forward bool) []candidate {
	out := make([]candidate, 0, len(t.data))

	for key, record := range t.data {
		if idx != nil {
			if k, _ := idx.keys.key(t.attributes, record); k == "" {
				continue
			}
		}

		out = append(out, candidate{key: key, record: record})
	}

	sort.Slice(out, func(a, b int) bool {
		x, y := out[a], out[b]

		if ks.less(x.record, y.record) != ks.less(y.record, x.record) {
			return ks.less(x.record, y.record) == forward
		}

		return (x.key < y.key) == forward
	})

	return out
}

func (t *table) hasMore(rest []candidate, keyCondition expressions.Constraint) bool {
	if keyCondition == nil {
		return len(rest) > 0
	}

	for _, c := range rest {
		if keyCondition.Match(expressions.NewEnvironment(c.record)) {
			return true
		}
	}

	return false
}

func (t *table) project(idx *index, record types.Record) types.Record {
	if idx == nil || idx.projection.ProjectionType == ddbtypes.ProjectionTypeAll {
		return record
	}

	out := t.keys.keyRecord(record)
	for k, v := range idx.keys.keyRecord(record) {
		out[k] = v
	}

	if idx.projection.ProjectionType == ddbtypes.ProjectionTypeInclude {
		for _, name := range idx.projection.NonKeyAttributes {
			if v, ok := record[name]; ok {
				out[name] = v
			}
		}
	}

	return out
}

func (t *table) sizeBytes() int64 {
	var size int64

	for _, record := range t.data {
		for k, v := range record {
			size += int64(len(k) + len(v.Inspect()))
		}
	}

	return size
}

func (t *table) indexCount(i *index) int64 {
	var count int64

	for _, record := range t.data {
		if k, _ := i.keys.key(t.attributes, record); k != "" {
			count++
		}
	}

	return count
}

func throughputDescription(pt *ddbtypes.ProvisionedThroughput) *ddbtypes.ProvisionedThroughputDescription {
	if pt == nil {
		return &ddbtypes.ProvisionedThroughputDescription{ReadCapacityUnits: aws.Int64(0), WriteCapacityUnits: aws.Int64(0)}
	}

	return &ddbtypes.ProvisionedThroughputDescription{
		ReadCapacityUnits:  pt.ReadCapacityUnits,
		WriteCapacityUnits: pt.WriteCapacityUnits,
	}
}

func (t *table) description() *ddbtypes.TableDescription {
	desc := &ddbtypes.TableDescription{
		TableName:             aws.String(t.name),
		TableArn:              aws.String(fmt.Sprintf("arn:aws:dynamodb:local:000000000000:table/%s", t.name)),
		TableStatus:           t.status,
		KeySchema:             t.keys.describe(),
		ItemCount:             aws.Int64(int64(len(t.data))),
		TableSizeBytes:        aws.Int64(t.sizeBytes()),
		CreationDateTime:      aws.Time(t.created),
		BillingModeSummary:    &ddbtypes.BillingModeSummary{BillingMode: t.billing},
		ProvisionedThroughput: throughputDescription(t.throughput),
	}

	names := make([]string, 0, len(t.attributes))
	for name := range t.attributes {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		desc.AttributeDefinitions = append(desc.AttributeDefinitions, ddbtypes.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: t.attributes[name],
		})
	}

	indexNames := make([]string, 0, len(t.indexes))
	for name := range t.indexes {
		indexNames = append(indexNames, name)
	}

	sort.Strings(indexNames)

	for _, name := range indexNames {
		i := t.indexes[name]

		if !i.global {
			desc.LocalSecondaryIndexes = append(desc.LocalSecondaryIndexes, ddbtypes.LocalSecondaryIndexDescription{
				IndexName:  aws.String(name),
				KeySchema:  i.keys.describe(),
				Projection: i.projection,
				ItemCount:  aws.Int64(t.indexCount(i)),
			})

			continue
		}

		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, ddbtypes.GlobalSecondaryIndexDescription{
			IndexName:             aws.String(name),
			KeySchema:             i.keys.describe(),
			Projection:            i.projection,
			IndexStatus:           i.status,
			ItemCount:             aws.Int64(t.indexCount(i)),
			ProvisionedThroughput: throughputDescription(i.throughput),
		})
	}

	return desc
}

func cloneRecord(record types.Record) types.Record {
	out, err := types.FromItem(record.ToItem())
	if err != nil {
		panic(err)
	}

	return out
}
