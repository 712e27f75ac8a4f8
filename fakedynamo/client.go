// Package fakedynamo is an in-memory DynamoDB used by the engine tests. It
// implements the subset of the DynamoDB API that DQL calls and evaluates
// condition, filter, key and update expressions with the DQL expression
// package.
package fakedynamo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

const (
	batchRequestsLimit                 = 25
	unusedExpressionAttributeNamesMsg  = "Value provided in ExpressionAttributeNames unused in expressions"
	unusedExpressionAttributeValuesMsg = "Value provided in ExpressionAttributeValues unused in expressions"
	invalidExpressionAttributeName     = "ExpressionAttributeNames contains invalid key"
	invalidExpressionAttributeValue    = "ExpressionAttributeValues contains invalid key"
)

var (
	expressionAttributeNamesRegex  = regexp.MustCompile("^#[A-Za-z0-9_]+$")
	expressionAttributeValuesRegex = regexp.MustCompile("^:[A-Za-z0-9_]+$")
	placeholderRegex               = regexp.MustCompile("[:#][A-Za-z0-9_]+")
)

func validationError(msg string) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: msg}
}

// Option configures a Client
type Option func(*Client)

// WithSettleDescribes keeps created, updated and deleted tables in their
// transition state for n DescribeTable calls. A negative n never settles.
func WithSettleDescribes(n int) Option {
	return func(c *Client) { c.settle = n }
}

// WithBatchCapacity processes at most n requests per BatchWriteItem call and
// returns the rest as unprocessed items
func WithBatchCapacity(n int) Option {
	return func(c *Client) { c.batchCapacity = n }
}

// Client is the in-memory DynamoDB
type Client struct {
	mu              sync.Mutex
	tables          map[string]*table
	calls           map[string]int
	forceFailureErr error
	throttles       int
	settle          int
	batchCapacity   int
	now             func() time.Time
}

// NewClient creates an empty fake
func NewClient(opts ...Option) *Client {
	fd := &Client{
		tables: map[string]*table{},
		calls:  map[string]int{},
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(fd)
	}

	return fd
}

// Calls returns how many times an operation such as "Query" was called
func (fd *Client) Calls(operation string) int {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	return fd.calls[operation]
}

// ResetCalls clears the call counters
func (fd *Client) ResetCalls() {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.calls = map[string]int{}
}

func (fd *Client) count(operation string) {
	fd.calls[operation]++
}

// record counts a data plane call and returns the emulated failure, if any
func (fd *Client) record(operation string) error {
	fd.count(operation)

	if fd.forceFailureErr != nil {
		return fd.forceFailureErr
	}

	if fd.throttles > 0 {
		fd.throttles--

		return &emulatedThrottleError
	}

	return nil
}

func (fd *Client) getTable(name string) (*table, error) {
	t, ok := fd.tables[name]
	if !ok || t.status == ddbtypes.TableStatusDeleting {
		return nil, &ddbtypes.ResourceNotFoundException{Message: aws.String("Cannot do operations on a non-existent table")}
	}

	return t, nil
}

// CreateTable creates a new table
func (fd *Client) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opt ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.count("CreateTable")

	name := aws.ToString(input.TableName)
	if _, ok := fd.tables[name]; ok {
		return nil, &ddbtypes.ResourceInUseException{Message: aws.String("Cannot create preexisting table")}
	}

	t, err := newTable(input, fd.now())
	if err != nil {
		return nil, err
	}

	if fd.settle != 0 {
		t.status = ddbtypes.TableStatusCreating
		t.pending = fd.settle
	}

	fd.tables[name] = t

	return &dynamodb.CreateTableOutput{TableDescription: t.description()}, nil
}

// DeleteTable deletes a table
func (fd *Client) DeleteTable(ctx context.Context, input *dynamodb.DeleteTableInput, opt ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.count("DeleteTable")

	name := aws.ToString(input.TableName)

	t, err := fd.getTable(name)
	if err != nil {
		return nil, err
	}

	if fd.settle == 0 {
		delete(fd.tables, name)
	} else {
		t.status = ddbtypes.TableStatusDeleting
		t.pending = fd.settle
	}

	desc := t.description()
	desc.TableStatus = ddbtypes.TableStatusDeleting

	return &dynamodb.DeleteTableOutput{TableDescription: desc}, nil
}

// UpdateTable changes throughput, billing mode and global indexes
func (fd *Client) UpdateTable(ctx context.Context, input *dynamodb.UpdateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.count("UpdateTable")

	t, err := fd.getTable(aws.ToString(input.TableName))
	if err != nil {
		return nil, err
	}

	if t.status != ddbtypes.TableStatusActive {
		return nil, &ddbtypes.ResourceInUseException{Message: aws.String("Table is being updated: " + t.name)}
	}

	if input.BillingMode != "" {
		t.billing = input.BillingMode
	}

	if input.ProvisionedThroughput != nil {
		t.throughput = input.ProvisionedThroughput
	}

	t.setAttributeDefinitions(input.AttributeDefinitions)

	for _, change := range input.GlobalSecondaryIndexUpdates {
		if err := t.applyIndexChange(change, fd.settle != 0); err != nil {
			return nil, err
		}
	}

	if fd.settle != 0 {
		t.status = ddbtypes.TableStatusUpdating
		t.pending = fd.settle
	}

	return &dynamodb.UpdateTableOutput{TableDescription: t.description()}, nil
}

// DescribeTable returns information about the table and moves transition
// states one step forward
func (fd *Client) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, ops ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.count("DescribeTable")

	name := aws.ToString(input.TableName)

	t, ok := fd.tables[name]
	if !ok {
		return nil, &ddbtypes.ResourceNotFoundException{Message: aws.String("Requested resource not found: Table: " + name + " not found")}
	}

	desc := t.description()

	if t.settle() {
		delete(fd.tables, name)
	}

	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

// ListTables lists table names in alphabetical order
func (fd *Client) ListTables(ctx context.Context, input *dynamodb.ListTablesInput, opts ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.count("ListTables")

	names := make([]string, 0, len(fd.tables))
	for name := range fd.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	start := aws.ToString(input.ExclusiveStartTableName)
	if start != "" {
		pos := sort.SearchStrings(names, start)
		if pos < len(names) && names[pos] == start {
			pos++
		}

		names = names[pos:]
	}

	out := &dynamodb.ListTablesOutput{}

	limit := int(aws.ToInt32(input.Limit))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
		out.LastEvaluatedTableName = aws.String(names[limit-1])
	}

	out.TableNames = names

	return out, nil
}

// PutItem writes an item
func (fd *Client) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("PutItem"); err != nil {
		return nil, err
	}

	old, err := fd.putItem(aws.ToString(input.TableName), input.Item, input.ExpressionAttributeNames, input.ExpressionAttributeValues, aws.ToString(input.ConditionExpression))
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}

	if input.ReturnValues == ddbtypes.ReturnValueAllOld && old != nil {
		out.Attributes = old.ToItem()
	}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		out.ConsumedCapacity = capacity(aws.ToString(input.TableName), 1)
	}

	return out, nil
}

func (fd *Client) putItem(tableName string, item map[string]ddbtypes.AttributeValue, names map[string]string, values map[string]ddbtypes.AttributeValue, condition string) (types.Record, error) {
	if err := validateExpressionAttributes(names, values, condition); err != nil {
		return nil, err
	}

	t, err := fd.getTable(tableName)
	if err != nil {
		return nil, err
	}

	ec, err := newExpressionContext(names, values)
	if err != nil {
		return nil, err
	}

	cond, err := ec.constraint(condition)
	if err != nil {
		return nil, err
	}

	record, err := types.FromItem(item)
	if err != nil {
		return nil, validationError(err.Error())
	}

	return t.put(record, cond)
}

// UpdateItem updates or creates an item
func (fd *Client) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("UpdateItem"); err != nil {
		return nil, err
	}

	err := validateExpressionAttributes(input.ExpressionAttributeNames, input.ExpressionAttributeValues, aws.ToString(input.UpdateExpression), aws.ToString(input.ConditionExpression))
	if err != nil {
		return nil, err
	}

	t, err := fd.getTable(aws.ToString(input.TableName))
	if err != nil {
		return nil, err
	}

	ec, err := newExpressionContext(input.ExpressionAttributeNames, input.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	cond, err := ec.constraint(aws.ToString(input.ConditionExpression))
	if err != nil {
		return nil, err
	}

	upd, err := ec.update(aws.ToString(input.UpdateExpression))
	if err != nil {
		return nil, err
	}

	key, err := types.FromItem(input.Key)
	if err != nil {
		return nil, validationError(err.Error())
	}

	old, current, err := t.update(key, upd, cond)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}

	switch input.ReturnValues {
	case ddbtypes.ReturnValueAllOld:
		if old != nil {
			out.Attributes = old.ToItem()
		}
	case ddbtypes.ReturnValueAllNew:
		out.Attributes = current.ToItem()
	case ddbtypes.ReturnValueUpdatedOld:
		out.Attributes = pick(old, upd).ToItem()
	case ddbtypes.ReturnValueUpdatedNew:
		out.Attributes = pick(current, upd).ToItem()
	}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		out.ConsumedCapacity = capacity(t.name, 1)
	}

	return out, nil
}

func pick(record types.Record, upd *expressions.Update) types.Record {
	out := types.Record{}
	if record == nil || upd == nil {
		return out
	}

	for _, name := range upd.Fields() {
		if v, ok := record[name]; ok {
			out[name] = v
		}
	}

	return out
}

// DeleteItem deletes an item
func (fd *Client) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("DeleteItem"); err != nil {
		return nil, err
	}

	old, err := fd.deleteItem(aws.ToString(input.TableName), input.Key, input.ExpressionAttributeNames, input.ExpressionAttributeValues, aws.ToString(input.ConditionExpression))
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}

	if input.ReturnValues == ddbtypes.ReturnValueAllOld && old != nil {
		out.Attributes = old.ToItem()
	}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		out.ConsumedCapacity = capacity(aws.ToString(input.TableName), 1)
	}

	return out, nil
}

func (fd *Client) deleteItem(tableName string, key map[string]ddbtypes.AttributeValue, names map[string]string, values map[string]ddbtypes.AttributeValue, condition string) (types.Record, error) {
	if err := validateExpressionAttributes(names, values, condition); err != nil {
		return nil, err
	}

	t, err := fd.getTable(tableName)
	if err != nil {
		return nil, err
	}

	ec, err := newExpressionContext(names, values)
	if err != nil {
		return nil, err
	}

	cond, err := ec.constraint(condition)
	if err != nil {
		return nil, err
	}

	record, err := types.FromItem(key)
	if err != nil {
		return nil, validationError(err.Error())
	}

	return t.delete(record, cond)
}

// Query reads the items of one partition of the table or of an index
func (fd *Client) Query(ctx context.Context, input *dynamodb.QueryInput, opt ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("Query"); err != nil {
		return nil, err
	}

	err := validateExpressionAttributes(input.ExpressionAttributeNames, input.ExpressionAttributeValues,
		aws.ToString(input.KeyConditionExpression), aws.ToString(input.FilterExpression), aws.ToString(input.ProjectionExpression))
	if err != nil {
		return nil, err
	}

	t, err := fd.getTable(aws.ToString(input.TableName))
	if err != nil {
		return nil, err
	}

	ec, err := newExpressionContext(input.ExpressionAttributeNames, input.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	keyCondition, err := ec.constraint(aws.ToString(input.KeyConditionExpression))
	if err != nil {
		return nil, err
	}

	if err := t.validateKeyCondition(aws.ToString(input.IndexName), keyCondition); err != nil {
		return nil, err
	}

	filter, err := ec.constraint(aws.ToString(input.FilterExpression))
	if err != nil {
		return nil, err
	}

	projection, err := ec.projection(aws.ToString(input.ProjectionExpression))
	if err != nil {
		return nil, err
	}

	res, err := t.search(searchInput{
		index:        aws.ToString(input.IndexName),
		keyCondition: keyCondition,
		filter:       filter,
		startKey:     mustRecord(input.ExclusiveStartKey),
		limit:        int(aws.ToInt32(input.Limit)),
		forward:      input.ScanIndexForward == nil || *input.ScanIndexForward,
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.QueryOutput{
		Count:        int32(len(res.items)),
		ScannedCount: int32(res.scanned),
	}

	if input.Select != ddbtypes.SelectCount {
		out.Items = toItems(res.items, projection)
	}

	if res.lastKey != nil {
		out.LastEvaluatedKey = res.lastKey.ToItem()
	}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		out.ConsumedCapacity = capacity(t.name, readUnits(res.scanned))
	}

	return out, nil
}

// validateKeyCondition requires an equality on the hash key of the table or
// index being queried
func (t *table) validateKeyCondition(indexName string, keyCondition expressions.Constraint) error {
	if keyCondition == nil {
		return validationError("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}

	ks := t.keys

	if indexName != "" {
		i, ok := t.indexes[indexName]
		if !ok {
			return validationError("The table does not have the specified index: " + indexName)
		}

		ks = i.keys
	}

	for _, c := range expressions.Conjuncts(keyCondition) {
		op, ok := c.(*expressions.Operator)
		if !ok || op.Op != "=" {
			continue
		}

		if f, ok := op.Left.(*expressions.Field); ok && f.Path.IsRoot() && f.Path.Root() == ks.HashKey {
			return nil
		}
	}

	return validationError("Query condition missed key schema element: " + ks.HashKey)
}

// Scan reads the whole table or index
func (fd *Client) Scan(ctx context.Context, input *dynamodb.ScanInput, opt ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("Scan"); err != nil {
		return nil, err
	}

	err := validateExpressionAttributes(input.ExpressionAttributeNames, input.ExpressionAttributeValues,
		aws.ToString(input.ProjectionExpression), aws.ToString(input.FilterExpression))
	if err != nil {
		return nil, err
	}

	t, err := fd.getTable(aws.ToString(input.TableName))
	if err != nil {
		return nil, err
	}

	ec, err := newExpressionContext(input.ExpressionAttributeNames, input.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}

	filter, err := ec.constraint(aws.ToString(input.FilterExpression))
	if err != nil {
		return nil, err
	}

	projection, err := ec.projection(aws.ToString(input.ProjectionExpression))
	if err != nil {
		return nil, err
	}

	res, err := t.search(searchInput{
		index:    aws.ToString(input.IndexName),
		filter:   filter,
		startKey: mustRecord(input.ExclusiveStartKey),
		limit:    int(aws.ToInt32(input.Limit)),
		forward:  true,
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.ScanOutput{
		Count:        int32(len(res.items)),
		ScannedCount: int32(res.scanned),
	}

	if input.Select != ddbtypes.SelectCount {
		out.Items = toItems(res.items, projection)
	}

	if res.lastKey != nil {
		out.LastEvaluatedKey = res.lastKey.ToItem()
	}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		out.ConsumedCapacity = capacity(t.name, readUnits(res.scanned))
	}

	return out, nil
}

// BatchWriteItem puts and deletes up to 25 items
func (fd *Client) BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if err := fd.record("BatchWriteItem"); err != nil {
		return nil, err
	}

	if err := validateBatchWriteItemInput(input); err != nil {
		return nil, err
	}

	unprocessed := map[string][]ddbtypes.WriteRequest{}
	units := map[string]float64{}
	processed := 0

	tableNames := make([]string, 0, len(input.RequestItems))
	for name := range input.RequestItems {
		tableNames = append(tableNames, name)
	}

	sort.Strings(tableNames)

	for _, name := range tableNames {
		if err := fd.checkDuplicateKeys(name, input.RequestItems[name]); err != nil {
			return nil, err
		}
	}

	for _, name := range tableNames {
		for _, req := range input.RequestItems[name] {
			if fd.batchCapacity > 0 && processed >= fd.batchCapacity {
				unprocessed[name] = append(unprocessed[name], req)

				continue
			}

			var err error

			if req.PutRequest != nil {
				_, err = fd.putItem(name, req.PutRequest.Item, nil, nil, "")
			} else {
				_, err = fd.deleteItem(name, req.DeleteRequest.Key, nil, nil, "")
			}

			if err != nil {
				return nil, err
			}

			processed++
			units[name]++
		}
	}

	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}

	if wantsCapacity(input.ReturnConsumedCapacity) {
		for _, name := range tableNames {
			if units[name] > 0 {
				out.ConsumedCapacity = append(out.ConsumedCapacity, *capacity(name, units[name]))
			}
		}
	}

	return out, nil
}

func validateWriteRequest(req ddbtypes.WriteRequest) error {
	if (req.DeleteRequest == nil) == (req.PutRequest == nil) {
		return validationError("Supplied AttributeValue has more than one datatypes set, must contain exactly one of the supported datatypes")
	}

	return nil
}

// checkDuplicateKeys rejects a batch that writes the same item twice
func (fd *Client) checkDuplicateKeys(tableName string, reqs []ddbtypes.WriteRequest) error {
	t, err := fd.getTable(tableName)
	if err != nil {
		return err
	}

	seen := map[string]bool{}

	for _, req := range reqs {
		var item map[string]ddbtypes.AttributeValue
		if req.PutRequest != nil {
			item = req.PutRequest.Item
		} else {
			item = req.DeleteRequest.Key
		}

		record, err := types.FromItem(item)
		if err != nil {
			return validationError(err.Error())
		}

		key, err := t.primaryKey(record)
		if err != nil {
			return err
		}

		if seen[key] {
			return validationError("Provided list of item keys contains duplicates")
		}

		seen[key] = true
	}

	return nil
}

func validateBatchWriteItemInput(input *dynamodb.BatchWriteItemInput) error {
	count := 0

	for _, reqs := range input.RequestItems {
		for _, req := range reqs {
			if err := validateWriteRequest(req); err != nil {
				return err
			}

			count++
		}
	}

	if count > batchRequestsLimit {
		return validationError("Too many items requested for the BatchWriteItem call")
	}

	if count == 0 {
		return validationError("The batch write request list for a table cannot be null or empty")
	}

	return nil
}

func wantsCapacity(rc ddbtypes.ReturnConsumedCapacity) bool {
	return rc == ddbtypes.ReturnConsumedCapacityTotal || rc == ddbtypes.ReturnConsumedCapacityIndexes
}

func capacity(tableName string, units float64) *ddbtypes.ConsumedCapacity {
	return &ddbtypes.ConsumedCapacity{TableName: aws.String(tableName), CapacityUnits: aws.Float64(units)}
}

func readUnits(scanned int) float64 {
	if scanned == 0 {
		return 0.5
	}

	return float64(scanned) * 0.5
}

func mustRecord(item map[string]ddbtypes.AttributeValue) types.Record {
	if len(item) == 0 {
		return nil
	}

	record, err := types.FromItem(item)
	if err != nil {
		return nil
	}

	return record
}

func toItems(records []types.Record, projection []string) []map[string]ddbtypes.AttributeValue {
	items := make([]map[string]ddbtypes.AttributeValue, 0, len(records))

	for _, record := range records {
		if len(projection) > 0 {
			projected := types.Record{}

			for _, name := range projection {
				if v, ok := record[name]; ok {
					projected[name] = v
				}
			}

			record = projected
		}

		items = append(items, record.ToItem())
	}

	return items
}

// expressionContext resolves #name and :value placeholders back into DQL
// text so the expression package can parse and evaluate it
type expressionContext struct {
	names  map[string]string
	values map[string]types.Value
	fold   *expressions.FoldContext
}

func newExpressionContext(names map[string]string, values map[string]ddbtypes.AttributeValue) (*expressionContext, error) {
	ec := &expressionContext{
		names:  names,
		values: make(map[string]types.Value, len(values)),
		fold:   expressions.NewFoldContext(time.Now(), nil),
	}

	for k, av := range values {
		v, err := types.FromDynamoDB(av)
		if err != nil {
			return nil, validationError(fmt.Sprintf("ExpressionAttributeValues contains invalid value %s: %v", k, err))
		}

		ec.values[k] = v
	}

	return ec, nil
}

func (ec *expressionContext) substitute(text string) (string, error) {
	var missing []string

	out := placeholderRegex.ReplaceAllStringFunc(text, func(p string) string {
		if p[0] == '#' {
			name, ok := ec.names[p]
			if !ok {
				missing = append(missing, p)

				return p
			}

			return language.QuoteIdent(name)
		}

		v, ok := ec.values[p]
		if !ok {
			missing = append(missing, p)

			return p
		}

		return v.Inspect()
	})

	if len(missing) > 0 {
		return "", validationError("Value provided in expression is not defined: " + strings.Join(missing, ", "))
	}

	return out, nil
}

func (ec *expressionContext) constraint(text string) (expressions.Constraint, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resolved, err := ec.substitute(text)
	if err != nil {
		return nil, err
	}

	exp, err := language.ParseExpression(resolved)
	if err != nil {
		return nil, validationError("Invalid expression: " + err.Error())
	}

	c, err := expressions.NewConstraint(exp, ec.fold)
	if err != nil {
		return nil, validationError("Invalid expression: " + err.Error())
	}

	return c, nil
}

func (ec *expressionContext) update(text string) (*expressions.Update, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resolved, err := ec.substitute(text)
	if err != nil {
		return nil, err
	}

	clauses, err := language.ParseUpdate(resolved)
	if err != nil {
		return nil, validationError("Invalid UpdateExpression: " + err.Error())
	}

	u, err := expressions.NewUpdate(clauses, ec.fold)
	if err != nil {
		return nil, validationError("Invalid UpdateExpression: " + err.Error())
	}

	return u, nil
}

// projection returns the top level attributes of a projection expression
func (ec *expressionContext) projection(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resolved, err := ec.substitute(text)
	if err != nil {
		return nil, err
	}

	items, err := language.ParseSelection(resolved)
	if err != nil {
		return nil, validationError("Invalid ProjectionExpression: " + err.Error())
	}

	names := make([]string, 0, len(items))

	for _, item := range items {
		path, ok := expressions.PathFrom(item.Expression)
		if !ok {
			return nil, validationError("Invalid ProjectionExpression: " + item.String())
		}

		names = append(names, path.Root())
	}

	return names, nil
}

func validateExpressionAttributes(exprNames map[string]string, exprValues map[string]ddbtypes.AttributeValue, genericExpressions ...string) error {
	genericExpression := strings.TrimSpace(strings.Join(genericExpressions, " "))

	if genericExpression == "" && len(exprNames) == 0 && len(exprValues) == 0 {
		return nil
	}

	names := sortedKeys(exprNames)
	values := sortedKeys(exprValues)

	if missing := getMissingSubstrs(genericExpression, names); len(missing) > 0 {
		return validationError(fmt.Sprintf("%s: keys: {%s}", unusedExpressionAttributeNamesMsg, strings.Join(missing, ", ")))
	}

	if err := validateSyntaxExpression(expressionAttributeNamesRegex, names, invalidExpressionAttributeName); err != nil {
		return err
	}

	if missing := getMissingSubstrs(genericExpression, values); len(missing) > 0 {
		return validationError(fmt.Sprintf("%s: keys: {%s}", unusedExpressionAttributeValuesMsg, strings.Join(missing, ", ")))
	}

	return validateSyntaxExpression(expressionAttributeValuesRegex, values, invalidExpressionAttributeValue)
}

func validateSyntaxExpression(regex *regexp.Regexp, expressions []string, errorMsg string) error {
	for _, exprName := range expressions {
		if !regex.MatchString(exprName) {
			return validationError(fmt.Sprintf("%s: Syntax error; key: %s", errorMsg, exprName))
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))

	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func getMissingSubstrs(s string, substrs []string) []string {
	missing := make([]string, 0, len(substrs))

	for _, substr := range substrs {
		if !strings.Contains(s, substr) {
			missing = append(missing, substr)
		}
	}

	return missing
}
