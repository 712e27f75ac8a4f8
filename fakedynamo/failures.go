package fakedynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FailureCondition describe the failure condition to emulate
type FailureCondition string

const (
	// FailureConditionNone emulates the system is working
	FailureConditionNone FailureCondition = "none"
	// FailureConditionInternalServerError emulates dynamodb having internal issues
	FailureConditionInternalServerError FailureCondition = "internal_server"
	// FailureConditionThrottled emulates a table out of capacity
	FailureConditionThrottled FailureCondition = "throttled"
)

var (
	emulatedInternalServeError = ddbtypes.InternalServerError{Message: aws.String("emulated error")}
	emulatedThrottleError      = ddbtypes.ProvisionedThroughputExceededException{Message: aws.String("emulated throttle")}

	emulatingErrors = map[FailureCondition]error{
		FailureConditionNone:                nil,
		FailureConditionInternalServerError: &emulatedInternalServeError,
		FailureConditionThrottled:           &emulatedThrottleError,
	}
)

// EmulateFailure makes every data plane call fail until it is called again
// with FailureConditionNone
func (fd *Client) EmulateFailure(condition FailureCondition) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.forceFailureErr = emulatingErrors[condition]
}

// ThrottleNext makes the next n data plane calls fail with
// ProvisionedThroughputExceededException
func (fd *Client) ThrottleNext(n int) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.throttles = n
}

// AddTable creates an on-demand table with string keys, rangeKey may be empty
func AddTable(ctx context.Context, client *Client, tableName, hashKey, rangeKey string) error {
	_, err := client.CreateTable(ctx, generateAddTableInput(tableName, hashKey, rangeKey))

	return err
}

// AddIndex adds a global index with string keys to a table
func AddIndex(ctx context.Context, client *Client, tableName, indexName, hashKey, rangeKey string) error {
	keySchema, attributes := stringKeys(hashKey, rangeKey)

	input := &dynamodb.UpdateTableInput{
		AttributeDefinitions: attributes,
		TableName:            aws.String(tableName),
		GlobalSecondaryIndexUpdates: []ddbtypes.GlobalSecondaryIndexUpdate{
			{
				Create: &ddbtypes.CreateGlobalSecondaryIndexAction{
					IndexName: aws.String(indexName),
					KeySchema: keySchema,
					Projection: &ddbtypes.Projection{
						ProjectionType: ddbtypes.ProjectionTypeAll,
					},
				},
			},
		},
	}

	_, err := client.UpdateTable(ctx, input)

	return err
}

// ClearTable removes all data from a table
func ClearTable(client *Client, tableName string) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	t, err := client.getTable(tableName)
	if err != nil {
		return err
	}

	clear(t.data)

	return nil
}

func stringKeys(hashKey, rangeKey string) ([]ddbtypes.KeySchemaElement, []ddbtypes.AttributeDefinition) {
	keySchema := []ddbtypes.KeySchemaElement{{
		AttributeName: aws.String(hashKey),
		KeyType:       ddbtypes.KeyTypeHash,
	}}

	attributes := []ddbtypes.AttributeDefinition{{
		AttributeName: aws.String(hashKey),
		AttributeType: ddbtypes.ScalarAttributeTypeS,
	}}

	if rangeKey != "" {
		keySchema = append(keySchema, ddbtypes.KeySchemaElement{
			AttributeName: aws.String(rangeKey),
			KeyType:       ddbtypes.KeyTypeRange,
		})

		attributes = append(attributes, ddbtypes.AttributeDefinition{
			AttributeName: aws.String(rangeKey),
			AttributeType: ddbtypes.ScalarAttributeTypeS,
		})
	}

	return keySchema, attributes
}

func generateAddTableInput(tableName, hashKey, rangeKey string) *dynamodb.CreateTableInput {
	keySchema, attributes := stringKeys(hashKey, rangeKey)

	return &dynamodb.CreateTableInput{
		AttributeDefinitions: attributes,
		BillingMode:          ddbtypes.BillingModePayPerRequest,
		KeySchema:            keySchema,
		TableName:            aws.String(tableName),
	}
}
