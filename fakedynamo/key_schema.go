package fakedynamo

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/types"
)

var errMissingKey = errors.New("missing key attribute")

type keySchema struct {
	HashKey   string
	RangeKey  string
	Secondary bool
}

func parseKeySchema(schema []ddbtypes.KeySchemaElement) (keySchema, error) {
	var ks keySchema

	for _, element := range schema {
		if element.KeyType == ddbtypes.KeyTypeHash {
			ks.HashKey = aws.ToString(element.AttributeName)

			continue
		}

		ks.RangeKey = aws.ToString(element.AttributeName)
	}

	if ks.HashKey == "" {
		return ks, validationError("No Hash Key specified in schema. All Dynamo DB Tables must have exactly one hash key")
	}

	return ks, nil
}

// key encodes the key attributes of a record. Secondary schemas return an
// empty key for records that lack the attributes, indexes are sparse.
func (ks keySchema) key(attrs map[string]ddbtypes.ScalarAttributeType, record types.Record) (string, error) {
	hash, err := keyValue(attrs, record, ks.HashKey)
	if err != nil {
		if ks.Secondary && errors.Is(err, errMissingKey) {
			return "", nil
		}

		return "", err
	}

	if ks.RangeKey == "" {
		return hash, nil
	}

	rng, err := keyValue(attrs, record, ks.RangeKey)
	if err != nil {
		if ks.Secondary && errors.Is(err, errMissingKey) {
			return "", nil
		}

		return "", err
	}

	return hash + "\x00" + rng, nil
}

func keyValue(attrs map[string]ddbtypes.ScalarAttributeType, record types.Record, name string) (string, error) {
	v, ok := record[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errMissingKey, name)
	}

	if want, ok := attrs[name]; ok && string(want) != string(v.Type()) {
		return "", fmt.Errorf("type mismatch for key %s expected: %s actual: %s", name, want, v.Type())
	}

	if n, ok := v.(*types.Number); ok {
		if r, ok := n.Rat(); ok {
			return r.RatString(), nil
		}
	}

	return v.Inspect(), nil
}

func (ks keySchema) describe() []ddbtypes.KeySchemaElement {
	desc := []ddbtypes.KeySchemaElement{{
		AttributeName: aws.String(ks.HashKey),
		KeyType:       ddbtypes.KeyTypeHash,
	}}

	if ks.RangeKey != "" {
		desc = append(desc, ddbtypes.KeySchemaElement{
			AttributeName: aws.String(ks.RangeKey),
			KeyType:       ddbtypes.KeyTypeRange,
		})
	}

	return desc
}

func (ks keySchema) keyRecord(record types.Record) types.Record {
	out := types.Record{}

	if v, ok := record[ks.HashKey]; ok {
		out[ks.HashKey] = v
	}

	if v, ok := record[ks.RangeKey]; ok && ks.RangeKey != "" {
		out[ks.RangeKey] = v
	}

	return out
}

// less orders records by hash key then range key
func (ks keySchema) less(a, b types.Record) bool {
	if c := compareAttr(a[ks.HashKey], b[ks.HashKey]); c != 0 {
		return c < 0
	}

	if ks.RangeKey == "" {
		return false
	}

	return compareAttr(a[ks.RangeKey], b[ks.RangeKey]) < 0
}

func compareAttr(a, b types.Value) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}

		return 1
	}

	if c, ok := types.Compare(a, b); ok {
		return c
	}

	switch {
	case a.Inspect() < b.Inspect():
		return -1
	case a.Inspect() > b.Inspect():
		return 1
	}

	return 0
}
