package types

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Record is an item with its attributes decoded into values
type Record map[string]Value

// FromDynamoDB converts a dynamodb attribute value to a value
func FromDynamoDB(attr ddbtypes.AttributeValue) (Value, error) {
	switch v := attr.(type) {
	case *ddbtypes.AttributeValueMemberS:
		return &String{Value: v.Value}, nil
	case *ddbtypes.AttributeValueMemberN:
		return &Number{Text: v.Value}, nil
	case *ddbtypes.AttributeValueMemberB:
		return &Binary{Value: append([]byte(nil), v.Value...)}, nil
	case *ddbtypes.AttributeValueMemberBOOL:
		return &Boolean{Value: v.Value}, nil
	case *ddbtypes.AttributeValueMemberNULL:
		return &Null{}, nil
	case *ddbtypes.AttributeValueMemberSS:
		return NewStringSet(v.Value...), nil
	case *ddbtypes.AttributeValueMemberNS:
		return NewNumberSet(v.Value...), nil
	case *ddbtypes.AttributeValueMemberBS:
		return NewBinarySet(v.Value...), nil
	case *ddbtypes.AttributeValueMemberL:
		return mapAttributeToList(v)
	case *ddbtypes.AttributeValueMemberM:
		return mapAttributeToMap(v)
	}

	return nil, fmt.Errorf("value type is not supported %T", attr)
}

func mapAttributeToList(attr *ddbtypes.AttributeValueMemberL) (Value, error) {
	l := &List{Value: make([]Value, 0, len(attr.Value))}

	for _, item := range attr.Value {
		v, err := FromDynamoDB(item)
		if err != nil {
			return nil, err
		}

		l.Value = append(l.Value, v)
	}

	return l, nil
}

func mapAttributeToMap(attr *ddbtypes.AttributeValueMemberM) (Value, error) {
	m := &Map{Value: make(map[string]Value, len(attr.Value))}

	for k, item := range attr.Value {
		v, err := FromDynamoDB(item)
		if err != nil {
			return nil, err
		}

		m.Value[k] = v
	}

	return m, nil
}

// FromItem converts a dynamodb item to a record
func FromItem(item map[string]ddbtypes.AttributeValue) (Record, error) {
	rec := make(Record, len(item))

	for k, attr := range item {
		v, err := FromDynamoDB(attr)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}

		rec[k] = v
	}

	return rec, nil
}

// ToItem converts a record to a dynamodb item
func (r Record) ToItem() map[string]ddbtypes.AttributeValue {
	item := make(map[string]ddbtypes.AttributeValue, len(r))

	for k, v := range r {
		item[k] = v.ToDynamoDB()
	}

	return item
}

// Marshaler adapts a value to attributevalue.Marshaler so it can be passed
// to expression.Value and attributevalue.Marshal
func Marshaler(v Value) attributevalue.Marshaler {
	return marshaler{value: v}
}

type marshaler struct {
	value Value
}

func (m marshaler) MarshalDynamoDBAttributeValue() (ddbtypes.AttributeValue, error) {
	return m.value.ToDynamoDB(), nil
}

// Equal reports whether two values are the same, numbers are compared by value
func Equal(left, right Value) bool {
	if left.Type() != right.Type() {
		return false
	}

	switch l := left.(type) {
	case *Number:
		c, ok := Compare(l, right)
		return ok && c == 0
	case *String:
		return l.Value == right.(*String).Value
	case *Binary:
		return bytes.Equal(l.Value, right.(*Binary).Value)
	case *Boolean:
		return l.Value == right.(*Boolean).Value
	case *Null:
		return true
	case *List:
		r := right.(*List)
		if len(l.Value) != len(r.Value) {
			return false
		}

		for i := range l.Value {
			if !Equal(l.Value[i], r.Value[i]) {
				return false
			}
		}

		return true
	case *Map:
		r := right.(*Map)
		if len(l.Value) != len(r.Value) {
			return false
		}

		for k, v := range l.Value {
			rv, ok := r.Value[k]
			if !ok || !Equal(v, rv) {
				return false
			}
		}

		return true
	}

	return left.Inspect() == right.Inspect()
}

// Compare orders two scalar values of the same comparable type (N, S, B).
// The boolean result is false when the values cannot be ordered.
func Compare(left, right Value) (int, bool) {
	switch l := left.(type) {
	case *Number:
		r, ok := right.(*Number)
		if !ok {
			return 0, false
		}

		lr, lok := l.Rat()
		rr, rok := r.Rat()

		if !lok || !rok {
			return 0, false
		}

		return lr.Cmp(rr), true
	case *String:
		r, ok := right.(*String)
		if !ok {
			return 0, false
		}

		return strings.Compare(l.Value, r.Value), true
	case *Binary:
		r, ok := right.(*Binary)
		if !ok {
			return 0, false
		}

		return bytes.Compare(l.Value, r.Value), true
	}

	return 0, false
}
