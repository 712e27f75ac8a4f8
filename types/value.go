package types

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ValueType represents the DynamoDB type code of a value
type ValueType string

const (
	// ValueTypeString string type
	ValueTypeString ValueType = "S"
	// ValueTypeNumber number type
	ValueTypeNumber ValueType = "N"
	// ValueTypeBinary binary type
	ValueTypeBinary ValueType = "B"
	// ValueTypeBoolean boolean type
	ValueTypeBoolean ValueType = "BOOL"
	// ValueTypeNull null type
	ValueTypeNull ValueType = "NULL"
	// ValueTypeList list type
	ValueTypeList ValueType = "L"
	// ValueTypeMap map type
	ValueTypeMap ValueType = "M"
	// ValueTypeStringSet string set type
	ValueTypeStringSet ValueType = "SS"
	// ValueTypeNumberSet number set type
	ValueTypeNumberSet ValueType = "NS"
	// ValueTypeBinarySet binary set type
	ValueTypeBinarySet ValueType = "BS"
)

var valueTypes = map[string]ValueType{
	"S":    ValueTypeString,
	"N":    ValueTypeNumber,
	"B":    ValueTypeBinary,
	"BOOL": ValueTypeBoolean,
	"NULL": ValueTypeNull,
	"L":    ValueTypeList,
	"M":    ValueTypeMap,
	"SS":   ValueTypeStringSet,
	"NS":   ValueTypeNumberSet,
	"BS":   ValueTypeBinarySet,
}

// LookupValueType returns the type for a type code such as "N" or "SS"
func LookupValueType(code string) (ValueType, bool) {
	t, ok := valueTypes[strings.ToUpper(code)]

	return t, ok
}

// Value is a DynamoDB value as written in a statement
type Value interface {
	Type() ValueType
	// Inspect renders the value as a literal that parses back to an equal value
	Inspect() string
	ToDynamoDB() ddbtypes.AttributeValue
}

// Number keeps the decimal text it was written with
type Number struct {
	Text string
}

// NewNumber builds a number from a float
func NewNumber(f float64) *Number {
	return &Number{Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NewInteger builds a number from an integer
func NewInteger(i int64) *Number {
	return &Number{Text: strconv.FormatInt(i, 10)}
}

// Inspect returns the readable value of the number
func (n *Number) Inspect() string { return n.Text }

// Type returns the value type
func (n *Number) Type() ValueType { return ValueTypeNumber }

// ToDynamoDB returns the dynamodb attribute value
func (n *Number) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberN{Value: n.Text}
}

// Float returns the number as a float64
func (n *Number) Float() float64 {
	f, _ := strconv.ParseFloat(n.Text, 64)

	return f
}

// Rat returns the exact value of the number
func (n *Number) Rat() (*big.Rat, bool) {
	return new(big.Rat).SetString(n.Text)
}

// Int returns the number as an integer when it has no fraction
func (n *Number) Int() (int64, bool) {
	r, ok := n.Rat()
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}

	return r.Num().Int64(), true
}

// String is a string value
type String struct {
	Value string
}

// Inspect returns the readable value of the string
func (s *String) Inspect() string { return Quote(s.Value) }

// Type returns the value type
func (s *String) Type() ValueType { return ValueTypeString }

// ToDynamoDB returns the dynamodb attribute value
func (s *String) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberS{Value: s.Value}
}

// Binary is a binary value
type Binary struct {
	Value []byte
}

// Inspect returns the readable value of the binary
func (b *Binary) Inspect() string { return "b" + quoteBytes(b.Value) }

// Type returns the value type
func (b *Binary) Type() ValueType { return ValueTypeBinary }

// ToDynamoDB returns the dynamodb attribute value
func (b *Binary) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberB{Value: append([]byte(nil), b.Value...)}
}

// Boolean is a boolean value
type Boolean struct {
	Value bool
}

// Inspect returns the readable value of the boolean
func (b *Boolean) Inspect() string { return strconv.FormatBool(b.Value) }

// Type returns the value type
func (b *Boolean) Type() ValueType { return ValueTypeBoolean }

// ToDynamoDB returns the dynamodb attribute value
func (b *Boolean) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberBOOL{Value: b.Value}
}

// Null is the null value
type Null struct{}

// Inspect returns the readable value of null
func (n *Null) Inspect() string { return "null" }

// Type returns the value type
func (n *Null) Type() ValueType { return ValueTypeNull }

// ToDynamoDB returns the dynamodb attribute value
func (n *Null) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberNULL{Value: true}
}

// List is an ordered list of values
type List struct {
	Value []Value
}

// Inspect returns the readable value of the list
func (l *List) Inspect() string {
	var out bytes.Buffer

	out.WriteString("[")

	for i, v := range l.Value {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString(v.Inspect())
	}

	out.WriteString("]")

	return out.String()
}

// Type returns the value type
func (l *List) Type() ValueType { return ValueTypeList }

// ToDynamoDB returns the dynamodb attribute value
func (l *List) ToDynamoDB() ddbtypes.AttributeValue {
	attr := &ddbtypes.AttributeValueMemberL{Value: make([]ddbtypes.AttributeValue, 0, len(l.Value))}

	for _, v := range l.Value {
		attr.Value = append(attr.Value, v.ToDynamoDB())
	}

	return attr
}

// Map is a string keyed map of values
type Map struct {
	Value map[string]Value
}

// Inspect returns the readable value of the map, keys sorted
func (m *Map) Inspect() string {
	var out bytes.Buffer

	out.WriteString("{")

	for i, k := range sortedKeys(m.Value) {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString(Quote(k))
		out.WriteString(": ")
		out.WriteString(m.Value[k].Inspect())
	}

	out.WriteString("}")

	return out.String()
}

// Type returns the value type
func (m *Map) Type() ValueType { return ValueTypeMap }

// ToDynamoDB returns the dynamodb attribute value
func (m *Map) ToDynamoDB() ddbtypes.AttributeValue {
	attr := &ddbtypes.AttributeValueMemberM{Value: make(map[string]ddbtypes.AttributeValue, len(m.Value))}

	for k, v := range m.Value {
		attr.Value[k] = v.ToDynamoDB()
	}

	return attr
}

// StringSet is a set of strings, kept sorted
type StringSet struct {
	Value []string
}

// NewStringSet sorts and removes duplicates
func NewStringSet(values ...string) *StringSet {
	set := map[string]bool{}
	out := make([]string, 0, len(values))

	for _, v := range values {
		if set[v] {
			continue
		}

		set[v] = true
		out = append(out, v)
	}

	sort.Strings(out)

	return &StringSet{Value: out}
}

// Inspect returns the readable value of the set
func (ss *StringSet) Inspect() string {
	elems := make([]string, 0, len(ss.Value))
	for _, v := range ss.Value {
		elems = append(elems, Quote(v))
	}

	return inspectSet(elems)
}

// Type returns the value type
func (ss *StringSet) Type() ValueType { return ValueTypeStringSet }

// ToDynamoDB returns the dynamodb attribute value
func (ss *StringSet) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberSS{Value: append([]string{}, ss.Value...)}
}

// Contains checks the membership of a string
func (ss *StringSet) Contains(s string) bool {
	i := sort.SearchStrings(ss.Value, s)

	return i < len(ss.Value) && ss.Value[i] == s
}

// NumberSet is a set of numbers, kept in numeric order
type NumberSet struct {
	Value []string
}

// NewNumberSet sorts numerically and removes duplicates
func NewNumberSet(values ...string) *NumberSet {
	type entry struct {
		text string
		rat  *big.Rat
	}

	entries := make([]entry, 0, len(values))

	for _, v := range values {
		r, ok := new(big.Rat).SetString(v)
		if !ok {
			r = new(big.Rat)
		}

		entries = append(entries, entry{text: v, rat: r})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].rat.Cmp(entries[j].rat) < 0 })

	out := make([]string, 0, len(entries))

	for i, e := range entries {
		if i > 0 && entries[i-1].rat.Cmp(e.rat) == 0 {
			continue
		}

		out = append(out, e.text)
	}

	return &NumberSet{Value: out}
}

// Inspect returns the readable value of the set
func (ns *NumberSet) Inspect() string {
	return inspectSet(ns.Value)
}

// Type returns the value type
func (ns *NumberSet) Type() ValueType { return ValueTypeNumberSet }

// ToDynamoDB returns the dynamodb attribute value
func (ns *NumberSet) ToDynamoDB() ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberNS{Value: append([]string{}, ns.Value...)}
}

// BinarySet is a set of binaries, kept sorted
type BinarySet struct {
	Value [][]byte
}

// NewBinarySet sorts and removes duplicates
func NewBinarySet(values ...[]byte) *BinarySet {
	out := make([][]byte, 0, len(values))
	out = append(out, values...)

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })

	dedup := out[:0]

	for i, b := range out {
		if i > 0 && bytes.Equal(out[i-1], b) {
			continue
		}

		dedup = append(dedup, b)
	}

	return &BinarySet{Value: dedup}
}

// Inspect returns the readable value of the set
func (bs *BinarySet) Inspect() string {
	elems := make([]string, 0, len(bs.Value))
	for _, v := range bs.Value {
		elems = append(elems, "b"+quoteBytes(v))
	}

	return inspectSet(elems)
}

// Type returns the value type
func (bs *BinarySet) Type() ValueType { return ValueTypeBinarySet }

// ToDynamoDB returns the dynamodb attribute value
func (bs *BinarySet) ToDynamoDB() ddbtypes.AttributeValue {
	attr := &ddbtypes.AttributeValueMemberBS{Value: make([][]byte, 0, len(bs.Value))}

	for _, b := range bs.Value {
		attr.Value = append(attr.Value, append([]byte(nil), b...))
	}

	return attr
}

// a single element set needs the trailing comma, "(x)" is grouping
func inspectSet(elems []string) string {
	if len(elems) == 1 {
		return "(" + elems[0] + ",)"
	}

	return "(" + strings.Join(elems, ", ") + ")"
}

// Quote renders s as a single quoted literal
func Quote(s string) string {
	var out strings.Builder

	out.WriteByte('\'')

	for _, r := range s {
		switch r {
		case '\'':
			out.WriteString(`\'`)
		case '\\':
			out.WriteString(`\\`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		case '\t':
			out.WriteString(`\t`)
		default:
			out.WriteRune(r)
		}
	}

	out.WriteByte('\'')

	return out.String()
}

func quoteBytes(b []byte) string {
	var out strings.Builder

	out.WriteByte('\'')

	for _, c := range b {
		switch {
		case c == '\'':
			out.WriteString(`\'`)
		case c == '\\':
			out.WriteString(`\\`)
		case c >= 0x20 && c < 0x7f:
			out.WriteByte(c)
		default:
			fmt.Fprintf(&out, `\x%02x`, c)
		}
	}

	out.WriteByte('\'')

	return out.String()
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
