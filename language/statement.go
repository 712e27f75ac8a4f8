package language

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/jspreddy/dql/types"
)

// Action is the leading keyword of a statement
type Action string

const (
	// ActionSelect SELECT
	ActionSelect Action = "SELECT"
	// ActionScan SCAN
	ActionScan Action = "SCAN"
	// ActionCount COUNT or SELECT count(*)
	ActionCount Action = "COUNT"
	// ActionCreate CREATE TABLE
	ActionCreate Action = "CREATE"
	// ActionInsert INSERT INTO
	ActionInsert Action = "INSERT"
	// ActionUpdate UPDATE
	ActionUpdate Action = "UPDATE"
	// ActionDelete DELETE FROM
	ActionDelete Action = "DELETE"
	// ActionDrop DROP TABLE
	ActionDrop Action = "DROP"
	// ActionAlter ALTER TABLE
	ActionAlter Action = "ALTER"
	// ActionDump DUMP SCHEMA
	ActionDump Action = "DUMP"
	// ActionExplain EXPLAIN <statement>
	ActionExplain Action = "EXPLAIN"
	// ActionLoad LOAD <file> INTO <table>
	ActionLoad Action = "LOAD"
)

// Statement is one parsed statement
type Statement interface {
	Node
	statementNode()
	Action() Action
}

// Program is the result of parsing a text
type Program struct {
	Statements []Statement
	// Partial is set when the last statement is not terminated by ';'
	Partial bool
}

func (p *Program) String() string {
	var out bytes.Buffer

	for i, s := range p.Statements {
		if i > 0 {
			out.WriteString(" ")
		}

		out.WriteString(s.String())

		if i < len(p.Statements)-1 || !p.Partial {
			out.WriteString(";")
		}
	}

	return out.String()
}

// SelectionItem is one projected expression with its optional alias
type SelectionItem struct {
	Expression Expression
	Alias      string
}

func (si *SelectionItem) String() string {
	if si.Alias == "" {
		return si.Expression.String()
	}

	return si.Expression.String() + " AS " + QuoteIdent(si.Alias)
}

// SelectStatement SELECT [CONSISTENT] <selection> FROM <table> ...
type SelectStatement struct {
	Token      Token
	Consistent bool
	// Selection is nil for *
	Selection []*SelectionItem
	Table     string
	Where     Expression
	Using     string
	Limit     int64
	// Order is "", ASC or DESC
	Order string
	// Save is the file the rows are written to
	Save string
}

func (s *SelectStatement) statementNode() {}

// Action returns ActionSelect
func (s *SelectStatement) Action() Action { return ActionSelect }

// TokenLiteral returns the literal token of the node
func (s *SelectStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *SelectStatement) Pos() int { return s.Token.Pos }

func (s *SelectStatement) String() string {
	var out bytes.Buffer

	out.WriteString("SELECT ")
	writeRead(&out, s.Consistent, s.Selection, s.Table, "WHERE", s.Where, s.Using, s.Limit)

	if s.Order != "" {
		out.WriteString(" " + s.Order)
	}

	writeSave(&out, s.Save)

	return out.String()
}

// ScanStatement SCAN [CONSISTENT] <selection> FROM <table> [FILTER ...]
type ScanStatement struct {
	Token      Token
	Consistent bool
	Selection  []*SelectionItem
	Table      string
	Where      Expression
	Using      string
	Limit      int64
	Save       string
}

func (s *ScanStatement) statementNode() {}

// Action returns ActionScan
func (s *ScanStatement) Action() Action { return ActionScan }

// TokenLiteral returns the literal token of the node
func (s *ScanStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *ScanStatement) Pos() int { return s.Token.Pos }

func (s *ScanStatement) String() string {
	var out bytes.Buffer

	out.WriteString("SCAN ")
	writeRead(&out, s.Consistent, s.Selection, s.Table, "FILTER", s.Where, s.Using, s.Limit)
	writeSave(&out, s.Save)

	return out.String()
}

// CountStatement COUNT [CONSISTENT] <table> [WHERE ...] [USING <index>]
type CountStatement struct {
	Token      Token
	Consistent bool
	Table      string
	Where      Expression
	Using      string
}

func (s *CountStatement) statementNode() {}

// Action returns ActionCount
func (s *CountStatement) Action() Action { return ActionCount }

// TokenLiteral returns the literal token of the node
func (s *CountStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *CountStatement) Pos() int { return s.Token.Pos }

func (s *CountStatement) String() string {
	var out bytes.Buffer

	out.WriteString("COUNT ")

	if s.Consistent {
		out.WriteString("CONSISTENT ")
	}

	out.WriteString(QuoteIdent(s.Table))
	writeWhere(&out, "WHERE", s.Where, s.Using)

	return out.String()
}

func writeRead(out *bytes.Buffer, consistent bool, selection []*SelectionItem, table, filter string, where Expression, using string, limit int64) {
	if consistent {
		out.WriteString("CONSISTENT ")
	}

	if selection == nil {
		out.WriteString("*")
	}

	for i, item := range selection {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString(item.String())
	}

	out.WriteString(" FROM ")
	out.WriteString(QuoteIdent(table))
	writeWhere(out, filter, where, using)

	if limit > 0 {
		out.WriteString(" LIMIT ")
		out.WriteString(strconv.FormatInt(limit, 10))
	}
}

func writeSave(out *bytes.Buffer, file string) {
	if file != "" {
		out.WriteString(" SAVE ")
		out.WriteString(types.Quote(file))
	}
}

func writeWhere(out *bytes.Buffer, keyword string, where Expression, using string) {
	if where != nil {
		out.WriteString(" " + keyword + " ")
		out.WriteString(where.String())
	}

	if using != "" {
		out.WriteString(" USING ")
		out.WriteString(QuoteIdent(using))
	}
}

// Key types of attribute declarations
const (
	KeyHash  = "HASH"
	KeyRange = "RANGE"
)

// Index projection types
const (
	ProjectionAll     = "ALL"
	ProjectionKeys    = "KEYS"
	ProjectionInclude = "INCLUDE"
)

var attributeTypeNames = map[string]string{
	"S": "STRING",
	"N": "NUMBER",
	"B": "BINARY",
}

// AttributeTypeName renders a key attribute type code (S, N, B)
func AttributeTypeName(code string) string {
	return attributeTypeNames[code]
}

// Throughput is a read/write capacity pair; a nil member is written *
type Throughput struct {
	Read  *int64
	Write *int64
}

func (t *Throughput) String() string {
	return "THROUGHPUT (" + capacityString(t.Read) + ", " + capacityString(t.Write) + ")"
}

func capacityString(c *int64) string {
	if c == nil {
		return "*"
	}

	return strconv.FormatInt(*c, 10)
}

// LocalIndexDeclaration is the INDEX(...) suffix of an attribute declaration
type LocalIndexDeclaration struct {
	Name       string
	Projection string
	Include    []string
}

// AttributeDeclaration <name> <TYPE> [HASH KEY | RANGE KEY | INDEX(...)]
type AttributeDeclaration struct {
	Name string
	// Type is S, N or B
	Type  string
	Key   string
	Index *LocalIndexDeclaration
}

func (a *AttributeDeclaration) String() string {
	var out bytes.Buffer

	out.WriteString(QuoteIdent(a.Name))
	out.WriteString(" ")
	out.WriteString(AttributeTypeName(a.Type))

	if a.Key != "" {
		out.WriteString(" " + a.Key + " KEY")
	}

	if a.Index != nil {
		out.WriteString(" " + a.Index.Projection + " INDEX(")
		out.WriteString(types.Quote(a.Index.Name))

		if a.Index.Projection == ProjectionInclude {
			out.WriteString(", " + includeString(a.Index.Include))
		}

		out.WriteString(")")
	}

	return out.String()
}

// GlobalIndexDeclaration GLOBAL [ALL|KEYS|INCLUDE] INDEX (<name>, <hash> ...)
type GlobalIndexDeclaration struct {
	Name       string
	Projection string
	Include    []string
	HashKey    string
	HashType   string
	RangeKey   string
	RangeType  string
	Throughput *Throughput
}

func (g *GlobalIndexDeclaration) String() string {
	var out bytes.Buffer

	out.WriteString("GLOBAL " + g.Projection + " INDEX (")
	out.WriteString(types.Quote(g.Name))
	out.WriteString(", ")
	out.WriteString(QuoteIdent(g.HashKey))

	if g.HashType != "" {
		out.WriteString(" " + AttributeTypeName(g.HashType))
	}

	if g.RangeKey != "" {
		out.WriteString(", ")
		out.WriteString(QuoteIdent(g.RangeKey))

		if g.RangeType != "" {
			out.WriteString(" " + AttributeTypeName(g.RangeType))
		}
	}

	if g.Projection == ProjectionInclude {
		out.WriteString(", " + includeString(g.Include))
	}

	if g.Throughput != nil {
		out.WriteString(", " + g.Throughput.String())
	}

	out.WriteString(")")

	return out.String()
}

func includeString(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		quoted = append(quoted, types.Quote(n))
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}

// CreateStatement CREATE TABLE [IF NOT EXISTS] <table> (...) [GLOBAL ... INDEX (...)]...
type CreateStatement struct {
	Token       Token
	IfNotExists bool
	Table       string
	Attributes  []*AttributeDeclaration
	// Throughput is nil for on-demand tables
	Throughput    *Throughput
	GlobalIndexes []*GlobalIndexDeclaration
}

func (s *CreateStatement) statementNode() {}

// Action returns ActionCreate
func (s *CreateStatement) Action() Action { return ActionCreate }

// TokenLiteral returns the literal token of the node
func (s *CreateStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *CreateStatement) Pos() int { return s.Token.Pos }

// String renders the canonical single line form, DUMP SCHEMA output uses it
func (s *CreateStatement) String() string {
	var out bytes.Buffer

	out.WriteString("CREATE TABLE ")

	if s.IfNotExists {
		out.WriteString("IF NOT EXISTS ")
	}

	out.WriteString(QuoteIdent(s.Table))
	out.WriteString(" (")

	for i, a := range s.Attributes {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString(a.String())
	}

	if s.Throughput != nil {
		out.WriteString(", " + s.Throughput.String())
	}

	out.WriteString(")")

	for _, g := range s.GlobalIndexes {
		out.WriteString(" ")
		out.WriteString(g.String())
	}

	return out.String()
}

// Assignment is one <attr> = <value> pair of the keyword INSERT form
type Assignment struct {
	Name  string
	Value Expression
}

// InsertStatement INSERT INTO <table> (<attrs>) VALUES (...), ...
// or INSERT INTO <table> (<attr> = <value>, ...), ...
type InsertStatement struct {
	Token      Token
	Table      string
	Attributes []string
	Rows       [][]Expression
	Items      [][]*Assignment
}

func (s *InsertStatement) statementNode() {}

// Action returns ActionInsert
func (s *InsertStatement) Action() Action { return ActionInsert }

// TokenLiteral returns the literal token of the node
func (s *InsertStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *InsertStatement) Pos() int { return s.Token.Pos }

func (s *InsertStatement) String() string {
	var out bytes.Buffer

	out.WriteString("INSERT INTO ")
	out.WriteString(QuoteIdent(s.Table))
	out.WriteString(" ")

	if len(s.Items) > 0 {
		for i, item := range s.Items {
			if i > 0 {
				out.WriteString(", ")
			}

			parts := make([]string, 0, len(item))
			for _, a := range item {
				parts = append(parts, QuoteIdent(a.Name)+" = "+a.Value.String())
			}

			out.WriteString("(" + strings.Join(parts, ", ") + ")")
		}

		return out.String()
	}

	names := make([]string, 0, len(s.Attributes))
	for _, a := range s.Attributes {
		names = append(names, QuoteIdent(a))
	}

	out.WriteString("(" + strings.Join(names, ", ") + ") VALUES ")

	for i, row := range s.Rows {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString("(" + joinExpressions(row) + ")")
	}

	return out.String()
}

// Update verbs
const (
	VerbSet    = "SET"
	VerbRemove = "REMOVE"
	VerbAdd    = "ADD"
	VerbDelete = "DELETE"
)

// UpdateAction is a path with its value; Value is nil for REMOVE
type UpdateAction struct {
	Path  Expression
	Value Expression
}

func (a *UpdateAction) render(verb string) string {
	switch {
	case a.Value == nil:
		return a.Path.String()
	case verb == VerbSet:
		return a.Path.String() + " = " + a.Value.String()
	default:
		return a.Path.String() + " " + a.Value.String()
	}
}

// UpdateClause is one verb followed by its comma separated actions
type UpdateClause struct {
	Verb    string
	Actions []*UpdateAction
}

func (c *UpdateClause) String() string {
	parts := make([]string, 0, len(c.Actions))
	for _, a := range c.Actions {
		parts = append(parts, a.render(c.Verb))
	}

	return c.Verb + " " + strings.Join(parts, ", ")
}

// Values returned by UPDATE and DELETE
const (
	ReturnsNone       = "NONE"
	ReturnsAllOld     = "ALL_OLD"
	ReturnsAllNew     = "ALL_NEW"
	ReturnsUpdatedOld = "UPDATED_OLD"
	ReturnsUpdatedNew = "UPDATED_NEW"
)

// UpdateStatement UPDATE <table> <clauses> WHERE ... [USING <profile>] [RETURNS ...]
type UpdateStatement struct {
	Token   Token
	Table   string
	Clauses []*UpdateClause
	Where   Expression
	Using   string
	Returns string
}

func (s *UpdateStatement) statementNode() {}

// Action returns ActionUpdate
func (s *UpdateStatement) Action() Action { return ActionUpdate }

// TokenLiteral returns the literal token of the node
func (s *UpdateStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *UpdateStatement) Pos() int { return s.Token.Pos }

func (s *UpdateStatement) String() string {
	var out bytes.Buffer

	out.WriteString("UPDATE ")
	out.WriteString(QuoteIdent(s.Table))

	for _, c := range s.Clauses {
		out.WriteString(" ")
		out.WriteString(c.String())
	}

	writeWhere(&out, "WHERE", s.Where, s.Using)
	writeReturns(&out, s.Returns)

	return out.String()
}

func writeReturns(out *bytes.Buffer, returns string) {
	if returns == "" || returns == ReturnsNone {
		return
	}

	out.WriteString(" RETURNS ")
	out.WriteString(strings.ReplaceAll(returns, "_", " "))
}

// DeleteStatement DELETE FROM <table> WHERE ... [USING <profile>] [RETURNS ...]
type DeleteStatement struct {
	Token   Token
	Table   string
	Where   Expression
	Using   string
	Returns string
}

func (s *DeleteStatement) statementNode() {}

// Action returns ActionDelete
func (s *DeleteStatement) Action() Action { return ActionDelete }

// TokenLiteral returns the literal token of the node
func (s *DeleteStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *DeleteStatement) Pos() int { return s.Token.Pos }

func (s *DeleteStatement) String() string {
	var out bytes.Buffer

	out.WriteString("DELETE FROM ")
	out.WriteString(QuoteIdent(s.Table))
	writeWhere(&out, "WHERE", s.Where, s.Using)
	writeReturns(&out, s.Returns)

	return out.String()
}

// DropStatement DROP TABLE [IF EXISTS] <table>
type DropStatement struct {
	Token    Token
	IfExists bool
	Table    string
}

func (s *DropStatement) statementNode() {}

// Action returns ActionDrop
func (s *DropStatement) Action() Action { return ActionDrop }

// TokenLiteral returns the literal token of the node
func (s *DropStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *DropStatement) Pos() int { return s.Token.Pos }

func (s *DropStatement) String() string {
	if s.IfExists {
		return "DROP TABLE IF EXISTS " + QuoteIdent(s.Table)
	}

	return "DROP TABLE " + QuoteIdent(s.Table)
}

// AlterStatement changes throughput, drops or creates a global index.
// Exactly one of Throughput, DropIndex and CreateIndex is set.
type AlterStatement struct {
	Token Token
	Table string
	// Index is the global index whose throughput changes, "" for the table
	Index       string
	Throughput  *Throughput
	DropIndex   string
	CreateIndex *GlobalIndexDeclaration
}

func (s *AlterStatement) statementNode() {}

// Action returns ActionAlter
func (s *AlterStatement) Action() Action { return ActionAlter }

// TokenLiteral returns the literal token of the node
func (s *AlterStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *AlterStatement) Pos() int { return s.Token.Pos }

func (s *AlterStatement) String() string {
	prefix := "ALTER TABLE " + QuoteIdent(s.Table) + " "

	switch {
	case s.DropIndex != "":
		return prefix + "DROP INDEX " + types.Quote(s.DropIndex)
	case s.CreateIndex != nil:
		return prefix + "CREATE " + s.CreateIndex.String()
	case s.Index != "":
		return prefix + "SET INDEX " + types.Quote(s.Index) + " " + s.Throughput.String()
	default:
		return prefix + "SET " + s.Throughput.String()
	}
}

// DumpStatement DUMP SCHEMA [<table>, ...]
type DumpStatement struct {
	Token  Token
	Tables []string
}

func (s *DumpStatement) statementNode() {}

// Action returns ActionDump
func (s *DumpStatement) Action() Action { return ActionDump }

// TokenLiteral returns the literal token of the node
func (s *DumpStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *DumpStatement) Pos() int { return s.Token.Pos }

func (s *DumpStatement) String() string {
	if len(s.Tables) == 0 {
		return "DUMP SCHEMA"
	}

	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, QuoteIdent(t))
	}

	return "DUMP SCHEMA " + strings.Join(names, ", ")
}

// LoadStatement LOAD <file> INTO <table>
type LoadStatement struct {
	Token Token
	File  string
	Table string
}

func (s *LoadStatement) statementNode() {}

// Action returns ActionLoad
func (s *LoadStatement) Action() Action { return ActionLoad }

// TokenLiteral returns the literal token of the node
func (s *LoadStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *LoadStatement) Pos() int { return s.Token.Pos }

func (s *LoadStatement) String() string {
	return "LOAD " + types.Quote(s.File) + " INTO " + QuoteIdent(s.Table)
}

// ExplainStatement EXPLAIN <statement>
type ExplainStatement struct {
	Token     Token
	Statement Statement
}

func (s *ExplainStatement) statementNode() {}

// Action returns ActionExplain
func (s *ExplainStatement) Action() Action { return ActionExplain }

// TokenLiteral returns the literal token of the node
func (s *ExplainStatement) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *ExplainStatement) Pos() int { return s.Token.Pos }

func (s *ExplainStatement) String() string {
	return "EXPLAIN " + s.Statement.String()
}
