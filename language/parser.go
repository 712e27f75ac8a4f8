package language

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jspreddy/dql/types"
)

type (
	statementParseFn func(*state) Statement
	prefixParseFn    func(*state) Expression
	infixParseFn     func(*state, Expression) Expression
)

const (
	_ int = iota
	precedenceLowest
	precedenceOR      // OR
	precedenceAND     // AND
	precedenceNOT     // NOT
	precedenceEquals  // = <>
	precedenceBetween // BETWEEN IN
	precedenceCompare // < <= > >=
	precedenceSum     // + -
	precedenceProduct // * /
	precedencePrefix  // -x
	precedenceCall    // myFunction(X)
	precedenceIndex   // [] .
)

var precedences = map[TokenType]int{
	OR:       precedenceOR,
	AND:      precedenceAND,
	EQ:       precedenceEquals,
	NotEQ:    precedenceEquals,
	BETWEEN:  precedenceBetween,
	IN:       precedenceBetween,
	LT:       precedenceCompare,
	GT:       precedenceCompare,
	LTE:      precedenceCompare,
	GTE:      precedenceCompare,
	PLUS:     precedenceSum,
	MINUS:    precedenceSum,
	ASTERISK: precedenceProduct,
	SLASH:    precedenceProduct,
	LPAREN:   precedenceCall,
	LBRACKET: precedenceIndex,
	DOT:      precedenceIndex,
}

// functions that accept a single string argument without parentheses
var stringFunctions = map[string]bool{
	"timestamp":    true,
	"ts":           true,
	"utctimestamp": true,
	"utcts":        true,
	"interval":     true,
}

// Parser holds the dispatch tables of the DQL grammar. It is immutable after
// New and safe for concurrent use.
type Parser struct {
	statements     map[string]statementParseFn
	prefixParseFns map[TokenType]prefixParseFn
	infixParseFns  map[TokenType]infixParseFn
}

// New creates a parser
func New() *Parser {
	p := &Parser{
		statements: map[string]statementParseFn{
			"SELECT":  (*state).parseSelect,
			"SCAN":    (*state).parseScan,
			"COUNT":   (*state).parseCount,
			"CREATE":  (*state).parseCreate,
			"INSERT":  (*state).parseInsert,
			"UPDATE":  (*state).parseUpdate,
			"DELETE":  (*state).parseDelete,
			"DROP":    (*state).parseDrop,
			"ALTER":   (*state).parseAlter,
			"DUMP":    (*state).parseDump,
			"EXPLAIN": (*state).parseExplain,
			"LOAD":    (*state).parseLoad,
		},
		prefixParseFns: map[TokenType]prefixParseFn{},
		infixParseFns:  map[TokenType]infixParseFn{},
	}

	p.registerPrefix(IDENT, (*state).parseIdentifier)
	p.registerPrefix(NUMBER, (*state).parseNumber)
	p.registerPrefix(STRING, (*state).parseString)
	p.registerPrefix(BINARY, (*state).parseBinary)
	p.registerPrefix(MINUS, (*state).parseMinus)
	p.registerPrefix(NOT, (*state).parsePrefixExpression)
	p.registerPrefix(LPAREN, (*state).parseGroupedExpression)
	p.registerPrefix(LBRACKET, (*state).parseList)
	p.registerPrefix(LBRACE, (*state).parseMap)
	p.registerPrefix(ASTERISK, (*state).parseStar)

	for _, t := range []TokenType{EQ, NotEQ, LT, GT, LTE, GTE, AND, OR, PLUS, MINUS, ASTERISK, SLASH} {
		p.registerInfix(t, (*state).parseInfixExpression)
	}

	p.registerInfix(BETWEEN, (*state).parseBetweenExpression)
	p.registerInfix(IN, (*state).parseInExpression)
	p.registerInfix(LPAREN, (*state).parseCallExpression)
	p.registerInfix(LBRACKET, (*state).parseIndexExpression)
	p.registerInfix(DOT, (*state).parseIndexExpression)

	return p
}

func (p *Parser) registerPrefix(tokenType TokenType, fn prefixParseFn) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType TokenType, fn infixParseFn) {
	p.infixParseFns[tokenType] = fn
}

var defaultParser = New()

// Parse parses a text with the default parser
func Parse(text string) (*Program, error) {
	return defaultParser.Parse(text)
}

// ParseExpression parses a single constraint or value expression
func ParseExpression(text string) (Expression, error) {
	return defaultParser.ParseExpression(text)
}

// ParseUpdate parses a sequence of SET/REMOVE/ADD/DELETE clauses
func ParseUpdate(text string) ([]*UpdateClause, error) {
	return defaultParser.ParseUpdate(text)
}

// ParseSelection parses a comma separated projection list
func ParseSelection(text string) ([]*SelectionItem, error) {
	return defaultParser.ParseSelection(text)
}

// IsComplete reports whether the text holds only ';' terminated statements.
// Text that fails for any other reason than reaching the end of the input is
// complete, so the caller submits it and gets the error.
func IsComplete(text string) bool {
	program, failure := defaultParser.parse(text)
	if failure != nil {
		return !failure.incomplete
	}

	return !program.Partial
}

// parseFailure is the panic value used to unwind the parser on the first error
type parseFailure struct {
	err        *types.ParseError
	incomplete bool
}

type state struct {
	p         *Parser
	l         *Lexer
	input     string
	curToken  Token
	peekToken Token
}

func (p *Parser) newState(text string) *state {
	s := &state{p: p, l: NewLexer(text), input: text}

	// Read two tokens, so curToken and peekToken are both set
	s.nextToken()
	s.nextToken()

	return s
}

func catch(failure **parseFailure) {
	r := recover()
	if r == nil {
		return
	}

	f, ok := r.(*parseFailure)
	if !ok {
		panic(r)
	}

	*failure = f
}

// Parse parses one or more ';' separated statements
func (p *Parser) Parse(text string) (*Program, error) {
	program, failure := p.parse(text)
	if failure != nil {
		return nil, failure.err
	}

	return program, nil
}

func (p *Parser) parse(text string) (program *Program, failure *parseFailure) {
	defer catch(&failure)

	s := p.newState(text)
	program = &Program{}

	for !s.curTokenIs(EOF) {
		if s.curTokenIs(SEMICOLON) {
			s.nextToken()

			continue
		}

		program.Statements = append(program.Statements, s.parseStatement())

		if s.peekTokenIs(EOF) {
			program.Partial = true

			break
		}

		s.expectPeek(SEMICOLON)
		s.nextToken()
	}

	return program, nil
}

// ParseExpression parses a single expression that spans the whole text
func (p *Parser) ParseExpression(text string) (exp Expression, err error) {
	failure := p.run(text, func(s *state) {
		exp = s.parseExpression(precedenceLowest)
	})

	if failure != nil {
		return nil, failure.err
	}

	return exp, nil
}

// ParseUpdate parses update clauses that span the whole text
func (p *Parser) ParseUpdate(text string) (clauses []*UpdateClause, err error) {
	failure := p.run(text, func(s *state) {
		verb, ok := s.curVerb()
		if !ok {
			s.fail("SET, REMOVE, ADD or DELETE", s.curToken)
		}

		clauses = append(clauses, s.parseUpdateClause(verb))

		for {
			verb, ok := s.peekVerb()
			if !ok {
				return
			}

			s.nextToken()
			clauses = append(clauses, s.parseUpdateClause(verb))
		}
	})

	if failure != nil {
		return nil, failure.err
	}

	return clauses, nil
}

// ParseSelection parses a projection list that spans the whole text
func (p *Parser) ParseSelection(text string) (items []*SelectionItem, err error) {
	failure := p.run(text, func(s *state) {
		items = s.parseSelectionItems()
	})

	if failure != nil {
		return nil, failure.err
	}

	return items, nil
}

func (p *Parser) run(text string, fn func(*state)) (failure *parseFailure) {
	defer catch(&failure)

	s := p.newState(text)
	fn(s)

	if s.peekTokenIs(SEMICOLON) {
		s.nextToken()
	}

	s.expectPeek(EOF)

	return nil
}

// statements

func (s *state) parseStatement() Statement {
	if !s.curTokenIs(IDENT) || s.curToken.Quoted {
		s.fail("statement", s.curToken)
	}

	fn, ok := s.p.statements[strings.ToUpper(s.curToken.Literal)]
	if !ok {
		s.fail("statement", s.curToken)
	}

	return fn(s)
}

func (s *state) parseSelect() Statement {
	stmt := &SelectStatement{Token: s.curToken}
	stmt.Consistent = s.acceptKeyword("CONSISTENT")

	s.nextToken()
	stmt.Selection = s.parseSelection()

	count := isCountSelection(stmt.Selection)
	if count {
		stmt.Selection = nil
	}

	s.expectKeyword("FROM")
	stmt.Table = s.parseName("table name")

	for {
		switch {
		case s.acceptKeyword("WHERE"):
			stmt.Where = s.parseConstraint()
		case s.acceptKeyword("USING"):
			stmt.Using = s.parseName("index name")
		case !count && s.acceptKeyword("LIMIT"):
			stmt.Limit = s.parseLimit()
		case !count && (s.peekKeyword("ASC") || s.peekKeyword("DESC")):
			s.nextToken()
			stmt.Order = strings.ToUpper(s.curToken.Literal)
		case !count && s.acceptKeyword("SAVE"):
			stmt.Save = s.parseName("file name")
		default:
			if count {
				return &CountStatement{
					Token:      stmt.Token,
					Consistent: stmt.Consistent,
					Table:      stmt.Table,
					Where:      stmt.Where,
					Using:      stmt.Using,
				}
			}

			return stmt
		}
	}
}

func isCountSelection(items []*SelectionItem) bool {
	if len(items) != 1 || items[0].Alias != "" {
		return false
	}

	call, ok := items[0].Expression.(*CallExpression)
	if !ok || call.Name() != "count" || len(call.Arguments) != 1 {
		return false
	}

	_, ok = call.Arguments[0].(*Star)

	return ok
}

func (s *state) parseScan() Statement {
	stmt := &ScanStatement{Token: s.curToken}
	stmt.Consistent = s.acceptKeyword("CONSISTENT")

	s.nextToken()
	stmt.Selection = s.parseSelection()

	s.expectKeyword("FROM")
	stmt.Table = s.parseName("table name")

	for {
		switch {
		case s.acceptKeyword("WHERE"), s.acceptKeyword("FILTER"):
			stmt.Where = s.parseConstraint()
		case s.acceptKeyword("USING"):
			stmt.Using = s.parseName("index name")
		case s.acceptKeyword("LIMIT"):
			stmt.Limit = s.parseLimit()
		case s.acceptKeyword("SAVE"):
			stmt.Save = s.parseName("file name")
		default:
			return stmt
		}
	}
}

func (s *state) parseCount() Statement {
	stmt := &CountStatement{Token: s.curToken}
	stmt.Consistent = s.acceptKeyword("CONSISTENT")

	if s.peekTokenIs(ASTERISK) {
		s.nextToken()
		s.expectKeyword("FROM")
	}

	stmt.Table = s.parseName("table name")

	for {
		switch {
		case s.acceptKeyword("WHERE"):
			stmt.Where = s.parseConstraint()
		case s.acceptKeyword("USING"):
			stmt.Using = s.parseName("index name")
		default:
			return stmt
		}
	}
}

// parseSelection returns nil for a lone *
func (s *state) parseSelection() []*SelectionItem {
	items := s.parseSelectionItems()
	if len(items) == 1 && items[0].Alias == "" {
		if _, ok := items[0].Expression.(*Star); ok {
			return nil
		}
	}

	return items
}

func (s *state) parseSelectionItems() []*SelectionItem {
	items := []*SelectionItem{s.parseSelectionItem()}

	for s.peekTokenIs(COMMA) {
		s.nextToken()
		s.nextToken()
		items = append(items, s.parseSelectionItem())
	}

	return items
}

func (s *state) parseSelectionItem() *SelectionItem {
	item := &SelectionItem{Expression: s.parseExpression(precedenceLowest)}

	if s.acceptKeyword("AS") {
		item.Alias = s.parseName("alias")
	}

	return item
}

func (s *state) parseConstraint() Expression {
	s.nextToken()

	return s.parseExpression(precedenceLowest)
}

func (s *state) parseLimit() int64 {
	s.expectPeek(NUMBER)

	n, err := strconv.ParseInt(s.curToken.Literal, 10, 64)
	if err != nil || n <= 0 {
		s.fail("positive integer", s.curToken)
	}

	return n
}

func (s *state) parseCreate() Statement {
	stmt := &CreateStatement{Token: s.curToken}

	s.expectKeyword("TABLE")

	if s.acceptKeyword("IF") {
		s.expectPeek(NOT)
		s.expectKeyword("EXISTS")

		stmt.IfNotExists = true
	}

	stmt.Table = s.parseName("table name")
	s.expectPeek(LPAREN)

	for {
		s.nextToken()

		if s.curKeyword("THROUGHPUT") && s.peekTokenIs(LPAREN) {
			stmt.Throughput = s.parseThroughput()
		} else {
			stmt.Attributes = append(stmt.Attributes, s.parseAttributeDeclaration())
		}

		if !s.peekTokenIs(COMMA) {
			break
		}

		s.nextToken()
	}

	s.expectPeek(RPAREN)

	for s.acceptKeyword("GLOBAL") {
		stmt.GlobalIndexes = append(stmt.GlobalIndexes, s.parseGlobalIndex())
	}

	return stmt
}

// parseAttributeDeclaration starts with the attribute name as the current token
func (s *state) parseAttributeDeclaration() *AttributeDeclaration {
	attr := &AttributeDeclaration{Name: s.curName("attribute name")}

	s.nextToken()
	attr.Type = s.curAttributeType()

	switch {
	case s.acceptKeyword("HASH"):
		s.expectKeyword("KEY")

		attr.Key = KeyHash
	case s.acceptKeyword("RANGE"):
		s.expectKeyword("KEY")

		attr.Key = KeyRange
	case s.peekKeyword("ALL"), s.peekKeyword("KEYS"), s.peekKeyword("INCLUDE"), s.peekKeyword("INDEX"):
		attr.Index = s.parseLocalIndex()
	}

	return attr
}

var attributeTypes = map[string]string{
	"STRING": "S",
	"STR":    "S",
	"S":      "S",
	"NUMBER": "N",
	"NUM":    "N",
	"N":      "N",
	"BINARY": "B",
	"BIN":    "B",
	"B":      "B",
}

func (s *state) curAttributeType() string {
	code, ok := attributeTypes[strings.ToUpper(s.curToken.Literal)]
	if !s.curTokenIs(IDENT) || s.curToken.Quoted || !ok {
		s.fail("STRING, NUMBER or BINARY", s.curToken)
	}

	return code
}

func (s *state) parseProjection() string {
	for _, p := range []string{ProjectionAll, ProjectionKeys, ProjectionInclude} {
		if s.acceptKeyword(p) {
			return p
		}
	}

	return ProjectionAll
}

func (s *state) parseLocalIndex() *LocalIndexDeclaration {
	index := &LocalIndexDeclaration{Projection: s.parseProjection()}

	s.expectKeyword("INDEX")
	s.expectPeek(LPAREN)
	index.Name = s.parseName("index name")

	if index.Projection == ProjectionInclude {
		s.expectPeek(COMMA)
		index.Include = s.parseNameList()
	}

	s.expectPeek(RPAREN)

	return index
}

// parseGlobalIndex starts after GLOBAL
func (s *state) parseGlobalIndex() *GlobalIndexDeclaration {
	index := &GlobalIndexDeclaration{Projection: s.parseProjection()}

	s.expectKeyword("INDEX")
	s.expectPeek(LPAREN)
	index.Name = s.parseName("index name")
	s.expectPeek(COMMA)
	index.HashKey = s.parseName("hash key")

	if s.peekTokenIs(IDENT) {
		s.nextToken()
		index.HashType = s.curAttributeType()
	}

	for s.peekTokenIs(COMMA) {
		s.nextToken()

		switch {
		case s.peekTokenIs(LBRACKET):
			index.Include = s.parseNameList()
		case s.peekTokenIs(IDENT) || s.peekTokenIs(STRING):
			s.nextToken()

			if s.curKeyword("THROUGHPUT") && s.peekTokenIs(LPAREN) {
				index.Throughput = s.parseThroughput()

				continue
			}

			if index.RangeKey != "" || index.Include != nil || index.Throughput != nil {
				s.fail("include list or THROUGHPUT", s.curToken)
			}

			index.RangeKey = s.curName("range key")

			if s.peekTokenIs(IDENT) {
				s.nextToken()
				index.RangeType = s.curAttributeType()
			}
		default:
			s.fail("range key, include list or THROUGHPUT", s.peekToken)
		}
	}

	s.expectPeek(RPAREN)

	if index.Projection == ProjectionInclude && index.Include == nil {
		s.fail("include list", s.curToken)
	}

	return index
}

// parseNameList parses ['a', b, ...] starting before the '['
func (s *state) parseNameList() []string {
	s.expectPeek(LBRACKET)

	names := []string{}

	if s.peekTokenIs(RBRACKET) {
		s.nextToken()

		return names
	}

	names = append(names, s.parseName("attribute name"))

	for s.peekTokenIs(COMMA) {
		s.nextToken()
		names = append(names, s.parseName("attribute name"))
	}

	s.expectPeek(RBRACKET)

	return names
}

// parseThroughput starts on the THROUGHPUT keyword
func (s *state) parseThroughput() *Throughput {
	t := &Throughput{}

	s.expectPeek(LPAREN)
	t.Read = s.parseCapacity()
	s.expectPeek(COMMA)
	t.Write = s.parseCapacity()
	s.expectPeek(RPAREN)

	return t
}

func (s *state) parseCapacity() *int64 {
	s.nextToken()

	if s.curTokenIs(ASTERISK) {
		return nil
	}

	if !s.curTokenIs(NUMBER) {
		s.fail("capacity or *", s.curToken)
	}

	n, err := strconv.ParseInt(s.curToken.Literal, 10, 64)
	if err != nil || n < 0 {
		s.fail("capacity or *", s.curToken)
	}

	return &n
}

func (s *state) parseInsert() Statement {
	stmt := &InsertStatement{Token: s.curToken}

	s.expectKeyword("INTO")
	stmt.Table = s.parseName("table name")
	s.expectPeek(LPAREN)

	first := s.parseName("attribute name")

	if s.peekTokenIs(EQ) {
		stmt.Items = append(stmt.Items, s.parseAssignments(first))

		for s.peekTokenIs(COMMA) {
			s.nextToken()
			s.expectPeek(LPAREN)
			stmt.Items = append(stmt.Items, s.parseAssignments(s.parseName("attribute name")))
		}

		return stmt
	}

	stmt.Attributes = []string{first}

	for s.peekTokenIs(COMMA) {
		s.nextToken()
		stmt.Attributes = append(stmt.Attributes, s.parseName("attribute name"))
	}

	s.expectPeek(RPAREN)
	s.expectKeyword("VALUES")

	for {
		s.expectPeek(LPAREN)
		stmt.Rows = append(stmt.Rows, s.parseExpressionList(RPAREN))

		if !s.peekTokenIs(COMMA) {
			return stmt
		}

		s.nextToken()
	}
}

// parseAssignments parses "= value, name = value, ...)" after the first name
func (s *state) parseAssignments(first string) []*Assignment {
	name := first

	var items []*Assignment

	for {
		s.expectPeek(EQ)
		s.nextToken()
		items = append(items, &Assignment{Name: name, Value: s.parseExpression(precedenceLowest)})

		if !s.peekTokenIs(COMMA) {
			break
		}

		s.nextToken()
		name = s.parseName("attribute name")
	}

	s.expectPeek(RPAREN)

	return items
}

var verbs = []string{VerbSet, VerbRemove, VerbAdd, VerbDelete}

func (s *state) curVerb() (string, bool) {
	for _, v := range verbs {
		if s.curKeyword(v) {
			return v, true
		}
	}

	return "", false
}

func (s *state) peekVerb() (string, bool) {
	for _, v := range verbs {
		if s.peekKeyword(v) {
			return v, true
		}
	}

	return "", false
}

func (s *state) parseUpdate() Statement {
	stmt := &UpdateStatement{Token: s.curToken}
	stmt.Table = s.parseName("table name")

	for {
		verb, ok := s.peekVerb()
		if !ok {
			break
		}

		s.nextToken()
		stmt.Clauses = append(stmt.Clauses, s.parseUpdateClause(verb))
	}

	if len(stmt.Clauses) == 0 {
		s.fail("SET, REMOVE, ADD or DELETE", s.peekToken)
	}

	s.expectKeyword("WHERE")
	stmt.Where = s.parseConstraint()
	stmt.Using, stmt.Returns = s.parseWriteOptions(true)

	return stmt
}

// parseUpdateClause starts on the verb
func (s *state) parseUpdateClause(verb string) *UpdateClause {
	clause := &UpdateClause{Verb: verb}

	for {
		s.nextToken()

		action := &UpdateAction{Path: s.parsePath()}

		switch verb {
		case VerbSet:
			s.expectPeek(EQ)
			s.nextToken()
			action.Value = s.parseExpression(precedenceLowest)
		case VerbAdd, VerbDelete:
			s.nextToken()
			action.Value = s.parseExpression(precedenceLowest)
		}

		clause.Actions = append(clause.Actions, action)

		if !s.peekTokenIs(COMMA) {
			return clause
		}

		s.nextToken()
	}
}

// parsePath parses attr[1].field starting on the attribute name
func (s *state) parsePath() Expression {
	if !s.curTokenIs(IDENT) {
		s.fail("attribute path", s.curToken)
	}

	var path Expression = &Identifier{Token: s.curToken, Value: s.curToken.Literal}

	for {
		switch {
		case s.peekTokenIs(LBRACKET):
			s.nextToken()
			path = s.parseIndexExpression(path)
		case s.peekTokenIs(DOT):
			s.nextToken()
			path = s.parseIndexExpression(path)
		default:
			return path
		}
	}
}

func (s *state) parseDelete() Statement {
	stmt := &DeleteStatement{Token: s.curToken}

	s.expectKeyword("FROM")
	stmt.Table = s.parseName("table name")
	s.expectKeyword("WHERE")
	stmt.Where = s.parseConstraint()
	stmt.Using, stmt.Returns = s.parseWriteOptions(false)

	return stmt
}

func (s *state) parseWriteOptions(update bool) (using, returns string) {
	returns = ReturnsNone

	for {
		switch {
		case s.acceptKeyword("USING"):
			using = s.parseName("profile name")
		case s.acceptKeyword("RETURNS"):
			returns = s.parseReturns(update)
		default:
			return using, returns
		}
	}
}

func (s *state) parseReturns(update bool) string {
	expected := "NONE or ALL OLD"
	if update {
		expected = "NONE, ALL OLD, ALL NEW, UPDATED OLD or UPDATED NEW"
	}

	s.nextToken()

	if !s.curTokenIs(IDENT) || s.curToken.Quoted {
		s.fail(expected, s.curToken)
	}

	mode := strings.ToUpper(s.curToken.Literal)

	if mode == "ALL" || mode == "UPDATED" {
		switch {
		case s.acceptKeyword("OLD"):
			mode += "_OLD"
		case s.acceptKeyword("NEW"):
			mode += "_NEW"
		default:
			s.fail("OLD or NEW", s.peekToken)
		}
	}

	switch mode {
	case ReturnsNone, ReturnsAllOld:
		return mode
	case ReturnsAllNew, ReturnsUpdatedOld, ReturnsUpdatedNew:
		if update {
			return mode
		}
	}

	s.fail(expected, s.curToken)

	return ""
}

func (s *state) parseDrop() Statement {
	stmt := &DropStatement{Token: s.curToken}

	s.expectKeyword("TABLE")

	if s.acceptKeyword("IF") {
		s.expectKeyword("EXISTS")

		stmt.IfExists = true
	}

	stmt.Table = s.parseName("table name")

	return stmt
}

func (s *state) parseAlter() Statement {
	stmt := &AlterStatement{Token: s.curToken}

	s.expectKeyword("TABLE")
	stmt.Table = s.parseName("table name")

	switch {
	case s.acceptKeyword("SET"):
		if s.acceptKeyword("INDEX") {
			stmt.Index = s.parseName("index name")
		}

		s.expectKeyword("THROUGHPUT")
		stmt.Throughput = s.parseThroughput()
	case s.acceptKeyword("DROP"):
		s.expectKeyword("INDEX")
		stmt.DropIndex = s.parseName("index name")
	case s.acceptKeyword("CREATE"):
		s.expectKeyword("GLOBAL")
		stmt.CreateIndex = s.parseGlobalIndex()
	default:
		s.fail("SET, DROP or CREATE", s.peekToken)
	}

	return stmt
}

func (s *state) parseDump() Statement {
	stmt := &DumpStatement{Token: s.curToken}

	s.expectKeyword("SCHEMA")

	if !s.peekTokenIs(IDENT) && !s.peekTokenIs(STRING) {
		return stmt
	}

	stmt.Tables = append(stmt.Tables, s.parseName("table name"))

	for s.peekTokenIs(COMMA) {
		s.nextToken()
		stmt.Tables = append(stmt.Tables, s.parseName("table name"))
	}

	return stmt
}

func (s *state) parseLoad() Statement {
	stmt := &LoadStatement{Token: s.curToken}
	stmt.File = s.parseName("file name")

	s.expectKeyword("INTO")
	stmt.Table = s.parseName("table name")

	return stmt
}

func (s *state) parseExplain() Statement {
	stmt := &ExplainStatement{Token: s.curToken}

	s.nextToken()

	if s.curKeyword("EXPLAIN") {
		s.fail("statement", s.curToken)
	}

	stmt.Statement = s.parseStatement()

	return stmt
}

// expressions

func (s *state) parseExpression(precedence int) Expression {
	prefix, ok := s.p.prefixParseFns[s.curToken.Type]
	if !ok {
		s.fail("expression", s.curToken)
	}

	leftExp := prefix(s)

	for precedence < s.peekPrecedence() {
		infix := s.p.infixParseFns[s.peekToken.Type]
		if infix == nil {
			return leftExp
		}

		s.nextToken()

		leftExp = infix(s, leftExp)
	}

	return leftExp
}

func (s *state) parseIdentifier() Expression {
	tok := s.curToken
	ident := &Identifier{Token: tok, Value: tok.Literal}

	if tok.Quoted {
		return ident
	}

	switch strings.ToLower(tok.Literal) {
	case "true":
		return &BooleanLiteral{Token: tok, Value: true}
	case "false":
		return &BooleanLiteral{Token: tok, Value: false}
	case "null":
		return &NullLiteral{Token: tok}
	}

	if stringFunctions[strings.ToLower(tok.Literal)] && s.peekTokenIs(STRING) {
		s.nextToken()

		return &CallExpression{
			Token:     s.curToken,
			Function:  ident,
			Arguments: []Expression{&StringLiteral{Token: s.curToken, Value: s.curToken.Literal}},
		}
	}

	return ident
}

func (s *state) parseNumber() Expression {
	return &NumberLiteral{Token: s.curToken, Value: s.curToken.Literal}
}

func (s *state) parseString() Expression {
	return &StringLiteral{Token: s.curToken, Value: s.curToken.Literal}
}

func (s *state) parseBinary() Expression {
	return &BinaryLiteral{Token: s.curToken, Value: []byte(s.curToken.Literal)}
}

func (s *state) parseStar() Expression {
	return &Star{Token: s.curToken}
}

// parseMinus folds a sign into a number literal
func (s *state) parseMinus() Expression {
	tok := s.curToken

	if s.peekTokenIs(NUMBER) {
		s.nextToken()

		return &NumberLiteral{Token: tok, Value: "-" + s.curToken.Literal}
	}

	s.nextToken()

	return &PrefixExpression{Token: tok, Operator: "-", Right: s.parseExpression(precedencePrefix)}
}

func (s *state) parsePrefixExpression() Expression {
	expression := &PrefixExpression{
		Token:    s.curToken,
		Operator: string(s.curToken.Type),
	}

	s.nextToken()
	expression.Right = s.parseExpression(precedenceNOT)

	return expression
}

// parseGroupedExpression handles (x), () and (x, y, ...) sets
func (s *state) parseGroupedExpression() Expression {
	tok := s.curToken

	if s.peekTokenIs(RPAREN) {
		s.nextToken()

		return &SetLiteral{Token: tok, Elements: []Expression{}}
	}

	s.nextToken()
	first := s.parseExpression(precedenceLowest)

	if s.peekTokenIs(RPAREN) {
		s.nextToken()

		return &GroupedExpression{Token: tok, Expression: first}
	}

	set := &SetLiteral{Token: tok, Elements: []Expression{first}}

	for s.peekTokenIs(COMMA) {
		s.nextToken()

		if s.peekTokenIs(RPAREN) {
			break
		}

		s.nextToken()
		set.Elements = append(set.Elements, s.parseExpression(precedenceLowest))
	}

	s.expectPeek(RPAREN)

	return set
}

func (s *state) parseList() Expression {
	return &ListLiteral{Token: s.curToken, Elements: s.parseExpressionList(RBRACKET)}
}

func (s *state) parseMap() Expression {
	m := &MapLiteral{Token: s.curToken}

	if s.peekTokenIs(RBRACE) {
		s.nextToken()

		return m
	}

	for {
		m.Keys = append(m.Keys, s.parseName("map key"))
		s.expectPeek(COLON)
		s.nextToken()
		m.Values = append(m.Values, s.parseExpression(precedenceLowest))

		if !s.peekTokenIs(COMMA) {
			break
		}

		s.nextToken()
	}

	s.expectPeek(RBRACE)

	return m
}

func (s *state) parseInfixExpression(left Expression) Expression {
	expression := &InfixExpression{
		Token:    s.curToken,
		Operator: string(s.curToken.Type),
		Left:     left,
	}

	precedence := s.curPrecedence()
	s.nextToken()
	expression.Right = s.parseExpression(precedence)

	return expression
}

func (s *state) parseBetweenExpression(left Expression) Expression {
	expression := &BetweenExpression{
		Token: s.curToken,
		Left:  left,
	}

	s.nextToken()
	expression.Range[0] = s.parseExpression(precedenceAND)

	s.expectPeek(AND)
	s.nextToken()
	expression.Range[1] = s.parseExpression(precedenceAND)

	return expression
}

func (s *state) parseInExpression(left Expression) Expression {
	expression := &InExpression{Token: s.curToken, Left: left}

	s.expectPeek(LPAREN)
	expression.Range = s.parseExpressionList(RPAREN)

	if len(expression.Range) == 0 {
		s.fail("value", s.curToken)
	}

	return expression
}

func (s *state) parseCallExpression(function Expression) Expression {
	ident, ok := function.(*Identifier)
	if !ok || ident.Token.Quoted {
		s.fail("operator", s.curToken)
	}

	return &CallExpression{Token: s.curToken, Function: ident, Arguments: s.parseExpressionList(RPAREN)}
}

func (s *state) parseIndexExpression(left Expression) Expression {
	expression := &IndexExpression{Token: s.curToken, Left: left, Type: IndexList}

	if s.curTokenIs(DOT) {
		expression.Type = IndexMap

		s.expectPeek(IDENT)
		expression.Index = &Identifier{Token: s.curToken, Value: s.curToken.Literal}

		return expression
	}

	s.expectPeek(NUMBER)
	expression.Index = &NumberLiteral{Token: s.curToken, Value: s.curToken.Literal}
	s.expectPeek(RBRACKET)

	return expression
}

// parseExpressionList parses values up to the end token, the current token
// is the opening delimiter. A trailing comma is allowed.
func (s *state) parseExpressionList(end TokenType) []Expression {
	list := []Expression{}

	for !s.peekTokenIs(end) {
		s.nextToken()
		list = append(list, s.parseExpression(precedenceLowest))

		if !s.peekTokenIs(COMMA) {
			break
		}

		s.nextToken()
	}

	s.expectPeek(end)

	return list
}

// helpers

func (s *state) nextToken() {
	s.curToken = s.peekToken
	s.peekToken = s.l.NextToken()
}

func (s *state) curTokenIs(t TokenType) bool {
	return s.curToken.Type == t
}

func (s *state) peekTokenIs(t TokenType) bool {
	return s.peekToken.Type == t
}

func (s *state) expectPeek(t TokenType) {
	if !s.peekTokenIs(t) {
		s.fail(describeType(t), s.peekToken)
	}

	s.nextToken()
}

func isKeyword(tok Token, keyword string) bool {
	return tok.Type == IDENT && !tok.Quoted && strings.EqualFold(tok.Literal, keyword)
}

func (s *state) curKeyword(keyword string) bool {
	return isKeyword(s.curToken, keyword)
}

func (s *state) peekKeyword(keyword string) bool {
	return isKeyword(s.peekToken, keyword)
}

// acceptKeyword moves to the next token when it is the keyword
func (s *state) acceptKeyword(keyword string) bool {
	if !s.peekKeyword(keyword) {
		return false
	}

	s.nextToken()

	return true
}

func (s *state) expectKeyword(keyword string) {
	if !s.acceptKeyword(keyword) {
		s.fail(keyword, s.peekToken)
	}
}

// parseName moves to the next token and reads it as a name
func (s *state) parseName(what string) string {
	s.nextToken()

	return s.curName(what)
}

// curName reads an identifier or a quoted string as a name
func (s *state) curName(what string) string {
	if !s.curTokenIs(IDENT) && !s.curTokenIs(STRING) {
		s.fail(what, s.curToken)
	}

	return s.curToken.Literal
}

func (s *state) peekPrecedence() int {
	if p, ok := precedences[s.peekToken.Type]; ok {
		return p
	}

	return precedenceLowest
}

func (s *state) curPrecedence() int {
	if p, ok := precedences[s.curToken.Type]; ok {
		return p
	}

	return precedenceLowest
}

func (s *state) fail(expected string, found Token) {
	line, column := s.position(found.Pos)

	panic(&parseFailure{
		err: &types.ParseError{
			Offset:   found.Pos,
			Line:     line,
			Column:   column,
			Expected: expected,
			Found:    describeToken(found),
		},
		incomplete: found.Type == EOF || (found.Type == ILLEGAL && strings.HasPrefix(found.Literal, "unterminated")),
	})
}

func (s *state) position(offset int) (line, column int) {
	if offset > len(s.input) {
		offset = len(s.input)
	}

	before := s.input[:offset]
	line = strings.Count(before, "\n") + 1
	column = offset - strings.LastIndexByte(before, '\n')

	return line, column
}

func describeType(t TokenType) string {
	switch t {
	case EOF:
		return "end of input"
	case IDENT:
		return "identifier"
	case NUMBER:
		return "number"
	case STRING:
		return "string"
	}

	return fmt.Sprintf("'%s'", t)
}

func describeToken(tok Token) string {
	switch tok.Type {
	case EOF:
		return "end of input"
	case ILLEGAL:
		return tok.Literal
	case STRING:
		return types.Quote(tok.Literal)
	}

	return fmt.Sprintf("'%s'", tok.Literal)
}
