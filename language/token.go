package language

import "strings"

// TokenType represents the type of the token
type TokenType string

// Token represents a token of the DQL language. Pos is the byte offset of
// the token in the source text.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	// Quoted is set for `backtick` identifiers, they are never keywords
	Quoted bool
}

const (
	// ILLEGAL illegal token
	ILLEGAL TokenType = "ILLEGAL"
	// EOF end of the file(input)
	EOF TokenType = "EOF"

	// IDENT identifier, keyword or function name
	IDENT TokenType = "IDENT"
	// NUMBER integer or float literal
	NUMBER TokenType = "NUMBER"
	// STRING quoted string literal
	STRING TokenType = "STRING"
	// BINARY b'...' literal
	BINARY TokenType = "BINARY"

	// LT logical comparator less than
	LT TokenType = "<"
	// LTE logical comparator less than or equal
	LTE TokenType = "<="
	// GT logical comparator greater than
	GT TokenType = ">"
	// GTE logical comparator greater than or equal
	GTE TokenType = ">="
	// EQ logical comparator equal
	EQ TokenType = "="
	// NotEQ logical comparator not equal, both <> and !=
	NotEQ TokenType = "<>"

	// PLUS arithmetic operator
	PLUS TokenType = "+"
	// MINUS arithmetic operator
	MINUS TokenType = "-"
	// ASTERISK multiplication or "all attributes"
	ASTERISK TokenType = "*"
	// SLASH division
	SLASH TokenType = "/"

	// COMMA list delimiter
	COMMA TokenType = ","
	// SEMICOLON statement terminator
	SEMICOLON TokenType = ";"
	// COLON map key delimiter
	COLON TokenType = ":"
	// DOT map access
	DOT TokenType = "."
	// LPAREN left parentheses delimiter
	LPAREN TokenType = "("
	// RPAREN right parentheses delimiter
	RPAREN TokenType = ")"
	// LBRACKET left bracket delimiter
	LBRACKET TokenType = "["
	// RBRACKET right bracket delimiter
	RBRACKET TokenType = "]"
	// LBRACE left brace delimiter
	LBRACE TokenType = "{"
	// RBRACE right brace delimiter
	RBRACE TokenType = "}"

	// AND logical evaluation keyword
	AND TokenType = "AND"
	// OR logical evaluation keyword
	OR TokenType = "OR"
	// NOT logical evaluation keyword
	NOT TokenType = "NOT"
	// BETWEEN compare operand against a range
	BETWEEN TokenType = "BETWEEN"
	// IN compare operand against list of values
	IN TokenType = "IN"
)

// Only the operators of the expression grammar are reserved. Every other
// keyword (SELECT, FROM, KEY, RANGE...) is matched by the parser in context,
// so attributes can use those names.
var keywords = map[string]TokenType{
	"AND":     AND,
	"OR":      OR,
	"NOT":     NOT,
	"BETWEEN": BETWEEN,
	"IN":      IN,
}

// LookupIdent checks if the ident is a keyword
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[strings.ToUpper(ident)]; ok {
		return tok
	}

	return IDENT
}
