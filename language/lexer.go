package language

import (
	"strconv"
	"strings"
)

// Lexer DQL lexer
type Lexer struct {
	input    string
	position int
	// current position in input (points to current char)
	readPosition int
	// current reading position in input (after current char)
	ch byte // current char under examination
}

var singleChar = map[byte]TokenType{
	'=': EQ,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACKET,
	']': RBRACKET,
	'{': LBRACE,
	'}': RBRACE,
	',': COMMA,
	';': SEMICOLON,
	':': COLON,
	'+': PLUS,
	'*': ASTERISK,
	'/': SLASH,
}

// NewLexer creates a new lexer
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()

	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}

	l.position = l.readPosition
	l.readPosition++
}

func (l *Lexer) manageLessThanToken() Token {
	switch l.peekChar() {
	case '>':
		l.readChar()

		return Token{Type: NotEQ, Literal: "<>"}
	case '=':
		l.readChar()

		return Token{Type: LTE, Literal: "<="}
	default:
		return newToken(LT, l.ch)
	}
}

func (l *Lexer) manageGreaterThanToken() Token {
	if l.peekChar() == '=' {
		l.readChar()

		return Token{Type: GTE, Literal: ">="}
	}

	return newToken(GT, l.ch)
}

// NextToken look up for the next token
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.position
	tok := l.nextToken()
	tok.Pos = pos

	return tok
}

func (l *Lexer) nextToken() Token {
	var tok Token

	single, ok := singleChar[l.ch]
	if ok {
		tok = newToken(single, l.ch)
		l.readChar()

		return tok
	}

	switch l.ch {
	case '<':
		tok = l.manageLessThanToken()
	case '>':
		tok = l.manageGreaterThanToken()
	case '!':
		if l.peekChar() != '=' {
			tok = newToken(ILLEGAL, l.ch)
			break
		}

		l.readChar()

		tok = Token{Type: NotEQ, Literal: "!="}
	case '-':
		tok = newToken(MINUS, l.ch)
	case '\'', '"':
		return l.readString(STRING)
	case '`':
		return l.readQuotedIdentifier()
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}

		tok = newToken(DOT, l.ch)
	case 0:
		tok.Literal = ""
		tok.Type = EOF

		return tok
	default:
		if (l.ch == 'b' || l.ch == 'B') && (l.peekChar() == '\'' || l.peekChar() == '"') {
			l.readChar()

			return l.readString(BINARY)
		}

		if isDigit(l.ch) {
			return l.readNumber()
		}

		if isIdentifierStart(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = LookupIdent(tok.Literal)

			return tok
		}

		tok = newToken(ILLEGAL, l.ch)
	}

	l.readChar()

	return tok
}

func (l *Lexer) readIdentifier() string {
	position := l.position

	for isIdentifierLetter(l.ch) {
		l.readChar()
	}

	return l.input[position:l.position]
}

func (l *Lexer) readQuotedIdentifier() Token {
	var out strings.Builder

	l.readChar()

	for {
		switch l.ch {
		case 0:
			return Token{Type: ILLEGAL, Literal: "unterminated quoted identifier"}
		case '`':
			if l.peekChar() != '`' {
				l.readChar()

				return Token{Type: IDENT, Literal: out.String(), Quoted: true}
			}

			l.readChar()
		}

		out.WriteByte(l.ch)
		l.readChar()
	}
}

func (l *Lexer) readNumber() Token {
	position := l.position

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()

		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			l.readChar()

			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}

	return Token{Type: NUMBER, Literal: l.input[position:l.position]}
}

// readString reads a quoted literal, the current char is the opening quote.
// The literal of the token is the unescaped content.
func (l *Lexer) readString(typ TokenType) Token {
	quote := l.ch

	var out strings.Builder

	l.readChar()

	for {
		switch l.ch {
		case 0:
			return Token{Type: ILLEGAL, Literal: "unterminated string"}
		case quote:
			l.readChar()

			return Token{Type: typ, Literal: out.String()}
		case '\\':
			l.readChar()

			if !l.readEscape(&out) {
				return Token{Type: ILLEGAL, Literal: "invalid escape sequence"}
			}

			continue
		}

		out.WriteByte(l.ch)
		l.readChar()
	}
}

func (l *Lexer) readEscape(out *strings.Builder) bool {
	switch l.ch {
	case 'n':
		out.WriteByte('\n')
	case 't':
		out.WriteByte('\t')
	case 'r':
		out.WriteByte('\r')
	case '0':
		out.WriteByte(0)
	case 'x':
		if l.readPosition+2 > len(l.input) {
			return false
		}

		b, err := strconv.ParseUint(l.input[l.readPosition:l.readPosition+2], 16, 8)
		if err != nil {
			return false
		}

		out.WriteByte(byte(b))
		l.readChar()
		l.readChar()
	case 0:
		return false
	default:
		out.WriteByte(l.ch)
	}

	l.readChar()

	return true
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch != '-' || l.peekChar() != '-' {
			return
		}

		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
	}
}

func isIdentifierStart(ch byte) bool {
	return isLetter(ch) || ch == '_'
}

func isIdentifierLetter(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_'
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func newToken(tokenType TokenType, ch byte) Token {
	return Token{Type: tokenType, Literal: string(ch)}
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}

	return l.input[l.readPosition]
}
