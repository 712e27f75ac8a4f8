package language

import (
	"testing"
)

type testCase struct {
	expectedType    TokenType
	expectedLiteral string
}

func TestNextToken(t *testing.T) {
	table := map[string][]testCase{
		`v1`: {
			{IDENT, "v1"},
		},
		`a = b AND c`: {
			{IDENT, "a"},
			{EQ, "="},
			{IDENT, "b"},
			{AND, "AND"},
			{IDENT, "c"},
		},
		`a <> b != c`: {
			{IDENT, "a"},
			{NotEQ, "<>"},
			{IDENT, "b"},
			{NotEQ, "!="},
			{IDENT, "c"},
		},
		`a <= b and b >= c`: {
			{IDENT, "a"},
			{LTE, "<="},
			{IDENT, "b"},
			{AND, "and"},
			{IDENT, "b"},
			{GTE, ">="},
			{IDENT, "c"},
		},
		`begins_with(a, 'x')`: {
			{IDENT, "begins_with"},
			{LPAREN, "("},
			{IDENT, "a"},
			{COMMA, ","},
			{STRING, "x"},
			{RPAREN, ")"},
		},
		`a IN (1, -2.5, .5e3)`: {
			{IDENT, "a"},
			{IN, "IN"},
			{LPAREN, "("},
			{NUMBER, "1"},
			{COMMA, ","},
			{MINUS, "-"},
			{NUMBER, "2.5"},
			{COMMA, ","},
			{NUMBER, ".5e3"},
			{RPAREN, ")"},
		},
		`foo.bar[2]`: {
			{IDENT, "foo"},
			{DOT, "."},
			{IDENT, "bar"},
			{LBRACKET, "["},
			{NUMBER, "2"},
			{RBRACKET, "]"},
		},
		`{'a': b"\x00\x01"}`: {
			{LBRACE, "{"},
			{STRING, "a"},
			{COLON, ":"},
			{BINARY, "\x00\x01"},
			{RBRACE, "}"},
		},
		"SELECT * -- everything\nFROM t;": {
			{IDENT, "SELECT"},
			{ASTERISK, "*"},
			{IDENT, "FROM"},
			{IDENT, "t"},
			{SEMICOLON, ";"},
		},
		"`my-table` `a``b`": {
			{IDENT, "my-table"},
			{IDENT, "a`b"},
		},
		`'it\'s' "new\nline"`: {
			{STRING, "it's"},
			{STRING, "new\nline"},
		},
		`a + b - c * d / e`: {
			{IDENT, "a"},
			{PLUS, "+"},
			{IDENT, "b"},
			{MINUS, "-"},
			{IDENT, "c"},
			{ASTERISK, "*"},
			{IDENT, "d"},
			{SLASH, "/"},
			{IDENT, "e"},
		},
	}

	for input, cases := range table {
		l := NewLexer(input)

		for i, tt := range cases {
			tok := l.NextToken()

			if tok.Type != tt.expectedType {
				t.Fatalf("%q tests[%d] - tokentype wrong. expected=%q, got=%q",
					input, i, tt.expectedType, tok.Type)
			}

			if tok.Literal != tt.expectedLiteral {
				t.Fatalf("%q tests[%d] - literal wrong. expected=%q, got=%q",
					input, i, tt.expectedLiteral, tok.Literal)
			}
		}

		if tok := l.NextToken(); tok.Type != EOF {
			t.Fatalf("%q expected EOF, got=%q", input, tok.Type)
		}
	}
}

func TestNextTokenPositions(t *testing.T) {
	l := NewLexer("SELECT a\n  FROM t")

	want := []int{0, 7, 11, 16}
	for i, pos := range want {
		tok := l.NextToken()
		if tok.Pos != pos {
			t.Fatalf("token %d (%q) at %d, want %d", i, tok.Literal, tok.Pos, pos)
		}
	}
}

func TestQuotedIdentifierIsNeverKeyword(t *testing.T) {
	tok := NewLexer("`AND`").NextToken()
	if tok.Type != IDENT || !tok.Quoted {
		t.Fatalf("expected quoted IDENT, got=%q quoted=%v", tok.Type, tok.Quoted)
	}
}

func TestIllegalTokens(t *testing.T) {
	for _, input := range []string{`'open`, "`open", `!x`, `#`, `'bad \x4'`} {
		l := NewLexer(input)

		found := false
		for tok := l.NextToken(); tok.Type != EOF; tok = l.NextToken() {
			if tok.Type == ILLEGAL {
				found = true

				break
			}
		}

		if !found {
			t.Fatalf("%q expected an ILLEGAL token", input)
		}
	}
}
