package search

import "strings"

// TokenKind identifies the type of lexical token.
type TokenKind int

const (
	TokEOF    TokenKind = iota
	TokWord             // bare word
	TokPhrase           // quoted phrase, quotes stripped
	TokField            // field:value, field:>value or field:<value
	TokOr               // literal OR
)

func (k TokenKind) String() string {
	switch k {
	case TokEOF:
		return "EOF"
	case TokWord:
		return "WORD"
	case TokPhrase:
		return "PHRASE"
	case TokField:
		return "FIELD"
	case TokOr:
		return "OR"
	default:
		return "UNKNOWN"
	}
}

// Comparator qualifies a field token.
type Comparator int

const (
	CmpMatch Comparator = iota // field:value
	CmpGreater                 // field:>value
	CmpLess                    // field:<value
)

// Token is a lexical token of the search DSL.
type Token struct {
	Kind  TokenKind
	Field string     // TokField only
	Cmp   Comparator // TokField only
	Lit   string
	Pos   int
}

// Lexer tokenizes a search string. It never fails: an unterminated quote
// consumes the rest of the input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a lexer for input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokens returns all tokens up to, not including, EOF.
func (l *Lexer) Tokens() []Token {
	var toks []Token

	for {
		tok := l.Next()
		if tok.Kind == TokEOF {
			return toks
		}

		toks = append(toks, tok)
	}
}

// Next returns the next token.
func (l *Lexer) Next() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Kind: TokEOF, Pos: l.pos}
	}

	start := l.pos

	if l.input[l.pos] == '"' {
		return Token{Kind: TokPhrase, Lit: l.scanQuoted(), Pos: start}
	}

	word := l.scanBare()

	if word == "OR" {
		return Token{Kind: TokOr, Lit: word, Pos: start}
	}

	field, rest, found := strings.Cut(word, ":")
	if !found || field == "" {
		return Token{Kind: TokWord, Lit: word, Pos: start}
	}

	cmp := CmpMatch

	switch {
	case strings.HasPrefix(rest, ">"):
		cmp, rest = CmpGreater, rest[1:]
	case strings.HasPrefix(rest, "<"):
		cmp, rest = CmpLess, rest[1:]
	}

	// field:"quoted value" continues past whitespace.
	if rest == "" && l.pos < len(l.input) && l.input[l.pos] == '"' {
		rest = l.scanQuoted()
	}

	if rest == "" {
		return Token{Kind: TokWord, Lit: word, Pos: start}
	}

	return Token{Kind: TokField, Field: field, Cmp: cmp, Lit: rest, Pos: start}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
}

// scanBare reads up to whitespace or an opening quote that follows a colon.
func (l *Lexer) scanBare() string {
	start := l.pos

	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isSpace(ch) {
			break
		}

		if ch == '"' && l.pos > start && strings.IndexByte(":<>", l.input[l.pos-1]) >= 0 {
			break
		}

		l.pos++
	}

	return l.input[start:l.pos]
}

// scanQuoted reads a double-quoted string starting at the opening quote.
func (l *Lexer) scanQuoted() string {
	l.pos++ // opening quote

	var sb strings.Builder

	for l.pos < len(l.input) {
		ch := l.input[l.pos]

		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == '"':
			l.pos++

			return sb.String()
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}

	return sb.String()
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
