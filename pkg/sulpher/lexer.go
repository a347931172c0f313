package sulpher

import (
	"strings"
	"unicode"

	"github.com/rserv-dev/rserv/pkg/resterr"
)

// lexer walks the query string rune by rune, tracking the 1-based column
// for error reporting.
type lexer struct {
	src []rune
	pos int
}

func newLexer(query string) *lexer {
	return &lexer{src: []rune(query)}
}

// Lex tokenises a whole query up front.
func Lex(query string) ([]Token, error) {
	lx := newLexer(query)
	var tokens []Token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == tokenEOF {
			return tokens, nil
		}
	}
}

func (lx *lexer) column() int { return lx.pos + 1 }

func (lx *lexer) peek() rune {
	if lx.pos >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos]
}

func (lx *lexer) peekAt(off int) rune {
	if lx.pos+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.pos+off]
}

func (lx *lexer) next() (Token, error) {
	for lx.pos < len(lx.src) && unicode.IsSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return Token{Kind: tokenEOF, Column: lx.column()}, nil
	}

	col := lx.column()
	r := lx.peek()

	switch {
	case r == '\'' || r == '"':
		return lx.lexString(r, col)
	case unicode.IsDigit(r):
		return lx.lexNumber(col)
	case r == '_' || unicode.IsLetter(r):
		return lx.lexWord(col)
	}

	two := string(r) + string(lx.peekAt(1))
	switch two {
	case "->":
		lx.pos += 2
		return Token{Kind: tokenArrow, Text: "->", Column: col}, nil
	case "..":
		lx.pos += 2
		return Token{Kind: tokenDotDot, Text: "..", Column: col}, nil
	case "<>", "!=":
		lx.pos += 2
		return Token{Kind: tokenNeq, Text: two, Column: col}, nil
	case "<=":
		lx.pos += 2
		return Token{Kind: tokenLte, Text: "<=", Column: col}, nil
	case ">=":
		lx.pos += 2
		return Token{Kind: tokenGte, Text: ">=", Column: col}, nil
	}

	single := map[rune]TokenKind{
		'(': tokenLParen, ')': tokenRParen,
		'[': tokenLBracket, ']': tokenRBracket,
		'{': tokenLBrace, '}': tokenRBrace,
		':': tokenColon, ',': tokenComma, '.': tokenDot,
		'-': tokenDash, '|': tokenPipe, '*': tokenStar,
		'=': tokenEq, '<': tokenLt, '>': tokenGt,
	}
	if kind, ok := single[r]; ok {
		lx.pos++
		return Token{Kind: kind, Text: string(r), Column: col}, nil
	}
	return Token{}, resterr.Syntax(string(r), col, "unexpected character")
}

func (lx *lexer) lexString(quote rune, col int) (Token, error) {
	lx.pos++ // opening quote
	var b strings.Builder
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		if r == '\\' && lx.pos+1 < len(lx.src) {
			lx.pos += 2
			switch esc := lx.src[lx.pos-1]; esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
			continue
		}
		if r == quote {
			lx.pos++
			return Token{Kind: tokenString, Text: b.String(), Column: col}, nil
		}
		b.WriteRune(r)
		lx.pos++
	}
	return Token{}, resterr.Syntax(b.String(), col, "unterminated string literal")
}

func (lx *lexer) lexNumber(col int) (Token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
		lx.pos++
	}
	// A dot starts a fraction only when a digit follows; ".." belongs to
	// a range.
	if lx.peek() == '.' && unicode.IsDigit(lx.peekAt(1)) {
		lx.pos++
		for lx.pos < len(lx.src) && unicode.IsDigit(lx.src[lx.pos]) {
			lx.pos++
		}
		return Token{Kind: tokenFloat, Text: string(lx.src[start:lx.pos]), Column: col}, nil
	}
	return Token{Kind: tokenInt, Text: string(lx.src[start:lx.pos]), Column: col}, nil
}

func (lx *lexer) lexWord(col int) (Token, error) {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r := lx.src[lx.pos]
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.pos++
	}
	word := string(lx.src[start:lx.pos])
	if _, ok := keywords[strings.ToUpper(word)]; ok {
		return Token{Kind: tokenKeyword, Text: strings.ToUpper(word), Column: col}, nil
	}
	return Token{Kind: tokenIdent, Text: word, Column: col}, nil
}
