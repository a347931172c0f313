// Package sulpher implements the Sulpher query language: a Cypher subset
// with MATCH/WHERE pattern matching over the edge index, WITH projection,
// aggregation, ORDER BY and LIMIT.
package sulpher

import "fmt"

// TokenKind enumerates lexical classes.
type TokenKind int

const (
	tokenEOF TokenKind = iota
	tokenIdent
	tokenKeyword
	tokenInt
	tokenFloat
	tokenString

	tokenLParen   // (
	tokenRParen   // )
	tokenLBracket // [
	tokenRBracket // ]
	tokenLBrace   // {
	tokenRBrace   // }
	tokenColon    // :
	tokenComma    // ,
	tokenDot      // .
	tokenDotDot   // ..
	tokenDash     // -
	tokenArrow    // ->
	tokenPipe     // |
	tokenStar     // *
	tokenEq       // =
	tokenNeq      // <> or !=
	tokenLt       // <
	tokenLte      // <=
	tokenGt       // >
	tokenGte      // >=
)

// Keywords recognised case-insensitively. The lexer upper-cases the token
// text for these.
var keywords = map[string]struct{}{
	"MATCH": {}, "WHERE": {}, "WITH": {}, "RETURN": {},
	"ORDER": {}, "BY": {}, "LIMIT": {}, "ASC": {}, "DESC": {},
	"AND": {}, "OR": {}, "NOT": {},
	"BFS": {}, "DFS": {},
	"COUNT": {}, "SUM": {}, "AVG": {}, "MIN": {}, "MAX": {}, "DISTINCT": {},
	"TRUE": {}, "FALSE": {}, "NULL": {},
}

// Token is one lexeme with its 1-based source column.
type Token struct {
	Kind   TokenKind
	Text   string // keyword text is upper-cased; string text is unquoted
	Column int
}

func (t Token) String() string {
	if t.Kind == tokenEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q", t.Text)
}
