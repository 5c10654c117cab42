package formula

import "fmt"

// TokenType is the lexical class of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenIdent
	TokenField // ${...}
	TokenLParen
	TokenRParen
	TokenComma
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenCaret
	TokenBang
	TokenEq
	TokenNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenAnd
	TokenOr
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "end of formula",
	TokenNumber:  "number",
	TokenString:  "string",
	TokenIdent:   "identifier",
	TokenField:   "field reference",
	TokenLParen:  "'('",
	TokenRParen:  "')'",
	TokenComma:   "','",
	TokenPlus:    "'+'",
	TokenMinus:   "'-'",
	TokenStar:    "'*'",
	TokenSlash:   "'/'",
	TokenPercent: "'%'",
	TokenCaret:   "'^'",
	TokenBang:    "'!'",
	TokenEq:      "'=='",
	TokenNe:      "'!='",
	TokenLt:      "'<'",
	TokenLe:      "'<='",
	TokenGt:      "'>'",
	TokenGe:      "'>='",
	TokenAnd:     "'&&'",
	TokenOr:      "'||'",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a single lexical unit. Literal holds the decoded text: the
// unescaped string body, the identifier or the field key.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func (t Token) String() string {
	return fmt.Sprintf("Token(%s, %q, %d)", t.Type, t.Literal, t.Pos)
}

// describe renders a token for error messages.
func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return t.Type.String()
	case TokenString:
		return fmt.Sprintf("string %q", t.Literal)
	default:
		return fmt.Sprintf("'%s'", t.Literal)
	}
}
