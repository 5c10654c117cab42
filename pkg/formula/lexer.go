package formula

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lex splits a formula into tokens. The returned slice always ends with a
// TokenEOF. Whitespace is skipped. Keywords (and, or, not) are returned as
// their operator tokens; true and false stay identifiers.
func Lex(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, parseErrorf(i, "invalid UTF-8 encoding")
		}
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		switch {
		case isDigit(r) || (r == '.' && i+1 < len(input) && isDigit(rune(input[i+1]))):
			end, err := lexNumber(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenNumber, Literal: input[i:end], Pos: i})
			i = end
			continue
		case isIdentStart(r):
			start := i
			for i < len(input) {
				r, size := utf8.DecodeRuneInString(input[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			word := input[start:i]
			switch word {
			case "and":
				tokens = append(tokens, Token{Type: TokenAnd, Literal: word, Pos: start})
			case "or":
				tokens = append(tokens, Token{Type: TokenOr, Literal: word, Pos: start})
			case "not":
				tokens = append(tokens, Token{Type: TokenBang, Literal: word, Pos: start})
			default:
				tokens = append(tokens, Token{Type: TokenIdent, Literal: word, Pos: start})
			}
			continue
		}

		switch r {
		case '"', '\'':
			body, end, err := lexString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenString, Literal: body, Pos: i})
			i = end
		case '$':
			if i+1 >= len(input) || input[i+1] != '{' {
				return nil, parseErrorf(i, "expected '{' after '$'")
			}
			closing := strings.IndexByte(input[i+2:], '}')
			if closing < 0 {
				return nil, parseErrorf(i, "unterminated field reference")
			}
			key := strings.TrimSpace(input[i+2 : i+2+closing])
			if key == "" {
				return nil, parseErrorf(i, "empty field reference")
			}
			tokens = append(tokens, Token{Type: TokenField, Literal: key, Pos: i})
			i += closing + 3
		case '(':
			tokens = append(tokens, Token{Type: TokenLParen, Literal: "(", Pos: i})
			i++
		case ')':
			tokens = append(tokens, Token{Type: TokenRParen, Literal: ")", Pos: i})
			i++
		case ',':
			tokens = append(tokens, Token{Type: TokenComma, Literal: ",", Pos: i})
			i++
		case '+':
			tokens = append(tokens, Token{Type: TokenPlus, Literal: "+", Pos: i})
			i++
		case '-':
			tokens = append(tokens, Token{Type: TokenMinus, Literal: "-", Pos: i})
			i++
		case '*':
			tokens = append(tokens, Token{Type: TokenStar, Literal: "*", Pos: i})
			i++
		case '/':
			tokens = append(tokens, Token{Type: TokenSlash, Literal: "/", Pos: i})
			i++
		case '%':
			tokens = append(tokens, Token{Type: TokenPercent, Literal: "%", Pos: i})
			i++
		case '^':
			tokens = append(tokens, Token{Type: TokenCaret, Literal: "^", Pos: i})
			i++
		case '!':
			if peekByte(input, i+1) == '=' {
				tokens = append(tokens, Token{Type: TokenNe, Literal: "!=", Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Type: TokenBang, Literal: "!", Pos: i})
				i++
			}
		case '=':
			if peekByte(input, i+1) != '=' {
				return nil, parseErrorf(i, "unexpected '=', use '==' for comparison")
			}
			tokens = append(tokens, Token{Type: TokenEq, Literal: "==", Pos: i})
			i += 2
		case '<':
			if peekByte(input, i+1) == '=' {
				tokens = append(tokens, Token{Type: TokenLe, Literal: "<=", Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Type: TokenLt, Literal: "<", Pos: i})
				i++
			}
		case '>':
			if peekByte(input, i+1) == '=' {
				tokens = append(tokens, Token{Type: TokenGe, Literal: ">=", Pos: i})
				i += 2
			} else {
				tokens = append(tokens, Token{Type: TokenGt, Literal: ">", Pos: i})
				i++
			}
		case '&':
			if peekByte(input, i+1) != '&' {
				return nil, parseErrorf(i, "unexpected '&', use '&&'")
			}
			tokens = append(tokens, Token{Type: TokenAnd, Literal: "&&", Pos: i})
			i += 2
		case '|':
			if peekByte(input, i+1) != '|' {
				return nil, parseErrorf(i, "unexpected '|', use '||'")
			}
			tokens = append(tokens, Token{Type: TokenOr, Literal: "||", Pos: i})
			i += 2
		default:
			return nil, parseErrorf(i, "unexpected character %q", r)
		}
	}
	tokens = append(tokens, Token{Type: TokenEOF, Pos: len(input)})
	return tokens, nil
}

// lexNumber scans digits [. digits] [(e|E) [+|-] digits] starting at i.
func lexNumber(input string, i int) (int, error) {
	start := i
	for i < len(input) && isDigit(rune(input[i])) {
		i++
	}
	if i < len(input) && input[i] == '.' {
		i++
		for i < len(input) && isDigit(rune(input[i])) {
			i++
		}
	}
	if i < len(input) && (input[i] == 'e' || input[i] == 'E') {
		j := i + 1
		if j < len(input) && (input[j] == '+' || input[j] == '-') {
			j++
		}
		if j >= len(input) || !isDigit(rune(input[j])) {
			return 0, parseErrorf(i, "malformed exponent in number %q", input[start:j])
		}
		for j < len(input) && isDigit(rune(input[j])) {
			j++
		}
		i = j
	}
	if i < len(input) {
		if r, _ := utf8.DecodeRuneInString(input[i:]); isIdentStart(r) {
			return 0, parseErrorf(i, "unexpected %q after number", r)
		}
	}
	return i, nil
}

// lexString reads a quoted string starting at the quote at i and returns its
// unescaped body and the offset just past the closing quote.
func lexString(input string, i int) (string, int, error) {
	quote := input[i]
	var sb strings.Builder
	j := i + 1
	for j < len(input) {
		c := input[j]
		switch {
		case c == quote:
			return sb.String(), j + 1, nil
		case c == '\\':
			if j+1 >= len(input) {
				return "", 0, parseErrorf(j, "unterminated escape sequence")
			}
			switch input[j+1] {
			case '\\', '"', '\'':
				sb.WriteByte(input[j+1])
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				return "", 0, parseErrorf(j, "unknown escape sequence \\%c", input[j+1])
			}
			j += 2
		default:
			sb.WriteByte(c)
			j++
		}
	}
	return "", 0, parseErrorf(i, "unterminated string")
}

func peekByte(input string, i int) byte {
	if i < len(input) {
		return input[i]
	}
	return 0
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }
