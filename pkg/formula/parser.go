package formula

import (
	"strconv"
	"strings"
)

// maxDepth bounds how deep a formula tree may nest, counting parentheses,
// unary operators, call arguments and operator chains. Evaluation recurses
// over the tree, so deeper input is rejected at parse time.
const maxDepth = 256

// parser holds the state for parsing a token stream.
type parser struct {
	tokens []Token
	pos    int
	depth  int
}

// Parse turns formula text into a tree rooted at a NodeStart. A single
// leading '=' (spreadsheet style) is accepted and ignored.
func Parse(input string) (*Node, error) {
	src := stripLeadingEquals(input)
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().Type == TokenEOF {
		return nil, parseErrorf(p.peek().Pos, "empty formula")
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		if tok.Type == TokenRParen {
			return nil, parseErrorf(tok.Pos, "unbalanced parenthesis")
		}
		return nil, parseErrorf(tok.Pos, "unexpected %s", tok.describe())
	}
	return &Node{Kind: NodeStart, Children: []*Node{expr}}, nil
}

// stripLeadingEquals blanks out a leading '=' so token positions still match
// the caller's text.
func stripLeadingEquals(input string) string {
	trimmed := strings.TrimLeft(input, " \t\r\n")
	if strings.HasPrefix(trimmed, "=") && !strings.HasPrefix(trimmed, "==") {
		idx := len(input) - len(trimmed)
		return input[:idx] + " " + input[idx+1:]
	}
	return input
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	t := p.tokens[p.pos]
	if t.Type != TokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > maxDepth {
		return parseErrorf(pos, "formula nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) expect(tt TokenType) (Token, error) {
	t := p.peek()
	if t.Type != tt {
		return t, parseErrorf(t.Pos, "expected %s, found %s", tt, t.describe())
	}
	return p.advance(), nil
}

var binaryOps = map[TokenType]Operator{
	TokenOr:      OpOr,
	TokenAnd:     OpAnd,
	TokenEq:      OpEq,
	TokenNe:      OpNe,
	TokenLt:      OpLt,
	TokenLe:      OpLe,
	TokenGt:      OpGt,
	TokenGe:      OpGe,
	TokenPlus:    OpAdd,
	TokenMinus:   OpSub,
	TokenStar:    OpMul,
	TokenSlash:   OpDiv,
	TokenPercent: OpMod,
	TokenCaret:   OpPow,
}

// binaryLevel parses next ( op next )* for the given operator tokens,
// building a left-associative chain.
func (p *parser) binaryLevel(next func() (*Node, error), ops ...TokenType) (*Node, error) {
	start := p.depth
	defer func() { p.depth = start }()

	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if !containsType(ops, tok.Type) {
			return left, nil
		}
		p.advance()
		if err := p.enter(tok.Pos); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Node{
			Kind:     NodeBinary,
			Pos:      tok.Pos,
			Op:       binaryOps[tok.Type],
			Children: []*Node{left, right},
		}
	}
}

func containsType(types []TokenType, t TokenType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// parseOr: and ( "||" and )*
func (p *parser) parseOr() (*Node, error) {
	return p.binaryLevel(p.parseAnd, TokenOr)
}

// parseAnd: equality ( "&&" equality )*
func (p *parser) parseAnd() (*Node, error) {
	return p.binaryLevel(p.parseEquality, TokenAnd)
}

// parseEquality: compare ( ("==" | "!=") compare )*
func (p *parser) parseEquality() (*Node, error) {
	return p.binaryLevel(p.parseCompare, TokenEq, TokenNe)
}

// parseCompare: additive ( ("<" | "<=" | ">" | ">=") additive )*
func (p *parser) parseCompare() (*Node, error) {
	return p.binaryLevel(p.parseAdditive, TokenLt, TokenLe, TokenGt, TokenGe)
}

// parseAdditive: multiplicative ( ("+" | "-") multiplicative )*
func (p *parser) parseAdditive() (*Node, error) {
	return p.binaryLevel(p.parseMultiplicative, TokenPlus, TokenMinus)
}

// parseMultiplicative: power ( ("*" | "/" | "%") power )*
func (p *parser) parseMultiplicative() (*Node, error) {
	return p.binaryLevel(p.parsePower, TokenStar, TokenSlash, TokenPercent)
}

// parsePower: unary ( "^" unary )*
func (p *parser) parsePower() (*Node, error) {
	return p.binaryLevel(p.parseUnary, TokenCaret)
}

// parseUnary: ("-" | "+" | "!") unary | primary
func (p *parser) parseUnary() (*Node, error) {
	tok := p.peek()
	if err := p.enter(tok.Pos); err != nil {
		return nil, err
	}
	defer p.leave()

	var op Operator
	switch tok.Type {
	case TokenMinus:
		op = OpNeg
	case TokenPlus:
		op = OpPos
	case TokenBang:
		op = OpNot
	default:
		return p.parsePrimary()
	}
	p.advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Node{Kind: NodeUnary, Pos: tok.Pos, Op: op, Children: []*Node{operand}}, nil
}

func (p *parser) parsePrimary() (*Node, error) {
	tok := p.peek()
	switch tok.Type {
	case TokenNumber:
		p.advance()
		v, err := parseNumber(tok)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: NodeLiteral, Pos: tok.Pos, Value: v}, nil

	case TokenString:
		p.advance()
		return &Node{Kind: NodeLiteral, Pos: tok.Pos, Value: StringValue(tok.Literal)}, nil

	case TokenField:
		p.advance()
		return &Node{Kind: NodeField, Pos: tok.Pos, Name: tok.Literal}, nil

	case TokenIdent:
		p.advance()
		switch tok.Literal {
		case "true":
			return &Node{Kind: NodeLiteral, Pos: tok.Pos, Value: BoolValue(true)}, nil
		case "false":
			return &Node{Kind: NodeLiteral, Pos: tok.Pos, Value: BoolValue(false)}, nil
		}
		if p.peek().Type == TokenLParen {
			return p.parseCall(tok)
		}
		return &Node{Kind: NodeField, Pos: tok.Pos, Name: tok.Literal}, nil

	case TokenLParen:
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRParen {
			return nil, parseErrorf(p.peek().Pos, "unbalanced parenthesis: expected ')' to close '(' at position %d, found %s", tok.Pos, p.peek().describe())
		}
		p.advance()
		return expr, nil

	case TokenEOF:
		return nil, parseErrorf(tok.Pos, "unexpected end of formula")

	default:
		return nil, parseErrorf(tok.Pos, "unexpected %s", tok.describe())
	}
}

// parseCall parses the argument list of name( ... ) and checks the arity
// against the builtin table.
func (p *parser) parseCall(name Token) (*Node, error) {
	fn, ok := builtins[name.Literal]
	if !ok {
		return nil, parseErrorf(name.Pos, "unknown function %q", name.Literal)
	}
	p.advance() // consume '('

	var args []*Node
	if p.peek().Type != TokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, parseErrorf(name.Pos, "function %s expects %s, got %d", name.Literal, fn.arity(), len(args))
	}
	return &Node{Kind: NodeCall, Pos: name.Pos, Name: name.Literal, Children: args}, nil
}

func parseNumber(tok Token) (Value, error) {
	if !strings.ContainsAny(tok.Literal, ".eE") {
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return Value{}, parseErrorf(tok.Pos, "integer literal %s out of range", tok.Literal)
		}
		return IntValue(n), nil
	}
	f, err := strconv.ParseFloat(tok.Literal, 64)
	if err != nil {
		return Value{}, parseErrorf(tok.Pos, "invalid number %s", tok.Literal)
	}
	return FloatValue(f), nil
}
