package formula

import (
	"strconv"
	"strings"
)

// NodeKind tags the variant held by a Node.
type NodeKind uint8

const (
	NodeStart NodeKind = iota
	NodeLiteral
	NodeField
	NodeUnary
	NodeBinary
	NodeCall
)

func (k NodeKind) String() string {
	switch k {
	case NodeStart:
		return "start"
	case NodeLiteral:
		return "literal"
	case NodeField:
		return "field"
	case NodeUnary:
		return "unary"
	case NodeBinary:
		return "binary"
	case NodeCall:
		return "call"
	}
	return "unknown"
}

// Operator is a unary or binary operator.
type Operator uint8

const (
	OpAdd Operator = iota + 1
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNeg
	OpPos
	OpNot
)

var opSymbols = [...]string{
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
	OpPow: "^",
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAnd: "&&",
	OpOr:  "||",
	OpNeg: "-",
	OpPos: "+",
	OpNot: "!",
}

func (op Operator) String() string {
	if int(op) < len(opSymbols) && opSymbols[op] != "" {
		return opSymbols[op]
	}
	return "?"
}

// Node is one vertex of a parsed formula. The variant is selected by Kind:
//
//	NodeStart    Children[0] is the top-level expression
//	NodeLiteral  Value holds the constant
//	NodeField    Name holds the field key, resolved at evaluation time
//	NodeUnary    Op, Children[0]
//	NodeBinary   Op, Children[0] (left), Children[1] (right)
//	NodeCall     Name is the function, Children are the arguments
//
// Trees are built by Parse and never modified afterwards.
type Node struct {
	Kind     NodeKind
	Pos      int
	Op       Operator
	Name     string
	Value    Value
	Children []*Node
}

// String re-serializes the tree. Binary expressions are fully
// parenthesized so that the output parses back to the same tree shape.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	switch n.Kind {
	case NodeStart:
		n.Children[0].write(sb)
	case NodeLiteral:
		writeLiteral(sb, n.Value)
	case NodeField:
		if isPlainIdent(n.Name) {
			sb.WriteString(n.Name)
		} else {
			sb.WriteString("${")
			sb.WriteString(n.Name)
			sb.WriteString("}")
		}
	case NodeUnary:
		sb.WriteString(n.Op.String())
		n.Children[0].write(sb)
	case NodeBinary:
		sb.WriteByte('(')
		n.Children[0].write(sb)
		sb.WriteByte(' ')
		sb.WriteString(n.Op.String())
		sb.WriteByte(' ')
		n.Children[1].write(sb)
		sb.WriteByte(')')
	case NodeCall:
		sb.WriteString(n.Name)
		sb.WriteByte('(')
		for i, arg := range n.Children {
			if i > 0 {
				sb.WriteString(", ")
			}
			arg.write(sb)
		}
		sb.WriteByte(')')
	}
}

func writeLiteral(sb *strings.Builder, v Value) {
	switch v.Kind() {
	case KindFloat:
		s := strconv.FormatFloat(v.f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		sb.WriteString(s)
	case KindString:
		sb.WriteByte('"')
		for _, r := range v.s {
			switch r {
			case '"', '\\':
				sb.WriteByte('\\')
				sb.WriteRune(r)
			case '\n':
				sb.WriteString(`\n`)
			case '\t':
				sb.WriteString(`\t`)
			default:
				sb.WriteRune(r)
			}
		}
		sb.WriteByte('"')
	default:
		sb.WriteString(v.String())
	}
}

func isPlainIdent(s string) bool {
	if s == "" || isKeyword(s) {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) {
			return false
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

func isKeyword(s string) bool {
	switch s {
	case "and", "or", "not", "true", "false":
		return true
	}
	_, isFunc := builtins[s]
	return isFunc
}

// Fields returns the distinct field keys referenced by the tree in order of
// first appearance.
func (n *Node) Fields() []string {
	seen := make(map[string]struct{})
	var keys []string
	var walk func(*Node)
	walk = func(node *Node) {
		if node.Kind == NodeField {
			if _, ok := seen[node.Name]; !ok {
				seen[node.Name] = struct{}{}
				keys = append(keys, node.Name)
			}
			return
		}
		for _, child := range node.Children {
			walk(child)
		}
	}
	walk(n)
	return keys
}
