package formula

import (
	"errors"
	"math"
	"strings"
)

// MissingFieldPolicy selects what happens when a referenced field is absent
// from the resolver.
type MissingFieldPolicy uint8

const (
	// MissingAsZero resolves an absent field to Int 0 and records an
	// UnresolvedFieldError warning.
	MissingAsZero MissingFieldPolicy = iota
	// MissingIsError fails the evaluation with an UnresolvedFieldError.
	MissingIsError
)

// Result is the outcome of a successful evaluation.
type Result struct {
	Value    Value
	Warnings []error
}

// evaluator carries per-call state. It is created fresh for every Evaluate
// call so nothing survives between evaluations.
type evaluator struct {
	resolver Resolver
	policy   MissingFieldPolicy
	warnings []error
}

// nodeError pins an error to the node that raised it.
type nodeError struct {
	pos int
	err error
}

func (e *nodeError) Error() string { return e.err.Error() }
func (e *nodeError) Unwrap() error { return e.err }

func at(n *Node, err error) error {
	var ne *nodeError
	if errors.As(err, &ne) {
		return err
	}
	return &nodeError{pos: n.Pos, err: err}
}

// EvaluateNode evaluates a parsed tree against resolver. Errors are wrapped
// in an *EvaluationError whose Formula is the re-serialized tree.
func EvaluateNode(root *Node, resolver Resolver, policy MissingFieldPolicy) (Result, error) {
	if resolver == nil {
		resolver = MapResolver(nil)
	}
	ev := &evaluator{resolver: resolver, policy: policy}
	v, err := ev.eval(root)
	if err != nil {
		evalErr := &EvaluationError{Formula: root.String(), Err: err}
		var ne *nodeError
		if errors.As(err, &ne) {
			evalErr.Pos = ne.pos
			evalErr.Err = ne.err
		}
		return Result{}, evalErr
	}
	return Result{Value: v, Warnings: ev.warnings}, nil
}

func (ev *evaluator) eval(n *Node) (Value, error) {
	switch n.Kind {
	case NodeStart:
		return ev.eval(n.Children[0])

	case NodeLiteral:
		return n.Value, nil

	case NodeField:
		v, ok := ev.resolver.Resolve(n.Name)
		if ok {
			return v, nil
		}
		missing := &UnresolvedFieldError{Field: n.Name}
		if ev.policy == MissingIsError {
			return Value{}, at(n, missing)
		}
		ev.warnings = append(ev.warnings, missing)
		return IntValue(0), nil

	case NodeUnary:
		operand, err := ev.eval(n.Children[0])
		if err != nil {
			return Value{}, err
		}
		v, err := unary(n.Op, operand)
		if err != nil {
			return Value{}, at(n, err)
		}
		return v, nil

	case NodeBinary:
		left, err := ev.eval(n.Children[0])
		if err != nil {
			return Value{}, err
		}
		right, err := ev.eval(n.Children[1])
		if err != nil {
			return Value{}, err
		}
		v, err := binary(n.Op, left, right)
		if err != nil {
			return Value{}, at(n, err)
		}
		return v, nil

	case NodeCall:
		fn := builtins[n.Name]
		if fn.lazy {
			cond, err := ev.eval(n.Children[0])
			if err != nil {
				return Value{}, err
			}
			if cond.Truthy() {
				return ev.eval(n.Children[1])
			}
			return ev.eval(n.Children[2])
		}
		args := make([]Value, len(n.Children))
		for i, child := range n.Children {
			v, err := ev.eval(child)
			if err != nil {
				return Value{}, err
			}
			args[i] = v
		}
		v, err := fn.call(args)
		if err != nil {
			return Value{}, at(n, err)
		}
		return v, nil
	}
	return Value{}, at(n, errors.New("unknown node kind "+n.Kind.String()))
}

func unary(op Operator, v Value) (Value, error) {
	switch op {
	case OpNot:
		return BoolValue(!v.Truthy()), nil
	case OpPos, OpNeg:
		if v.Kind() == KindString {
			return Value{}, &TypeError{Op: op.String(), Left: v.Kind(), Right: v.Kind()}
		}
		if op == OpPos {
			if v.Kind() == KindBool {
				return IntValue(int64(v.Float())), nil
			}
			return v, nil
		}
		if n, ok := numericInt(v); ok {
			if n == math.MinInt64 {
				return FloatValue(-float64(n)), nil
			}
			return IntValue(-n), nil
		}
		return FloatValue(-v.Float()), nil
	}
	return Value{}, errors.New("unknown unary operator " + op.String())
}

func binary(op Operator, left, right Value) (Value, error) {
	switch op {
	case OpAnd:
		return BoolValue(left.Truthy() && right.Truthy()), nil
	case OpOr:
		return BoolValue(left.Truthy() || right.Truthy()), nil
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return compare(op, left, right)
	default:
		return arith(op, left, right)
	}
}

// numericInt reports the integer form of v when v is an Int or a Bool.
func numericInt(v Value) (int64, bool) {
	switch v.Kind() {
	case KindInt:
		return v.i, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// arith applies an arithmetic operator using the promotion rules:
// Int op Int stays Int except for an inexact division, any Float operand
// promotes to Float, and Bool counts as Int 1 or 0.
func arith(op Operator, left, right Value) (Value, error) {
	if left.Kind() == KindString || right.Kind() == KindString {
		if op == OpAdd {
			return StringValue(left.Str() + right.Str()), nil
		}
		return Value{}, &TypeError{Op: op.String(), Left: left.Kind(), Right: right.Kind()}
	}

	a, aInt := numericInt(left)
	b, bInt := numericInt(right)
	if aInt && bInt {
		switch op {
		case OpAdd:
			if s := a + b; (s > a) == (b > 0) {
				return IntValue(s), nil
			}
		case OpSub:
			if d := a - b; (d < a) == (b > 0) {
				return IntValue(d), nil
			}
		case OpMul:
			if a == 0 || b == 0 {
				return IntValue(0), nil
			}
			if p := a * b; p/b == a && !(a == -1 && b == math.MinInt64) && !(b == -1 && a == math.MinInt64) {
				return IntValue(p), nil
			}
		case OpDiv:
			if b == 0 {
				return Value{}, ErrDivisionByZero
			}
			if a%b == 0 && !(a == math.MinInt64 && b == -1) {
				return IntValue(a / b), nil
			}
		case OpMod:
			if b == 0 {
				return Value{}, ErrDivisionByZero
			}
			if b == -1 {
				return IntValue(0), nil
			}
			return IntValue(a % b), nil
		case OpPow:
			if b >= 0 {
				if p, ok := intPow(a, b); ok {
					return IntValue(p), nil
				}
			}
		}
		// overflow and inexact cases fall through to floating point
	}

	x, y := left.Float(), right.Float()
	switch op {
	case OpAdd:
		return finite(x + y)
	case OpSub:
		return finite(x - y)
	case OpMul:
		return finite(x * y)
	case OpDiv:
		if y == 0 {
			return Value{}, ErrDivisionByZero
		}
		return finite(x / y)
	case OpMod:
		if y == 0 {
			return Value{}, ErrDivisionByZero
		}
		return finite(math.Mod(x, y))
	case OpPow:
		if x == 0 && y < 0 {
			return Value{}, ErrDivisionByZero
		}
		return finite(math.Pow(x, y))
	}
	return Value{}, errors.New("unknown binary operator " + op.String())
}

func intPow(base, exp int64) (int64, bool) {
	switch base {
	case 0:
		if exp == 0 {
			return 1, true
		}
		return 0, true
	case 1:
		return 1, true
	case -1:
		if exp%2 == 0 {
			return 1, true
		}
		return -1, true
	}
	result := int64(1)
	for i := int64(0); i < exp; i++ {
		next := result * base
		if next/base != result {
			return 0, false
		}
		result = next
	}
	return result, true
}

func finite(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrNonFinite
	}
	return FloatValue(f), nil
}

// compare implements ==, !=, <, <=, >, >=. Numbers (and bools) compare
// numerically, strings lexicographically. Equality between a string and a
// number is false; ordering them is a TypeError.
func compare(op Operator, left, right Value) (Value, error) {
	lStr, rStr := left.Kind() == KindString, right.Kind() == KindString
	var c int
	switch {
	case lStr && rStr:
		c = strings.Compare(left.s, right.s)
	case lStr != rStr:
		switch op {
		case OpEq:
			return BoolValue(false), nil
		case OpNe:
			return BoolValue(true), nil
		}
		return Value{}, &TypeError{Op: op.String(), Left: left.Kind(), Right: right.Kind()}
	default:
		a, aInt := numericInt(left)
		b, bInt := numericInt(right)
		if aInt && bInt {
			c = cmpInt(a, b)
		} else {
			x, y := left.Float(), right.Float()
			switch {
			case x < y:
				c = -1
			case x > y:
				c = 1
			}
		}
	}

	switch op {
	case OpEq:
		return BoolValue(c == 0), nil
	case OpNe:
		return BoolValue(c != 0), nil
	case OpLt:
		return BoolValue(c < 0), nil
	case OpLe:
		return BoolValue(c <= 0), nil
	case OpGt:
		return BoolValue(c > 0), nil
	case OpGe:
		return BoolValue(c >= 0), nil
	}
	return Value{}, errors.New("unknown comparison operator " + op.String())
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
