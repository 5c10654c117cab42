package formula

import (
	"fmt"
	"math"
)

// builtin describes a callable function. maxArgs < 0 means variadic.
// lazy functions receive no evaluated arguments; they are special-cased by
// the evaluator.
type builtin struct {
	minArgs int
	maxArgs int
	lazy    bool
	call    func(args []Value) (Value, error)
}

func (b builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", b.minArgs)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("%d argument(s)", b.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", b.minArgs, b.maxArgs)
	}
}

var builtins = map[string]builtin{
	"floor": {minArgs: 1, maxArgs: 1, call: rounding(math.Floor)},
	"ceil":  {minArgs: 1, maxArgs: 1, call: rounding(math.Ceil)},
	"round": {minArgs: 1, maxArgs: 1, call: rounding(math.Round)},
	"trunc": {minArgs: 1, maxArgs: 1, call: rounding(math.Trunc)},
	"abs":   {minArgs: 1, maxArgs: 1, call: fnAbs},
	"sqrt":  {minArgs: 1, maxArgs: 1, call: fnSqrt},
	"pow":   {minArgs: 2, maxArgs: 2, call: fnPow},
	"min":   {minArgs: 1, maxArgs: -1, call: extremum(OpLt)},
	"max":   {minArgs: 1, maxArgs: -1, call: extremum(OpGt)},
	"clamp": {minArgs: 3, maxArgs: 3, call: fnClamp},
	"if":    {minArgs: 3, maxArgs: 3, lazy: true},
}

func requireNumber(name string, v Value) error {
	if v.Kind() == KindString {
		return &TypeError{Op: name, Left: v.Kind(), Right: v.Kind()}
	}
	return nil
}

// rounding applies f and returns an Int when the result fits in int64.
func rounding(f func(float64) float64) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		v := args[0]
		if err := requireNumber("rounding", v); err != nil {
			return Value{}, err
		}
		if n, ok := v.Int(); ok {
			return IntValue(n), nil
		}
		return intIfFits(f(v.Float()))
	}
}

func intIfFits(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrNonFinite
	}
	if f >= math.MinInt64 && f < math.MaxInt64 && f == math.Trunc(f) {
		return IntValue(int64(f)), nil
	}
	return FloatValue(f), nil
}

func fnAbs(args []Value) (Value, error) {
	v := args[0]
	if err := requireNumber("abs", v); err != nil {
		return Value{}, err
	}
	if n, ok := v.Int(); ok {
		if n == math.MinInt64 {
			return FloatValue(-float64(n)), nil
		}
		if n < 0 {
			n = -n
		}
		return IntValue(n), nil
	}
	return FloatValue(math.Abs(v.Float())), nil
}

func fnSqrt(args []Value) (Value, error) {
	if err := requireNumber("sqrt", args[0]); err != nil {
		return Value{}, err
	}
	return finite(math.Sqrt(args[0].Float()))
}

func fnPow(args []Value) (Value, error) {
	return arith(OpPow, args[0], args[1])
}

// extremum returns the argument that wins every comparison with op.
func extremum(op Operator) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		best := args[0]
		if err := requireNumber(op.String(), best); err != nil {
			return Value{}, err
		}
		for _, v := range args[1:] {
			if err := requireNumber(op.String(), v); err != nil {
				return Value{}, err
			}
			better, err := compare(op, v, best)
			if err != nil {
				return Value{}, err
			}
			if better.Truthy() {
				best = v
			}
		}
		return best, nil
	}
}

func fnClamp(args []Value) (Value, error) {
	lo, err := extremum(OpGt)([]Value{args[0], args[1]})
	if err != nil {
		return Value{}, err
	}
	return extremum(OpLt)([]Value{lo, args[2]})
}
