package formula

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	exprparser "github.com/expr-lang/expr/parser"
)

// Dialect names the syntax a stored formula is written in.
type Dialect string

const (
	// DialectNative is the sheet formula grammar implemented by Parse.
	DialectNative Dialect = "native"
	// DialectExpr hands the formula to github.com/expr-lang/expr, which adds
	// ternaries, string and collection builtins.
	DialectExpr Dialect = "expr"
)

// ParseDialect maps a stored dialect name to a Dialect. The empty string is
// the native dialect.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case "", DialectNative:
		return DialectNative, nil
	case DialectExpr:
		return DialectExpr, nil
	default:
		return "", fmt.Errorf("unknown formula dialect %q", s)
	}
}

// NewEngine returns the engine for dialect d.
func NewEngine(d Dialect, opts ...Option) (Engine, error) {
	switch d {
	case "", DialectNative:
		return NewManager(opts...), nil
	case DialectExpr:
		return NewExprManager(opts...), nil
	default:
		return nil, fmt.Errorf("unknown formula dialect %q", d)
	}
}

// ExprManager evaluates formulas with expr-lang. The program is compiled
// against the resolved fields on every evaluation, so field types may change
// between calls.
type ExprManager struct {
	source string
	fields []string
	policy MissingFieldPolicy
}

// NewExprManager creates an expr dialect manager with no formula.
func NewExprManager(opts ...Option) *ExprManager {
	o := buildOptions(opts)
	return &ExprManager{policy: o.policy}
}

// SetFormula checks the syntax of text and records the fields it reads. On
// failure the previous formula stays active.
func (m *ExprManager) SetFormula(text string) error {
	if pos, ok := tooDeep(text); ok {
		return parseErrorf(pos, "formula nested too deeply")
	}
	tree, err := exprparser.Parse(text)
	if err != nil {
		return &ParseError{Pos: exprErrorPos(err), Msg: err.Error()}
	}
	m.source = text
	m.fields = collectIdentifiers(tree.Node)
	return nil
}

// Formula returns the source text of the active formula.
func (m *ExprManager) Formula() string { return m.source }

// Fields returns the sorted field keys referenced by the formula.
func (m *ExprManager) Fields() []string { return append([]string(nil), m.fields...) }

// Evaluate resolves every referenced field, compiles and runs the program.
func (m *ExprManager) Evaluate(resolver Resolver) (Result, error) {
	if m.source == "" {
		return Result{}, &EvaluationError{Err: ErrNoFormula}
	}
	if resolver == nil {
		resolver = MapResolver(nil)
	}

	var warnings []error
	params := make(map[string]interface{}, len(m.fields))
	for _, key := range m.fields {
		v, ok := resolver.Resolve(key)
		if !ok {
			missing := &UnresolvedFieldError{Field: key}
			if m.policy == MissingIsError {
				return Result{}, &EvaluationError{Formula: m.source, Err: missing}
			}
			warnings = append(warnings, missing)
			v = IntValue(0)
		}
		params[key] = v.Any()
	}

	program, err := expr.Compile(m.source,
		expr.Env(params),
		expr.Function(checkedDivFunc, checkedDiv),
		expr.Patch(divisionPatcher{}),
	)
	if err != nil {
		return Result{}, &EvaluationError{Formula: m.source, Err: fmt.Errorf("failed to compile expression: %w", err)}
	}
	out, err := expr.Run(program, params)
	if err != nil {
		msg := err.Error()
		if !errors.Is(err, ErrDivisionByZero) &&
			(strings.Contains(msg, "divide by zero") || strings.Contains(msg, ErrDivisionByZero.Error())) {
			err = fmt.Errorf("%w: %v", ErrDivisionByZero, err)
		}
		return Result{}, &EvaluationError{Formula: m.source, Err: err}
	}

	v, err := ValueOf(out)
	if err != nil {
		return Result{}, &EvaluationError{Formula: m.source, Err: fmt.Errorf("unexpected result type: %T", out)}
	}
	if v.Kind() == KindFloat && (math.IsNaN(v.Float()) || math.IsInf(v.Float(), 0)) {
		return Result{}, &EvaluationError{Formula: m.source, Err: ErrNonFinite}
	}
	return Result{Value: v, Warnings: warnings}, nil
}

// checkedDivFunc replaces the '/' operator so a zero divisor fails instead
// of producing an infinity.
const checkedDivFunc = "sheetcalc_div"

type divisionPatcher struct{}

func (divisionPatcher) Visit(node *ast.Node) {
	n, ok := (*node).(*ast.BinaryNode)
	if !ok || n.Operator != "/" {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: checkedDivFunc},
		Arguments: []ast.Node{n.Left, n.Right},
	})
}

func checkedDiv(params ...any) (any, error) {
	a, okA := toFloat(params[0])
	b, okB := toFloat(params[1])
	if !okA || !okB {
		return nil, fmt.Errorf("invalid operation: %T / %T", params[0], params[1])
	}
	if b == 0 {
		return nil, ErrDivisionByZero
	}
	return a / b, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// tooDeep reports the offset of the first bracket, outside string literals,
// that opens more than maxDepth levels.
func tooDeep(text string) (int, bool) {
	depth := 0
	var quote rune
	escaped := false
	for i, r := range text {
		switch {
		case quote != 0:
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'' || r == '`':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
			if depth > maxDepth {
				return i, true
			}
		case r == ')' || r == ']' || r == '}':
			depth--
		}
	}
	return 0, false
}

type identCollector struct {
	idents  map[string]struct{}
	callees map[string]struct{}
	locals  map[string]struct{}
}

func (c *identCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents[n.Value] = struct{}{}
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.callees[id.Value] = struct{}{}
		}
	case *ast.VariableDeclaratorNode:
		c.locals[n.Name] = struct{}{}
	}
}

// collectIdentifiers returns the variable names of an expr tree, leaving
// out function names and let bindings.
func collectIdentifiers(root ast.Node) []string {
	c := &identCollector{
		idents:  make(map[string]struct{}),
		callees: make(map[string]struct{}),
		locals:  make(map[string]struct{}),
	}
	ast.Walk(&root, c)
	var keys []string
	for k := range c.idents {
		_, isCall := c.callees[k]
		_, isLocal := c.locals[k]
		if !isCall && !isLocal {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// exprErrorPos extracts the column from an expr syntax error, which ends
// its first line with "(line:column)".
func exprErrorPos(err error) int {
	msg := err.Error()
	i := strings.Index(msg, "(1:")
	if i < 0 {
		return 0
	}
	var column int
	if _, scanErr := fmt.Sscanf(msg[i+3:], "%d", &column); scanErr != nil {
		return 0
	}
	return column
}
