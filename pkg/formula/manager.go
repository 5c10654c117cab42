package formula

import (
	"errors"
	"sort"
)

// Engine is the lifecycle shared by every formula dialect: set the text
// once, evaluate as often as inputs change.
type Engine interface {
	SetFormula(text string) error
	Evaluate(resolver Resolver) (Result, error)
	Formula() string
	Fields() []string
}

// Option configures a Manager or an ExprManager.
type Option func(*options)

type options struct {
	policy MissingFieldPolicy
}

// WithMissingFieldPolicy selects how unresolved fields are handled.
func WithMissingFieldPolicy(p MissingFieldPolicy) Option {
	return func(o *options) { o.policy = p }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Manager owns the parsed tree of one formula. A Manager is not safe for
// concurrent use: SetFormula replaces the tree in place, so confine each
// instance to one goroutine or guard it externally.
type Manager struct {
	source string
	root   *Node
	policy MissingFieldPolicy
}

// NewManager creates a manager with no formula.
func NewManager(opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{policy: o.policy}
}

// SetFormula parses text and replaces the owned tree. On a ParseError the
// previous formula stays active.
func (m *Manager) SetFormula(text string) error {
	root, err := Parse(text)
	if err != nil {
		return err
	}
	m.source = text
	m.root = root
	return nil
}

// Clear drops the owned tree.
func (m *Manager) Clear() {
	m.source = ""
	m.root = nil
}

// HasFormula reports whether a formula was successfully set.
func (m *Manager) HasFormula() bool { return m.root != nil }

// Formula returns the source text of the active formula.
func (m *Manager) Formula() string { return m.source }

// Policy returns the configured missing field policy.
func (m *Manager) Policy() MissingFieldPolicy { return m.policy }

// Fields returns the sorted, distinct field keys the formula reads.
func (m *Manager) Fields() []string {
	if m.root == nil {
		return nil
	}
	keys := m.root.Fields()
	sort.Strings(keys)
	return keys
}

// String returns the canonical text of the active formula, or "" when none
// is set. Parsing the result yields an equivalent tree.
func (m *Manager) String() string {
	if m.root == nil {
		return ""
	}
	return m.root.String()
}

// Evaluate runs the active formula against resolver.
func (m *Manager) Evaluate(resolver Resolver) (Result, error) {
	if m.root == nil {
		return Result{}, &EvaluationError{Err: ErrNoFormula}
	}
	res, err := EvaluateNode(m.root, resolver, m.policy)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			evalErr.Formula = m.source
		}
		return Result{}, err
	}
	return res, nil
}

// Value sets text as the active formula and evaluates it. A ParseError is
// returned as is, without evaluating anything.
func (m *Manager) Value(text string, resolver Resolver) (Result, error) {
	if err := m.SetFormula(text); err != nil {
		return Result{}, err
	}
	return m.Evaluate(resolver)
}

// Validate reports whether text parses.
func Validate(text string) error {
	_, err := Parse(text)
	return err
}

// Evaluate parses and evaluates text in one step using the default
// MissingAsZero policy.
func Evaluate(text string, resolver Resolver) (Result, error) {
	return NewManager().Value(text, resolver)
}
