package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_EvaluateWithoutFormula(t *testing.T) {
	m := NewManager()
	assert.False(t, m.HasFormula())

	_, err := m.Evaluate(MapResolver{})
	assert.True(t, errors.Is(err, ErrNoFormula))
}

func TestManager_FailedSetKeepsPreviousFormula(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetFormula("str + 2"))

	err := m.SetFormula("(1+2")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))

	assert.True(t, m.HasFormula())
	assert.Equal(t, "str + 2", m.Formula())

	res, err := m.Evaluate(MapResolver{"str": IntValue(10)})
	require.NoError(t, err)
	assert.True(t, IntValue(12).Equal(res.Value))
}

func TestManager_ValueFailsExplicitlyOnParseError(t *testing.T) {
	m := NewManager()

	_, err := m.Value("2+*3", MapResolver{})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 2, perr.Pos)

	var evalErr *EvaluationError
	assert.False(t, errors.As(err, &evalErr))
	assert.False(t, m.HasFormula())
}

func TestManager_ReplaceFormula(t *testing.T) {
	m := NewManager()
	ctx := MapResolver{"a": IntValue(3), "b": IntValue(4)}

	res, err := m.Value("a * b", ctx)
	require.NoError(t, err)
	assert.True(t, IntValue(12).Equal(res.Value))

	res, err = m.Value("a + b", ctx)
	require.NoError(t, err)
	assert.True(t, IntValue(7).Equal(res.Value))
	assert.Equal(t, []string{"a", "b"}, m.Fields())
}

func TestManager_Clear(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetFormula("1"))
	m.Clear()

	assert.False(t, m.HasFormula())
	assert.Empty(t, m.Formula())
	assert.Empty(t, m.String())
	assert.Nil(t, m.Fields())
}

func TestManager_FieldsSortedAndDistinct(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetFormula("wis + dex + wis + ${Armor Class}"))
	assert.Equal(t, []string{"Armor Class", "dex", "wis"}, m.Fields())
}

func TestManager_Deterministic(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.SetFormula("floor((str-10)/2) * 3 + level / 4"))
	ctx := MapResolver{"str": IntValue(17), "level": IntValue(9)}

	first, err := m.Evaluate(ctx)
	require.NoError(t, err)
	second, err := m.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, first.Value.Equal(second.Value))
	assert.True(t, FloatValue(11.25).Equal(first.Value))
}

func TestManager_ReparseEvaluatesIdentically(t *testing.T) {
	ctx := MapResolver{"con": IntValue(13), "level": IntValue(4)}

	a, b := NewManager(), NewManager()
	require.NoError(t, a.SetFormula("level * (8 + floor((con - 10) / 2))"))
	require.NoError(t, b.SetFormula(a.String()))

	ra, err := a.Evaluate(ctx)
	require.NoError(t, err)
	rb, err := b.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, ra.Value.Equal(rb.Value))
	assert.True(t, IntValue(36).Equal(ra.Value))
}

func TestManager_BrokenFormulaDoesNotAffectOthers(t *testing.T) {
	ctx := MapResolver{"x": IntValue(2)}
	broken, healthy := NewManager(), NewManager()
	require.NoError(t, broken.SetFormula("x / 0"))
	require.NoError(t, healthy.SetFormula("x * 5"))

	_, err := broken.Evaluate(ctx)
	require.Error(t, err)

	res, err := healthy.Evaluate(ctx)
	require.NoError(t, err)
	assert.True(t, IntValue(10).Equal(res.Value))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("floor(str / 2)"))
	assert.Error(t, Validate("floor(str / 2"))
}

func TestNewEngine(t *testing.T) {
	native, err := NewEngine(DialectNative)
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, native)

	exprEngine, err := NewEngine(DialectExpr)
	require.NoError(t, err)
	assert.IsType(t, &ExprManager{}, exprEngine)

	_, err = NewEngine("lua")
	assert.Error(t, err)

	d, err := ParseDialect(" EXPR ")
	require.NoError(t, err)
	assert.Equal(t, DialectExpr, d)

	d, err = ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectNative, d)
}
