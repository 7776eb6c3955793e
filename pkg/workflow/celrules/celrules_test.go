package celrules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Check_MatchesOperatorRule(t *testing.T) {
	eval, err := New()
	require.NoError(t, err)

	matched, err := eval.Check(
		`workflow_type == "eu_transfer" && payload.region == "EU" && payload.value > 5000.0`,
		"eu_transfer",
		json.RawMessage(`{"region": "EU", "value": 9000}`),
	)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestEvaluator_Check_NoMatch(t *testing.T) {
	eval, err := New()
	require.NoError(t, err)

	matched, err := eval.Check(
		`payload.value > 5000.0`,
		"eu_transfer",
		json.RawMessage(`{"value": 100}`),
	)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestEvaluator_Check_CachesCompiledProgram(t *testing.T) {
	eval, err := New()
	require.NoError(t, err)

	expr := `payload.value > 10.0`
	_, err = eval.Check(expr, "x", json.RawMessage(`{"value": 1}`))
	require.NoError(t, err)
	assert.Len(t, eval.progs, 1)

	_, err = eval.Check(expr, "x", json.RawMessage(`{"value": 100}`))
	require.NoError(t, err)
	assert.Len(t, eval.progs, 1)
}

func TestRules_Any_OrSemantics(t *testing.T) {
	eval, err := New()
	require.NoError(t, err)

	rules := Rules{
		Evaluator: eval,
		Expressions: []string{
			`workflow_type == "never_matches"`,
			`payload.flag == true`,
		},
	}

	matched, err := rules.Any("something", json.RawMessage(`{"flag": true}`))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestRules_Any_NilEvaluatorIsNoop(t *testing.T) {
	rules := Rules{Expressions: []string{`true`}}
	matched, err := rules.Any("x", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, matched)
}
