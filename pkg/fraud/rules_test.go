package fraud

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyBands(t *testing.T) {
	require.Equal(t, "small", Classify(999))
	require.Equal(t, "medium", Classify(1000))
	require.Equal(t, "large", Classify(10000))
	require.Equal(t, "very_large", Classify(100000))
}

func TestAddRuleRejectsInvalidExpression(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	_, err = e.AddRule(Rule{Name: "broken", Expression: "tx.amount >>> 5", Active: true})
	require.Error(t, err)
	require.Empty(t, e.ListRules())
}

func TestEvaluateFiresMatchingRules(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	large, err := e.AddRule(Rule{
		Name: "large cash", Severity: "high", Active: true,
		Expression: `tx.amount > 10000.0 && tx.category == "cash"`,
	})
	require.NoError(t, err)
	_, err = e.AddRule(Rule{
		Name: "crypto anything", Severity: "critical", Active: true,
		Expression: `tx.category == "crypto"`,
	})
	require.NoError(t, err)
	_, err = e.AddRule(Rule{
		Name: "inactive", Active: false,
		Expression: `true`,
	})
	require.NoError(t, err)

	hits := e.Evaluate(Transaction{Amount: 25000, Category: "cash", Classification: Classify(25000)})
	require.Len(t, hits, 1)
	require.Equal(t, large.ID, hits[0].RuleID)
	require.Equal(t, "high", hits[0].Severity)

	require.Empty(t, e.Evaluate(Transaction{Amount: 50, Category: "retail"}))
}

func TestEvaluateUsesClassification(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	_, err = e.AddRule(Rule{
		Name: "very large", Severity: "critical", Active: true,
		Expression: `tx.classification == "very_large"`,
	})
	require.NoError(t, err)

	tx := Transaction{Amount: 150000, Classification: Classify(150000)}
	require.Len(t, e.Evaluate(tx), 1)
}

func TestRuntimeErrorSkipsRule(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	// Compiles against the dyn tx but fails at runtime: no such key.
	_, err = e.AddRule(Rule{Name: "bad key", Active: true, Expression: `tx.nonexistent == "x"`})
	require.NoError(t, err)
	_, err = e.AddRule(Rule{Name: "good", Active: true, Expression: `tx.amount >= 0.0`})
	require.NoError(t, err)

	hits := e.Evaluate(Transaction{Amount: 10})
	require.Len(t, hits, 1)
	require.Equal(t, "good", hits[0].RuleName)
}

func TestUpdateRuleRecompiles(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	r, err := e.AddRule(Rule{Name: "threshold", Active: true, Expression: `tx.amount > 100.0`})
	require.NoError(t, err)

	_, err = e.UpdateRule(r.ID, func(ru *Rule) { ru.Expression = `tx.amount > 1000.0` })
	require.NoError(t, err)
	require.Empty(t, e.Evaluate(Transaction{Amount: 500}))
	require.Len(t, e.Evaluate(Transaction{Amount: 5000}), 1)

	_, err = e.UpdateRule(r.ID, func(ru *Rule) { ru.Expression = `not valid (` })
	require.Error(t, err)
	// Failed update leaves the previous version in place.
	require.Len(t, e.Evaluate(Transaction{Amount: 5000}), 1)

	_, err = e.UpdateRule("missing", func(ru *Rule) {})
	require.ErrorIs(t, err, ErrRuleNotFound)
}

func TestDeleteRule(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)
	r, err := e.AddRule(Rule{Name: "x", Active: true, Expression: `true`})
	require.NoError(t, err)
	require.NoError(t, e.DeleteRule(r.ID))
	require.ErrorIs(t, e.DeleteRule(r.ID), ErrRuleNotFound)
	require.Empty(t, e.Evaluate(Transaction{}))
}
