// Package fraud implements the fraud rule engine: CEL condition expressions
// compiled at rule creation and evaluated against transactions.
package fraud

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
)

// ErrRuleNotFound is returned for unknown rule ids.
var ErrRuleNotFound = errors.New("fraud rule not found")

// Transaction is the evaluation input. Classification bands derive from the
// amount; category comes from the caller.
type Transaction struct {
	ID             string    `json:"id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	Category       string    `json:"category"`
	Classification string    `json:"classification"`
	Status         string    `json:"status"`
	ReviewedBy     string    `json:"reviewed_by,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Classify derives the amount band used by rule expressions.
func Classify(amount float64) string {
	switch {
	case amount >= 100000:
		return "very_large"
	case amount >= 10000:
		return "large"
	case amount >= 1000:
		return "medium"
	default:
		return "small"
	}
}

// Rule is one fraud detection rule. The CEL expression must reference the
// transaction through the `tx` variable and evaluate to a boolean.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	Severity    string    `json:"severity"`
	Active      bool      `json:"active"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	program cel.Program
}

// Hit records one rule firing against a transaction.
type Hit struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Severity string `json:"severity"`
}

// Engine compiles rule expressions once, at create or update time, and
// evaluates every active rule against submitted transactions.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*Rule
}

// NewEngine builds the CEL environment exposing the transaction as `tx`.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Engine{env: env, rules: map[string]*Rule{}}, nil
}

func (e *Engine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule expression: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("build rule program: %w", err)
	}
	return prg, nil
}

// AddRule compiles and registers a rule. An expression that fails to
// compile rejects the rule.
func (e *Engine) AddRule(r Rule) (*Rule, error) {
	prg, err := e.compile(r.Expression)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Severity == "" {
		r.Severity = "medium"
	}
	r.program = prg

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = &r
	return &r, nil
}

// UpdateRule recompiles when the expression changes.
func (e *Engine) UpdateRule(id string, mutate func(*Rule)) (*Rule, error) {
	e.mu.Lock()
	cur, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return nil, ErrRuleNotFound
	}
	cp := *cur
	e.mu.Unlock()

	mutate(&cp)
	cp.ID = id
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now().UTC()

	if cp.Expression != cur.Expression {
		prg, err := e.compile(cp.Expression)
		if err != nil {
			return nil, err
		}
		cp.program = prg
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[id] = &cp
	return &cp, nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(e.rules, id)
	return nil
}

// GetRule returns a rule by id.
func (e *Engine) GetRule(id string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return r, nil
}

// ListRules returns all rules sorted by name.
func (e *Engine) ListRules() []*Rule {
	e.mu.RLock()
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Evaluate runs every active rule against the transaction and returns the
// rules that fired. A rule whose evaluation errors is skipped; a detection
// pass never fails because one rule misbehaves at runtime.
func (e *Engine) Evaluate(tx Transaction) []Hit {
	input := map[string]any{
		"tx": map[string]any{
			"id":             tx.ID,
			"amount":         tx.Amount,
			"currency":       tx.Currency,
			"category":       tx.Category,
			"classification": tx.Classification,
			"status":         tx.Status,
			"created_by":     tx.CreatedBy,
		},
	}

	e.mu.RLock()
	rules := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Active {
			rules = append(rules, r)
		}
	}
	e.mu.RUnlock()

	var hits []Hit
	for _, r := range rules {
		out, _, err := r.program.Eval(input)
		if err != nil {
			continue
		}
		fired, ok := out.Value().(bool)
		if !ok || !fired {
			continue
		}
		hits = append(hits, Hit{RuleID: r.ID, RuleName: r.Name, Severity: r.Severity})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].RuleID < hits[j].RuleID })
	return hits
}
