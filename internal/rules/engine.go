// Package rules evaluates CEL detection rules against the behavioral signals
// of a trader window.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
)

// Signals are the integer inputs visible to every rule expression.
type Signals struct {
	AvgTradeSize    uint64
	TradeFrequency  uint64
	VolatilityScore uint64
	TradeVolume     uint64
	BaseScore       uint64
	RiskScore       uint64
}

func (s Signals) activation() map[string]any {
	return map[string]any{
		"avg_trade_size":   int64(s.AvgTradeSize),
		"trade_frequency":  int64(s.TradeFrequency),
		"volatility_score": int64(s.VolatilityScore),
		"trade_volume":     int64(s.TradeVolume),
		"base_score":       int64(s.BaseScore),
		"risk_score":       int64(s.RiskScore),
	}
}

// Engine holds the compiled set of enabled detection rules.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*compiledRule
	maxWorkers int
}

type compiledRule struct {
	rule    *domain.DetectionRule
	program cel.Program
}

// NewEngine creates an engine that evaluates at most maxWorkers rules at once.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("avg_trade_size", cel.IntType),
		cel.Variable("trade_frequency", cel.IntType),
		cel.Variable("volatility_score", cel.IntType),
		cel.Variable("trade_volume", cel.IntType),
		cel.Variable("base_score", cel.IntType),
		cel.Variable("risk_score", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*compiledRule),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles rule without loading it.
func (e *Engine) Validate(rule *domain.DetectionRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	_, err := e.compile(rule)
	return err
}

// Load compiles rule and adds or replaces it in the active set.
// Disabled rules are removed instead.
func (e *Engine) Load(rule *domain.DetectionRule) error {
	if !rule.Enabled {
		e.mu.Lock()
		delete(e.compiled, rule.ID)
		e.mu.Unlock()
		return nil
	}

	c, err := e.compile(rule)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[rule.ID] = c
	e.mu.Unlock()
	return nil
}

// Reload replaces the active set with the enabled rules in rules.
// Nothing changes when any rule fails to compile.
func (e *Engine) Reload(rules []*domain.DetectionRule) error {
	next := make(map[string]*compiledRule, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		c, err := e.compile(rule)
		if err != nil {
			return err
		}
		next[rule.ID] = c
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// Rules returns the active rules ordered by id.
func (e *Engine) Rules() []*domain.DetectionRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.DetectionRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of active rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Evaluate runs every active rule over s in parallel and returns one hit per
// rule, ordered by rule id. A rule that errors does not fire.
func (e *Engine) Evaluate(ctx context.Context, s Signals) []domain.RuleHit {
	e.mu.RLock()
	rules := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		rules = append(rules, c)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].rule.ID < rules[j].rule.ID })

	vars := s.activation()
	hits := make([]domain.RuleHit, len(rules))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, c := range rules {
		wg.Add(1)
		go func(i int, c *compiledRule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hits[i] = evaluate(ctx, c, vars)
		}(i, c)
	}
	wg.Wait()

	return hits
}

// AnyFired reports whether at least one hit fired.
func AnyFired(hits []domain.RuleHit) bool {
	for _, h := range hits {
		if h.Fired {
			return true
		}
	}
	return false
}

func evaluate(ctx context.Context, c *compiledRule, vars map[string]any) domain.RuleHit {
	start := time.Now()
	hit := domain.RuleHit{RuleID: c.rule.ID}

	out, _, err := c.program.ContextEval(ctx, vars)
	hit.ProcessMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		hit.Error = err.Error()
		metrics.RuleEvaluations.WithLabelValues(c.rule.ID, "error").Inc()
	case out == types.True:
		hit.Fired = true
		metrics.RuleEvaluations.WithLabelValues(c.rule.ID, "fired").Inc()
	default:
		metrics.RuleEvaluations.WithLabelValues(c.rule.ID, "clear").Inc()
	}
	return hit
}

func (e *Engine) compile(rule *domain.DetectionRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidInput, rule.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s must return bool, got %s", domain.ErrInvalidInput, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &compiledRule{rule: rule, program: program}, nil
}
