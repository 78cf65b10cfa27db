package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Engine compiles Rego policies and evaluates them against a configuration
// tree.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy holds the prepared deny and warn queries of one policy.
type compiledPolicy struct {
	policy  *Policy
	pkg     string
	deny    rego.PreparedEvalQuery
	warn    rego.PreparedEvalQuery
	hasDeny bool
	hasWarn bool
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled policy with input bound to the configuration
// tree. Findings are sorted by path, then message.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{EvaluatedPolicies: make([]string, 0, len(e.policies))}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		if cp.hasDeny {
			found, err := e.evaluateQuery(ctx, cp, cp.deny, input, SeverityError)
			if err != nil {
				e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
				result.Warnings = append(result.Warnings, Violation{
					Policy:   name,
					Message:  fmt.Sprintf("policy %s evaluation failed: %v", name, err),
					Severity: SeverityWarning,
				})
				continue
			}
			result.Violations = append(result.Violations, found...)
		}

		if cp.hasWarn {
			found, err := e.evaluateQuery(ctx, cp, cp.warn, input, SeverityWarning)
			if err != nil {
				e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
				continue
			}
			result.Warnings = append(result.Warnings, found...)
		}
	}

	sortViolations(result.Violations)
	sortViolations(result.Warnings)
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// LoadPolicies loads and compiles policy files or directories. A policy with
// the name of an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluateQuery runs one prepared rule query and converts its set result.
func (e *Engine) evaluateQuery(ctx context.Context, cp *compiledPolicy, q rego.PreparedEvalQuery, input map[string]interface{}, sev Severity) ([]Violation, error) {
	results, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		set, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, item := range set {
			violations = append(violations, createViolation(cp.policy, item, sev))
		}
	}
	return violations, nil
}

// createViolation builds a Violation from a rule result: a string, or an
// object with message and path fields. path is a dotted string or an array
// of keys.
func createViolation(policy *Policy, result interface{}, sev Severity) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: sev,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		switch p := v["path"].(type) {
		case string:
			violation.Path = strings.Split(p, ".")
		case []interface{}:
			for _, seg := range p {
				violation.Path = append(violation.Path, fmt.Sprint(seg))
			}
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		pi, pj := strings.Join(vs[i].Path, "."), strings.Join(vs[j].Path, ".")
		if pi != pj {
			return pi < pj
		}
		if vs[i].Message != vs[j].Message {
			return vs[i].Message < vs[j].Message
		}
		return vs[i].Policy < vs[j].Policy
	})
}

// compileAndStorePolicy parses a policy and prepares its deny and warn
// queries.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	cp := &compiledPolicy{
		policy: policy,
		pkg:    module.Package.Path.String(),
	}
	for _, rule := range module.Rules {
		switch rule.Head.Ref().String() {
		case "deny":
			cp.hasDeny = true
		case "warn":
			cp.hasWarn = true
		}
	}

	prepare := func(rule string) (rego.PreparedEvalQuery, error) {
		r := rego.New(
			rego.Module(policy.Name+".rego", policy.Rego),
			rego.Query(cp.pkg+"."+rule),
		)
		return r.PrepareForEval(ctx)
	}
	if cp.hasDeny {
		if cp.deny, err = prepare("deny"); err != nil {
			return fmt.Errorf("failed to prepare query: %w", err)
		}
	}
	if cp.hasWarn {
		if cp.warn, err = prepare("warn"); err != nil {
			return fmt.Errorf("failed to prepare query: %w", err)
		}
	}

	e.policies[policy.Name] = cp

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", cp.pkg).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
