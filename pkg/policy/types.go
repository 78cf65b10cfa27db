package policy

import (
	"time"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityWarning is reported but does not fail the build.
	SeverityWarning Severity = "warning"

	// SeverityError fails the build.
	SeverityError Severity = "error"
)

// Policy is one Rego module. Its deny rule yields errors and its warn rule
// yields warnings; either rule may be absent.
type Policy struct {
	// Name is the unique policy name. Policies loaded from a directory are
	// named by their relative path without extension.
	Name string `json:"name"`

	// Description is taken from the leading comment block of the module.
	Description string `json:"description"`

	// Rego is the module source.
	Rego string `json:"rego"`

	// Enabled policies take part in evaluation.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the compiler.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny or warn result.
type Violation struct {
	// Policy is the name of the policy that produced the violation.
	Policy string `json:"policy"`

	// Path is the configuration key the violation refers to, if any.
	Path []string `json:"path,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Severity is error for deny results and warning for warn results.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Violations are deny results.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are warn results and policies that failed to evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the policies that ran, sorted.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is the total evaluation time.
	Duration time.Duration `json:"duration"`
}

// Allowed reports whether no deny rule fired.
func (r *Result) Allowed() bool {
	return len(r.Violations) == 0
}
