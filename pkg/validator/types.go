package validator

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a validation finding.
type Kind string

const (
	// MissingKey means a required key is absent below an existing parent.
	MissingKey Kind = "MissingKey"

	// TypeMismatch means a value has a different kind than its rule.
	TypeMismatch Kind = "TypeMismatch"

	// ConstraintViolation covers enum, range, pattern, reference target and
	// policy deny failures.
	ConstraintViolation Kind = "ConstraintViolation"

	// UnknownKey means no rule describes a key. It is only ever a warning.
	UnknownKey Kind = "UnknownKey"
)

// Finding is a single validation error or warning.
type Finding struct {
	Kind Kind `json:"kind"`

	// Path is the dotted key path, with "[i]" suffixes for list elements.
	Path string `json:"path"`

	Message string `json:"message"`

	// Policy names the Rego policy that produced the finding, if any.
	Policy string `json:"policy,omitempty"`

	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

func (f *Finding) Error() string {
	var b strings.Builder
	if f.Source != "" {
		b.WriteString(f.Source)
		if f.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", f.Line, f.Column)
		}
		b.WriteString(": ")
	}
	if f.Path != "" {
		b.WriteString(f.Path)
		b.WriteString(": ")
	}
	b.WriteString(f.Message)
	return b.String()
}

// Errors is the error returned for a failing report.
type Errors []*Finding

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Report holds every finding of one validation run. Errors fail the build,
// warnings do not.
type Report struct {
	Errors   []*Finding `json:"errors,omitempty"`
	Warnings []*Finding `json:"warnings,omitempty"`
}

// OK reports whether validation found no errors.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the errors as an Errors value, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return Errors(r.Errors)
}

func (r *Report) addError(f *Finding) { r.Errors = append(r.Errors, f) }

func (r *Report) addWarning(f *Finding) { r.Warnings = append(r.Warnings, f) }

func (r *Report) sort() {
	sortFindings(r.Errors)
	sortFindings(r.Warnings)
}

func sortFindings(fs []*Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Path != fs[j].Path {
			return fs[i].Path < fs[j].Path
		}
		if fs[i].Kind != fs[j].Kind {
			return fs[i].Kind < fs[j].Kind
		}
		return fs[i].Message < fs[j].Message
	})
}
