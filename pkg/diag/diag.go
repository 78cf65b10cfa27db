// Package diag converts the typed errors of every pipeline stage into
// uniform diagnostics and renders them for the terminal.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/irf"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/merger"
	"github.com/civa-shell/irfc/pkg/schema"
	"github.com/civa-shell/irfc/pkg/validator"
)

// Severity of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Pipeline stage names.
const (
	StageLocate   = "locate"
	StageEvaluate = "evaluate"
	StageMerge    = "merge"
	StageValidate = "validate"
	StageSchema   = "schema"
	StageWrite    = "write"
	StageDecode   = "decode"
)

// Diagnostic is one problem reported to the user.
type Diagnostic struct {
	Stage    string   `json:"stage"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Source   string   `json:"source,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
}

// Location renders source:line:col, omitting what is unknown.
func (d Diagnostic) Location() string {
	switch {
	case d.Source == "":
		return ""
	case d.Line > 0:
		return fmt.Sprintf("%s:%d:%d", d.Source, d.Line, d.Column)
	default:
		return d.Source
	}
}

// String renders the diagnostic on one line without styling.
func (d Diagnostic) String() string {
	var b strings.Builder
	if loc := d.Location(); loc != "" {
		b.WriteString(loc)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s[%s]: ", d.Severity, d.Code)
	if d.Path != "" {
		b.WriteString(d.Path)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	return b.String()
}

// FromError flattens err into diagnostics of the given stage. Unknown error
// types become a single diagnostic with code "Error".
func FromError(stage string, err error) []Diagnostic {
	if err == nil {
		return nil
	}

	var (
		locErr   *locator.Error
		evalErrs evaluator.Errors
		evalErr  *evaluator.Error
		mergeErs merger.Errors
		mergeErr *merger.Error
		findings validator.Errors
		finding  *validator.Finding
		irfErr   *irf.Error
		schemaEs schema.Errors
		schemaE  *schema.Error
	)

	switch {
	case errors.As(err, &evalErrs):
		out := make([]Diagnostic, 0, len(evalErrs))
		for _, e := range evalErrs {
			out = append(out, fromEvaluator(stage, e))
		}
		return out
	case errors.As(err, &evalErr):
		return []Diagnostic{fromEvaluator(stage, evalErr)}
	case errors.As(err, &mergeErs):
		out := make([]Diagnostic, 0, len(mergeErs))
		for _, e := range mergeErs {
			out = append(out, fromMerger(stage, e))
		}
		return out
	case errors.As(err, &mergeErr):
		return []Diagnostic{fromMerger(stage, mergeErr)}
	case errors.As(err, &findings):
		return FromFindings(stage, SeverityError, findings)
	case errors.As(err, &finding):
		return FromFindings(stage, SeverityError, []*validator.Finding{finding})
	case errors.As(err, &schemaEs):
		out := make([]Diagnostic, 0, len(schemaEs))
		for _, e := range schemaEs {
			out = append(out, fromSchema(stage, e))
		}
		return out
	case errors.As(err, &schemaE):
		return []Diagnostic{fromSchema(stage, schemaE)}
	case errors.As(err, &locErr):
		return []Diagnostic{{
			Stage:    stage,
			Severity: SeverityError,
			Code:     locatorCode(locErr.Kind),
			Source:   locErr.Path,
			Message:  locErr.Error(),
		}}
	case errors.As(err, &irfErr):
		return []Diagnostic{{
			Stage:    stage,
			Severity: SeverityError,
			Code:     string(irfErr.Kind),
			Path:     irfErr.Path,
			Message:  irfErr.Error(),
		}}
	default:
		return []Diagnostic{{
			Stage:    stage,
			Severity: SeverityError,
			Code:     "Error",
			Message:  err.Error(),
		}}
	}
}

// FromFindings converts validation findings.
func FromFindings(stage string, sev Severity, fs []*validator.Finding) []Diagnostic {
	out := make([]Diagnostic, 0, len(fs))
	for _, f := range fs {
		msg := f.Message
		if f.Policy != "" {
			msg = fmt.Sprintf("%s (policy %s)", msg, f.Policy)
		}
		out = append(out, Diagnostic{
			Stage:    stage,
			Severity: sev,
			Code:     string(f.Kind),
			Source:   f.Source,
			Line:     f.Line,
			Column:   f.Column,
			Path:     f.Path,
			Message:  msg,
		})
	}
	return out
}

// FromWarnings converts locator warnings.
func FromWarnings(stage string, ws []locator.Warning) []Diagnostic {
	out := make([]Diagnostic, 0, len(ws))
	for _, w := range ws {
		out = append(out, Diagnostic{
			Stage:    stage,
			Severity: SeverityWarning,
			Code:     "Skipped",
			Source:   w.Path,
			Message:  w.Message,
		})
	}
	return out
}

func fromEvaluator(stage string, e *evaluator.Error) Diagnostic {
	return Diagnostic{
		Stage:    stage,
		Severity: SeverityError,
		Code:     string(e.Kind),
		Source:   e.Source,
		Line:     e.Line,
		Column:   e.Column,
		Message:  e.Message,
	}
}

func fromMerger(stage string, e *merger.Error) Diagnostic {
	d := Diagnostic{
		Stage:    stage,
		Severity: SeverityError,
		Code:     string(e.Kind),
		Source:   e.Source,
		Line:     e.Line,
		Column:   e.Column,
		Path:     e.KeyPath,
	}
	if e.Kind == merger.CyclicReference {
		d.Message = "cyclic reference: " + strings.Join(e.Cycle, " -> ")
	} else {
		d.Message = fmt.Sprintf("reference target %s does not exist", e.Target)
	}
	return d
}

func fromSchema(stage string, e *schema.Error) Diagnostic {
	return Diagnostic{
		Stage:    stage,
		Severity: SeverityError,
		Code:     "SchemaError",
		Source:   e.Source,
		Line:     e.Line,
		Column:   e.Column,
		Path:     e.Path,
		Message:  e.Message,
	}
}

func locatorCode(k locator.ErrorKind) string {
	switch k {
	case locator.ErrNotFound:
		return "NotFound"
	case locator.ErrNotADirectory:
		return "NotADirectory"
	case locator.ErrUnreadable:
		return "Unreadable"
	default:
		return "WalkFailure"
	}
}

// Sort orders diagnostics by source, position, path and message. Errors
// without a source sort first.
func Sort(ds []Diagnostic) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Message < b.Message
	})
}

// Count returns the number of diagnostics with severity sev.
func Count(ds []Diagnostic, sev Severity) int {
	n := 0
	for _, d := range ds {
		if d.Severity == sev {
			n++
		}
	}
	return n
}
