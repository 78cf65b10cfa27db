package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/civa-shell/irfc/pkg/value"
)

// Kind classifies evaluation failures.
type Kind string

const (
	// SyntaxError means the source could not be parsed, or a construct is
	// malformed (including cyclic local definitions).
	SyntaxError Kind = "SyntaxError"

	// ForbiddenOperation means the source uses a construct outside the
	// declarative subset.
	ForbiddenOperation Kind = "ForbiddenOperation"

	// UndefinedReference means a name is used but never bound.
	UndefinedReference Kind = "UndefinedReference"

	// TypeMismatch means an operation was applied to values of the wrong kind.
	TypeMismatch Kind = "TypeMismatch"
)

// Error is a single evaluation failure with its location.
type Error struct {
	Kind    Kind   `json:"kind"`
	Source  string `json:"source"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Source, e.Line, e.Column, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Message)
}

// Errors is a list of evaluation failures from one source.
type Errors []*Error

func (es Errors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n  %s", len(es), strings.Join(msgs, "\n  "))
}

// Sort orders the errors by position.
func (es Errors) Sort() {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Line != es[j].Line {
			return es[i].Line < es[j].Line
		}
		return es[i].Column < es[j].Column
	})
}

// err returns nil for an empty list so callers can return it directly.
func (es Errors) err() error {
	if len(es) == 0 {
		return nil
	}
	es.Sort()
	return es
}

// AsErrors flattens err into a list of *Error. Errors of other types are
// reported as SyntaxError against source.
func AsErrors(source string, err error) Errors {
	switch e := err.(type) {
	case nil:
		return nil
	case Errors:
		return e
	case *Error:
		return Errors{e}
	default:
		return Errors{{Kind: SyntaxError, Source: source, Message: err.Error()}}
	}
}

// Position is a 1-based line and column in a source file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Tree is the evaluated form of one source: a table of values, some of which
// may still be references.
type Tree struct {
	// Source is the path of the source, relative to the configuration root.
	Source string

	// Format names the frontend that produced the tree.
	Format string

	// Root holds the top-level bindings.
	Root *value.Table

	// Positions maps declared dotted paths to where they were declared.
	Positions map[string]Position
}

// NewTree creates an empty tree for source.
func NewTree(source, format string) *Tree {
	return &Tree{
		Source:    source,
		Format:    format,
		Root:      value.NewTable(),
		Positions: make(map[string]Position),
	}
}

// Declare records the position of a declared path.
func (t *Tree) Declare(p value.Path, pos Position) {
	t.Positions[p.String()] = pos
}

// Position returns the declaration position of p or of its nearest declared
// ancestor.
func (t *Tree) Position(p value.Path) (Position, bool) {
	for n := len(p); n > 0; n-- {
		if pos, ok := t.Positions[p[:n].String()]; ok {
			return pos, true
		}
	}
	return Position{}, false
}
