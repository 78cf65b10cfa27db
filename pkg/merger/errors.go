package merger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies a merge failure.
type ErrorKind string

const (
	// UnresolvedReference means a ref names a path that does not exist in the
	// merged tree.
	UnresolvedReference ErrorKind = "UnresolvedReference"

	// CyclicReference means refs depend on each other transitively.
	CyclicReference ErrorKind = "CyclicReference"
)

// Error is a single merge failure.
type Error struct {
	Kind ErrorKind `json:"kind"`

	// KeyPath is the location holding the ref, e.g. "bar.color" or "paths[1]".
	KeyPath string `json:"key_path"`

	// Target is the path the ref points to.
	Target string `json:"target,omitempty"`

	// Cycle lists the ref locations forming a cycle, first element repeated
	// at the end.
	Cycle []string `json:"cycle,omitempty"`

	Source string `json:"source,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case CyclicReference:
		msg = "cyclic reference: " + strings.Join(e.Cycle, " -> ")
	default:
		msg = fmt.Sprintf("unresolved reference at %s: %s does not exist", e.KeyPath, e.Target)
	}
	if e.Source == "" {
		return msg
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, msg)
	}
	return e.Source + ": " + msg
}

// Errors accumulates every merge failure of one run.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

func (es Errors) sort() {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Kind != es[j].Kind {
			return es[i].Kind == CyclicReference
		}
		return es[i].KeyPath < es[j].KeyPath
	})
}

func (es Errors) err() error {
	if len(es) == 0 {
		return nil
	}
	es.sort()
	return es
}

func unresolved(s *site) *Error {
	return &Error{
		Kind:    UnresolvedReference,
		KeyPath: s.id,
		Target:  s.ref.Target.String(),
		Source:  s.ref.Source,
		Line:    s.ref.Line,
		Column:  s.ref.Column,
	}
}

// IsKind reports whether err is, or wraps, a merge error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var es Errors
	if errors.As(err, &es) {
		for _, x := range es {
			if x.Kind == kind {
				return true
			}
		}
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
