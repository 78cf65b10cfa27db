// Package schema describes the contract between the compiler and the civa
// shell: which configuration keys exist, their kinds and their constraints.
//
// Schemas are written in CUE or YAML as a version number and a map from
// dotted path to rule:
//
//	version: 1
//	rules: {
//		"shell.prompt": {kind: "string", required: true}
//		"alias.*":      {kind: "string"}
//	}
package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/civa-shell/irfc/pkg/value"
)

// Schema is a compiled, versioned rule set.
type Schema struct {
	Name    string
	Version int

	// Rules are sorted by path.
	Rules []*Rule

	// Source is the document the schema was loaded from.
	Source []byte

	byPath map[string]*Rule
}

var validate = validator.New()

// New checks doc and compiles its rules. Every problem is reported.
func New(name string, doc *Document) (*Schema, error) {
	var errs Errors
	if err := validate.Struct(doc); err != nil {
		errs = append(errs, structErrors(err)...)
	}

	s := &Schema{
		Name:    name,
		Version: doc.Version,
		byPath:  make(map[string]*Rule, len(doc.Rules)),
	}

	paths := make([]string, 0, len(doc.Rules))
	for p := range doc.Rules {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		r := doc.Rules[p]
		if r == nil {
			errs = append(errs, &Error{Path: p, Message: "rule is empty"})
			continue
		}
		r.Path = p
		errs = append(errs, compile(r)...)
		s.Rules = append(s.Rules, r)
		s.byPath[p] = r
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return s, nil
}

func structErrors(err error) Errors {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Errors{{Message: err.Error()}}
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		out = append(out, &Error{Path: fe.Namespace(), Message: msg})
	}
	return out
}

func compile(r *Rule) Errors {
	var errs Errors
	fail := func(format string, args ...interface{}) {
		errs = append(errs, &Error{Path: r.Path, Message: fmt.Sprintf(format, args...)})
	}

	p, err := value.ParsePath(r.Path)
	if err != nil {
		fail("%v", err)
	}
	r.path = p

	scalar := r.Kind
	if r.Kind == KindList && r.Elem != "" {
		scalar = r.Elem
	} else if r.Elem != "" {
		fail("elem is only allowed on list rules")
	}

	for _, x := range r.Enum {
		v, err := value.FromGo(x)
		if err != nil || v.Kind() == value.KindList || v.Kind() == value.KindTable {
			fail("enum values must be scalars, got %v", x)
			continue
		}
		if !scalar.Matches(v) {
			fail("enum value %s is not a %s", v.GoString(), scalar)
		}
		r.enum = append(r.enum, v)
	}

	if r.Min != nil || r.Max != nil {
		if scalar != KindInt && scalar != KindFloat && scalar != KindNumber {
			fail("min and max are only allowed on numeric rules")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			fail("min %g is greater than max %g", *r.Min, *r.Max)
		}
	}

	if r.Pattern != "" {
		if scalar != KindString {
			fail("pattern is only allowed on string rules")
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			fail("invalid pattern: %v", err)
		}
		r.re = re
	}

	if r.Target != "" {
		if scalar != KindString {
			fail("target is only allowed on string rules")
		}
		t, err := value.ParsePath(r.Target)
		if err != nil {
			fail("invalid target: %v", err)
		}
		r.target = t
	}

	if r.Open && r.Kind != KindTable {
		fail("open is only allowed on table rules")
	}
	return errs
}

// Rule returns the rule declared for the exact dotted path.
func (s *Schema) Rule(path string) (*Rule, bool) {
	r, ok := s.byPath[path]
	return r, ok
}

// Match returns the rules whose path p is an instance of.
func (s *Schema) Match(p value.Path) []*Rule {
	var out []*Rule
	for _, r := range s.Rules {
		if r.Matches(p) {
			out = append(out, r)
		}
	}
	return out
}

// Known reports whether p is described by a rule or lies below an open
// table. Ancestors of rule paths count as known.
func (s *Schema) Known(p value.Path) bool {
	for _, r := range s.Rules {
		if r.Matches(p) {
			return true
		}
		if r.Open && r.covers(p) {
			return true
		}
		if len(p) < len(r.path) && matchPrefix(r.path[:len(p)], p) {
			return true
		}
	}
	return false
}
