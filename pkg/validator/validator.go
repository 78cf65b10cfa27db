// Package validator checks a merged configuration tree against a schema and,
// optionally, against Rego policies.
//
// Every rule is checked and every finding is kept: a run reports all missing
// keys, type mismatches and constraint violations at once, sorted by path.
// Keys no rule describes are warnings and stay in the tree.
package validator

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/civa-shell/irfc/pkg/merger"
	"github.com/civa-shell/irfc/pkg/policy"
	"github.com/civa-shell/irfc/pkg/schema"
	"github.com/civa-shell/irfc/pkg/value"
)

// Option configures a validation run.
type Option func(*options)

type options struct {
	provenance *merger.Provenance
	policies   *policy.Engine
	logger     zerolog.Logger
}

// WithProvenance attributes findings to the sources that declared them.
func WithProvenance(p *merger.Provenance) Option {
	return func(o *options) { o.provenance = p }
}

// WithPolicies evaluates the engine's enabled policies after the schema
// rules. Deny results become errors and warn results warnings.
func WithPolicies(e *policy.Engine) Option {
	return func(o *options) { o.policies = e }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Validate checks root against s. The returned error is non-nil only when
// the run itself could not complete; rule failures are in the report.
func Validate(ctx context.Context, root *value.Table, s *schema.Schema, opts ...Option) (*Report, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	v := &run{root: root, schema: s, report: &Report{}}

	for _, rule := range s.Rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.checkRule(rule)
	}
	v.unknownKeys()

	if o.policies != nil {
		result, err := o.policies.Evaluate(ctx, value.TableToGo(root))
		if err != nil {
			return nil, fmt.Errorf("policy evaluation: %w", err)
		}
		for _, pv := range result.Violations {
			v.report.addError(fromPolicy(pv))
		}
		for _, pv := range result.Warnings {
			v.report.addWarning(fromPolicy(pv))
		}
	}

	if o.provenance != nil {
		attribute(v.report.Errors, o.provenance)
		attribute(v.report.Warnings, o.provenance)
	}
	v.report.sort()

	o.logger.Debug().
		Str("schema", s.Name).
		Int("rules", len(s.Rules)).
		Int("errors", len(v.report.Errors)).
		Int("warnings", len(v.report.Warnings)).
		Msg("Validation completed")

	return v.report, nil
}

type run struct {
	root   *value.Table
	schema *schema.Schema
	report *Report
}

// checkRule checks every instance of the rule path present in the tree, and
// reports required keys that are missing. A required key below an absent
// parent is reported unless a rule declares one of its ancestors as an
// optional section.
func (v *run) checkRule(r *schema.Rule) {
	segs := r.Segments()
	for _, p := range instances(v.root, segs) {
		val, _ := value.Lookup(v.root, p)
		v.checkValue(r, p.String(), val)
	}

	last := segs[len(segs)-1]
	if !r.Required || last == "*" {
		return
	}
	parents := instances(v.root, segs[:len(segs)-1])
	if len(parents) == 0 && v.impliedRequired(segs[:len(segs)-1]) {
		v.report.addError(&Finding{
			Kind:    MissingKey,
			Path:    segs.String(),
			Message: fmt.Sprintf("required key is missing (%s)", r.Describe()),
		})
		return
	}
	for _, parent := range parents {
		pv := value.FromTable(v.root)
		if len(parent) > 0 {
			pv, _ = value.Lookup(v.root, parent)
		}
		t, ok := pv.AsTable()
		if !ok {
			v.report.addError(&Finding{
				Kind:    MissingKey,
				Path:    parent.Child(last).String(),
				Message: fmt.Sprintf("required key is missing (%s): %s holds %s, not a table", r.Describe(), parent, pv.Kind()),
			})
			continue
		}
		if _, ok := t.Get(last); !ok {
			v.report.addError(&Finding{
				Kind:    MissingKey,
				Path:    parent.Child(last).String(),
				Message: fmt.Sprintf("required key is missing (%s)", r.Describe()),
			})
		}
	}
}

// impliedRequired reports whether an absent parent chain must exist. It is
// false for wildcard chains and for chains with an ancestor that has its
// own optional rule.
func (v *run) impliedRequired(parent value.Path) bool {
	for _, seg := range parent {
		if seg == "*" {
			return false
		}
	}
	for _, r := range v.schema.Rules {
		if r.Required {
			continue
		}
		rs := r.Segments()
		if len(rs) <= len(parent) && slices.Equal(rs, parent[:len(rs)]) {
			return false
		}
	}
	return true
}

// instances expands a rule path into the concrete paths present in root.
func instances(root *value.Table, pattern value.Path) []value.Path {
	paths := []value.Path{{}}
	for _, seg := range pattern {
		var next []value.Path
		for _, p := range paths {
			cur := value.FromTable(root)
			if len(p) > 0 {
				cur, _ = value.Lookup(root, p)
			}
			t, ok := cur.AsTable()
			if !ok {
				continue
			}
			if seg != "*" {
				if _, ok := t.Get(seg); ok {
					next = append(next, p.Child(seg))
				}
				continue
			}
			for _, k := range t.SortedKeys() {
				next = append(next, p.Child(k))
			}
		}
		paths = next
	}
	return paths
}

func (v *run) checkValue(r *schema.Rule, path string, val value.Value) {
	if !r.Kind.Matches(val) {
		v.report.addError(&Finding{
			Kind:    TypeMismatch,
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", r.Kind, val.Kind()),
		})
		return
	}

	items, isList := val.AsList()
	if !isList || r.Elem == "" {
		v.checkConstraints(r, path, val)
		return
	}
	for i, item := range items {
		ip := fmt.Sprintf("%s[%d]", path, i)
		if !r.Elem.Matches(item) {
			v.report.addError(&Finding{
				Kind:    TypeMismatch,
				Path:    ip,
				Message: fmt.Sprintf("expected %s element, got %s", r.Elem, item.Kind()),
			})
			continue
		}
		v.checkConstraints(r, ip, item)
	}
}

func (v *run) checkConstraints(r *schema.Rule, path string, val value.Value) {
	fail := func(format string, args ...interface{}) {
		v.report.addError(&Finding{
			Kind:    ConstraintViolation,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if enum := r.EnumValues(); len(enum) > 0 && !contains(enum, val) {
		items := make([]string, len(enum))
		for i, e := range enum {
			items[i] = e.GoString()
		}
		fail("%s is not one of [%s]", val.GoString(), strings.Join(items, " "))
	}

	if n, ok := val.AsNumber(); ok {
		if r.Min != nil && n < *r.Min {
			fail("%s is below the minimum %g", val.GoString(), *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			fail("%s is above the maximum %g", val.GoString(), *r.Max)
		}
	}

	s, isString := val.AsString()
	if re := r.Regexp(); re != nil && isString && !re.MatchString(s) {
		fail("%q does not match %s", s, r.Pattern)
	}

	if target := r.TargetPath(); target != nil && isString {
		tv, ok := value.Lookup(v.root, target)
		t, isTable := tv.AsTable()
		switch {
		case !ok || !isTable:
			fail("reference target %s is not a table", target)
		default:
			if _, ok := t.Get(s); !ok {
				fail("%q is not a key of %s", s, target)
			}
		}
	}
}

func contains(enum []value.Value, val value.Value) bool {
	for _, e := range enum {
		if value.Equal(e, val) {
			return true
		}
	}
	return false
}

// unknownKeys warns about the topmost keys no rule describes.
func (v *run) unknownKeys() {
	value.Walk(v.root, func(p value.Path, _ value.Value) bool {
		if v.schema.Known(p) {
			return true
		}
		v.report.addWarning(&Finding{
			Kind:    UnknownKey,
			Path:    p.String(),
			Message: "key is not described by the schema",
		})
		return false
	})
}

func fromPolicy(pv policy.Violation) *Finding {
	return &Finding{
		Kind:    ConstraintViolation,
		Path:    value.Path(pv.Path).String(),
		Message: pv.Message,
		Policy:  pv.Policy,
	}
}

// attribute fills in the source position of each finding from provenance.
// Missing keys are attributed to their parent's declaration.
func attribute(fs []*Finding, prov *merger.Provenance) {
	for _, f := range fs {
		p := findingPath(f.Path)
		if p == nil {
			continue
		}
		if o, ok := prov.Origin(p); ok {
			f.Source, f.Line, f.Column = o.Source, o.Line, o.Column
		}
	}
}

// findingPath parses the key path of a finding, dropping list indices.
func findingPath(s string) value.Path {
	if strings.HasSuffix(s, "]") {
		if i := strings.LastIndexByte(s, '['); i >= 0 {
			s = s[:i]
		}
	}
	if s == "" {
		return nil
	}
	p, err := value.ParsePath(s)
	if err != nil {
		return nil
	}
	return p
}
