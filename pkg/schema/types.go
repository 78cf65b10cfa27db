package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/civa-shell/irfc/pkg/value"
)

// Kind is the expected kind of a configuration value.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindTable  Kind = "table"
	KindAny    Kind = "any"
)

// Matches reports whether v has kind k. Integers are accepted where a float
// is expected.
func (k Kind) Matches(v value.Value) bool {
	switch k {
	case KindAny:
		return true
	case KindNull:
		return v.Kind() == value.KindNull
	case KindBool:
		return v.Kind() == value.KindBool
	case KindInt:
		return v.Kind() == value.KindInt
	case KindFloat, KindNumber:
		return v.Kind() == value.KindInt || v.Kind() == value.KindFloat
	case KindString:
		return v.Kind() == value.KindString
	case KindList:
		return v.Kind() == value.KindList
	case KindTable:
		return v.Kind() == value.KindTable
	}
	return false
}

// Rule constrains the value at one dotted path. A "*" segment matches any
// single key.
type Rule struct {
	// Path is the dotted path the rule applies to. It is filled from the rule's
	// key in the document.
	Path string `json:"-" yaml:"-"`

	Kind     Kind          `json:"kind" yaml:"kind" validate:"required,oneof=null bool int float number string list table any"`
	Required bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Enum     []interface{} `json:"enum,omitempty" yaml:"enum,omitempty"`
	Min      *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern  string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Elem is the kind of every element when Kind is list. Enum, Min, Max
	// and Pattern then apply to each element.
	Elem Kind `json:"elem,omitempty" yaml:"elem,omitempty" validate:"omitempty,oneof=null bool int float number string list table any"`

	// Target names a table; a string value must be one of its keys.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// Open marks a table whose descendants are not reported as unknown.
	Open bool `json:"open,omitempty" yaml:"open,omitempty"`

	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	path   value.Path
	enum   []value.Value
	re     *regexp.Regexp
	target value.Path
}

// Segments returns the parsed rule path.
func (r *Rule) Segments() value.Path { return r.path }

// EnumValues returns the allowed values, or nil when unrestricted.
func (r *Rule) EnumValues() []value.Value { return r.enum }

// Regexp returns the compiled pattern, or nil.
func (r *Rule) Regexp() *regexp.Regexp { return r.re }

// TargetPath returns the reference target table, or nil.
func (r *Rule) TargetPath() value.Path { return r.target }

// IsWildcard reports whether the rule path contains a "*" segment.
func (r *Rule) IsWildcard() bool {
	for _, seg := range r.path {
		if seg == "*" {
			return true
		}
	}
	return false
}

// Matches reports whether p is an instance of the rule path.
func (r *Rule) Matches(p value.Path) bool {
	if len(p) != len(r.path) {
		return false
	}
	return matchPrefix(r.path, p)
}

// covers reports whether p lies strictly below an instance of the rule path.
func (r *Rule) covers(p value.Path) bool {
	return len(p) > len(r.path) && matchPrefix(r.path, p)
}

func matchPrefix(pattern, p value.Path) bool {
	for i, seg := range pattern {
		if seg != "*" && seg != p[i] {
			return false
		}
	}
	return true
}

// Describe renders the rule constraints on one line, e.g.
// "string, required, one of [red blue]".
func (r *Rule) Describe() string {
	parts := []string{string(r.Kind)}
	if r.Elem != "" {
		parts[0] = fmt.Sprintf("list of %s", r.Elem)
	}
	if r.Required {
		parts = append(parts, "required")
	}
	if len(r.enum) > 0 {
		items := make([]string, len(r.enum))
		for i, v := range r.enum {
			items[i] = v.GoString()
		}
		parts = append(parts, "one of ["+strings.Join(items, " ")+"]")
	}
	if r.Min != nil {
		parts = append(parts, fmt.Sprintf(">= %g", *r.Min))
	}
	if r.Max != nil {
		parts = append(parts, fmt.Sprintf("<= %g", *r.Max))
	}
	if r.Pattern != "" {
		parts = append(parts, "matching "+r.Pattern)
	}
	if r.Target != "" {
		parts = append(parts, "key of "+r.Target)
	}
	if r.Open {
		parts = append(parts, "open")
	}
	return strings.Join(parts, ", ")
}

// Document is the decoded form of a schema file.
type Document struct {
	Version int              `json:"version" yaml:"version" validate:"required,min=1"`
	Rules   map[string]*Rule `json:"rules" yaml:"rules" validate:"dive"`
}

// Error is a problem found while loading a schema document.
type Error struct {
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Errors lists every problem of one schema document.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}
