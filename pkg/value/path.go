package value

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Path addresses a value inside a tree by its key segments.
type Path []string

// String renders the path dotted, quoting segments that are not identifiers.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = quoteKey(seg)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is an ancestor of, or equal to, p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether one path is a prefix of the other.
func (p Path) Overlaps(o Path) bool {
	return p.HasPrefix(o) || o.HasPrefix(p)
}

// Child returns a new path with key appended.
func (p Path) Child(key string) Path {
	c := make(Path, len(p), len(p)+1)
	copy(c, p)
	return append(c, key)
}

// IsIdentifier reports whether s can be written unquoted in a dotted path.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && (unicode.IsDigit(r) || r == '-')) {
			continue
		}
		return false
	}
	return true
}

func quoteKey(s string) string {
	if IsIdentifier(s) || s == "*" {
		return s
	}
	return strconv.Quote(s)
}

// ParsePath parses a dotted path. Segments may be double-quoted to contain
// dots or other punctuation: alias."..".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	var p Path
	rest := s
	for {
		var seg string
		if strings.HasPrefix(rest, `"`) {
			end := closingQuote(rest)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted segment in path %q", s)
			}
			unq, err := strconv.Unquote(rest[:end+1])
			if err != nil {
				return nil, fmt.Errorf("invalid quoted segment in path %q: %w", s, err)
			}
			seg = unq
			rest = rest[end+1:]
		} else {
			i := strings.IndexByte(rest, '.')
			if i < 0 {
				seg, rest = rest, ""
			} else {
				seg, rest = rest[:i], rest[i:]
			}
			if seg == "" {
				return nil, fmt.Errorf("empty segment in path %q", s)
			}
		}
		p = append(p, seg)
		if rest == "" {
			return p, nil
		}
		if rest[0] != '.' || len(rest) == 1 {
			return nil, fmt.Errorf("malformed path %q", s)
		}
		rest = rest[1:]
	}
}

// MustParsePath is ParsePath for constant paths; it panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// Lookup returns the value at path below root. It does not traverse refs.
func Lookup(root *Table, path Path) (Value, bool) {
	cur := FromTable(root)
	for _, seg := range path {
		t, ok := cur.AsTable()
		if !ok {
			return Value{}, false
		}
		cur, ok = t.Get(seg)
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// SetPath stores v at path, creating intermediate tables. It fails when an
// intermediate segment holds a non-table value.
func SetPath(root *Table, path Path, v Value) error {
	if len(path) == 0 {
		return fmt.Errorf("cannot assign to the root table")
	}
	t := root
	for i, seg := range path[:len(path)-1] {
		next, ok := t.Get(seg)
		if !ok {
			nt := NewTable()
			t.Set(seg, FromTable(nt))
			t = nt
			continue
		}
		nt, ok := next.AsTable()
		if !ok {
			return &NotATableError{Path: path[:i+1], Kind: next.Kind()}
		}
		t = nt
	}
	t.Set(path[len(path)-1], v)
	return nil
}

// NotATableError reports an attempt to descend into a scalar or list.
type NotATableError struct {
	Path Path
	Kind Kind
}

func (e *NotATableError) Error() string {
	return fmt.Sprintf("%s is a %s, not a table", e.Path, e.Kind)
}

// WalkFunc is called for every value visited by Walk. Returning false skips
// the children of v.
type WalkFunc func(path Path, v Value) bool

// Walk visits every value below root in pre-order, keys in canonical order.
// The root table itself is not passed to fn.
func Walk(root *Table, fn WalkFunc) {
	walkTable(nil, root, fn)
}

func walkTable(prefix Path, t *Table, fn WalkFunc) {
	for _, k := range t.SortedKeys() {
		v, _ := t.Get(k)
		walkValue(prefix.Child(k), v, fn)
	}
}

func walkValue(path Path, v Value, fn WalkFunc) {
	if !fn(path, v) {
		return
	}
	if t, ok := v.AsTable(); ok {
		walkTable(path, t, fn)
	}
}
