// Package value defines the typed value tree shared by every compiler stage.
//
// A Value is a tagged union over Null, Bool, Integer, Float, String, List and
// Table. Tables keep declaration order for diagnostics but compare and merge
// by key identity. A Ref is a symbolic reference to another path; refs only
// live between evaluation and reference resolution.
package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	// KindNull is the absent/none value.
	KindNull Kind = iota
	// KindBool is a boolean.
	KindBool
	// KindInt is a signed 64-bit integer.
	KindInt
	// KindFloat is an IEEE-754 double.
	KindFloat
	// KindString is a UTF-8 string.
	KindString
	// KindList is an ordered sequence of values.
	KindList
	// KindTable is an ordered string-keyed mapping.
	KindTable
	// KindRef is an unresolved reference to another path.
	KindRef
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindTable:
		return "table"
	case KindRef:
		return "ref"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable-by-convention tagged union. The zero Value is Null.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	list  []Value
	table *Table
	ref   *Reference
}

// Reference is the payload of a Ref value.
type Reference struct {
	// Target is the absolute path the reference points to.
	Target Path

	// Source, Line and Column locate the ref(...) expression.
	Source string
	Line   int
	Column int
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list value holding items.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// FromTable wraps t as a value. A nil table becomes an empty one.
func FromTable(t *Table) Value {
	if t == nil {
		t = NewTable()
	}
	return Value{kind: KindTable, table: t}
}

// Ref returns an unresolved reference value.
func Ref(r Reference) Value {
	return Value{kind: KindRef, ref: &r}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsNumber returns Int or Float payloads widened to float64.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns the list items. The slice must not be modified.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// AsTable returns the table payload.
func (v Value) AsTable() (*Table, bool) { return v.table, v.kind == KindTable }

// AsRef returns the reference payload.
func (v Value) AsRef() (*Reference, bool) { return v.ref, v.kind == KindRef }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindTable:
		return Value{kind: KindTable, table: v.table.Clone()}
	case KindRef:
		r := *v.ref
		r.Target = append(Path(nil), v.ref.Target...)
		return Value{kind: KindRef, ref: &r}
	default:
		return v
	}
}

// Equal reports semantic equality. Tables compare by key identity regardless
// of declaration order; floats compare by bit pattern so that NaN equals NaN.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return math.Float64bits(a.f) == math.Float64bits(b.f) || (math.IsNaN(a.f) && math.IsNaN(b.f))
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindTable:
		return a.table.Equal(b.table)
	case KindRef:
		return a.ref.Target.Equal(b.ref.Target)
	}
	return false
}

// HasRefs reports whether v or any nested value is an unresolved reference.
func (v Value) HasRefs() bool {
	switch v.kind {
	case KindRef:
		return true
	case KindList:
		for _, item := range v.list {
			if item.HasRefs() {
				return true
			}
		}
	case KindTable:
		for _, k := range v.table.keys {
			if v.table.entries[k].HasRefs() {
				return true
			}
		}
	}
	return false
}

// GoString renders v for debugging and test failure messages.
func (v Value) GoString() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		s := "["
		for i, item := range v.list {
			if i > 0 {
				s += ", "
			}
			s += item.GoString()
		}
		return s + "]"
	case KindTable:
		s := "{"
		for i, k := range v.table.SortedKeys() {
			if i > 0 {
				s += ", "
			}
			s += quoteKey(k) + ": " + v.table.entries[k].GoString()
		}
		return s + "}"
	case KindRef:
		return "ref(" + v.ref.Target.String() + ")"
	}
	return fmt.Sprintf("value(%d)", v.kind)
}

// Table is an ordered mapping from string keys to values.
type Table struct {
	keys    []string
	entries map[string]Value
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Value)}
}

// Len returns the number of keys.
func (t *Table) Len() int { return len(t.keys) }

// Get returns the value stored at key.
func (t *Table) Get(key string) (Value, bool) {
	v, ok := t.entries[key]
	return v, ok
}

// Set stores v at key. Overwriting keeps the key's original position.
func (t *Table) Set(key string, v Value) {
	if _, ok := t.entries[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.entries[key] = v
}

// Delete removes key if present.
func (t *Table) Delete(key string) {
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i:i], t.keys[i+1:]...)
			break
		}
	}
}

// Keys returns keys in declaration order.
func (t *Table) Keys() []string {
	return append([]string(nil), t.keys...)
}

// SortedKeys returns keys in canonical (byte-wise) order.
func (t *Table) SortedKeys() []string {
	keys := t.Keys()
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := &Table{
		keys:    append([]string(nil), t.keys...),
		entries: make(map[string]Value, len(t.entries)),
	}
	for k, v := range t.entries {
		c.entries[k] = v.Clone()
	}
	return c
}

// Equal compares two tables by key identity.
func (t *Table) Equal(o *Table) bool {
	if t.Len() != o.Len() {
		return false
	}
	for k, v := range t.entries {
		ov, ok := o.entries[k]
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}
