package evaluator

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/civa-shell/irfc/pkg/value"
)

// refValue carries an unresolved reference through expression evaluation.
// It supports no operators; it can only be stored.
type refValue struct {
	ref value.Reference
}

var _ starlark.Value = (*refValue)(nil)

func (r *refValue) String() string        { return "ref(" + r.ref.Target.String() + ")" }
func (r *refValue) Type() string          { return "reference" }
func (r *refValue) Freeze()               {}
func (r *refValue) Truth() starlark.Bool  { return starlark.True }
func (r *refValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: reference") }

// toStarlarkValue converts a tree value to a Starlark value. Tables become
// dicts in declaration order.
func toStarlarkValue(v value.Value) (starlark.Value, error) {
	switch v.Kind() {
	case value.KindNull:
		return starlark.None, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return starlark.Bool(b), nil
	case value.KindInt:
		i, _ := v.AsInt()
		return starlark.MakeInt64(i), nil
	case value.KindFloat:
		f, _ := v.AsFloat()
		return starlark.Float(f), nil
	case value.KindString:
		s, _ := v.AsString()
		return starlark.String(s), nil
	case value.KindList:
		items, _ := v.AsList()
		list := make([]starlark.Value, len(items))
		for i, item := range items {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case value.KindTable:
		t, _ := v.AsTable()
		dict := starlark.NewDict(t.Len())
		for _, k := range t.Keys() {
			entry, _ := t.Get(k)
			starlarkVal, err := toStarlarkValue(entry)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case value.KindRef:
		r, _ := v.AsRef()
		return &refValue{ref: *r}, nil
	default:
		return nil, fmt.Errorf("unsupported value kind: %s", v.Kind())
	}
}

// fromStarlarkValue converts a Starlark value to a tree value.
func fromStarlarkValue(v starlark.Value) (value.Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return value.Null(), nil
	case starlark.Bool:
		return value.Bool(bool(val)), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return value.Value{}, fmt.Errorf("integer %s does not fit in 64 bits", val)
		}
		return value.Int(i), nil
	case starlark.Float:
		return value.Float(float64(val)), nil
	case starlark.String:
		return value.String(string(val)), nil
	case *starlark.List:
		return fromStarlarkSequence(val)
	case starlark.Tuple:
		return fromStarlarkSequence(val)
	case *starlark.Dict:
		t := value.NewTable()
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return value.Value{}, fmt.Errorf("table keys must be strings, not %s", item[0].Type())
			}
			entry, err := fromStarlarkValue(item[1])
			if err != nil {
				return value.Value{}, err
			}
			t.Set(string(key), entry)
		}
		return value.FromTable(t), nil
	case *refValue:
		return value.Ref(val.ref), nil
	default:
		return value.Value{}, fmt.Errorf("a %s cannot be stored in configuration", v.Type())
	}
}

func fromStarlarkSequence(seq starlark.Indexable) (value.Value, error) {
	items := make([]value.Value, seq.Len())
	for i := range items {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return value.Value{}, err
		}
		items[i] = item
	}
	return value.List(items...), nil
}
