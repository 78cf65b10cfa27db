package value

import (
	"fmt"
	"math"
	"sort"
)

// ToGo converts v into plain Go data: nil, bool, int64, float64, string,
// []interface{} and map[string]interface{}. Refs become their dotted target
// prefixed with "ref:".
func ToGo(v Value) interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = ToGo(item)
		}
		return out
	case KindTable:
		return TableToGo(v.table)
	case KindRef:
		return "ref:" + v.ref.Target.String()
	default:
		return nil
	}
}

// TableToGo converts a table into a plain map.
func TableToGo(t *Table) map[string]interface{} {
	out := make(map[string]interface{}, t.Len())
	for _, k := range t.keys {
		out[k] = ToGo(t.entries[k])
	}
	return out
}

// FromGo converts plain Go data into a Value. Maps are inserted in sorted key
// order since Go maps carry no declaration order.
func FromGo(x interface{}) (Value, error) {
	switch val := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(int64(val)), nil
	case int8:
		return Int(int64(val)), nil
	case int16:
		return Int(int64(val)), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(int64(val)), nil
	case uint16:
		return Int(int64(val)), nil
	case uint32:
		return Int(int64(val)), nil
	case uint64:
		if val > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", val)
		}
		return Int(int64(val)), nil
	case float32:
		return Float(float64(val)), nil
	case float64:
		return Float(val), nil
	case string:
		return String(val), nil
	case []interface{}:
		items := make([]Value, len(val))
		for i, item := range val {
			iv, err := FromGo(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = iv
		}
		return List(items...), nil
	case []string:
		items := make([]Value, len(val))
		for i, item := range val {
			items[i] = String(item)
		}
		return List(items...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := NewTable()
		for _, k := range keys {
			iv, err := FromGo(val[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", quoteKey(k), err)
			}
			t.Set(k, iv)
		}
		return FromTable(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported type %T", x)
	}
}
