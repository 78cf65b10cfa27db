package irf

import (
	"math"
	"strconv"
	"strings"

	"github.com/civa-shell/irfc/pkg/value"
)

// Text renders root in canonical order, one binding per line:
//
//	shell = {
//	    prompt = "> "
//	}
//	path = ["/usr/local/bin", "~/bin"]
//
// Lists of scalars stay on one line.
func Text(root *value.Table) string {
	var b strings.Builder
	writeTable(&b, root, 0)
	return b.String()
}

func writeTable(b *strings.Builder, t *value.Table, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, k := range t.SortedKeys() {
		v, _ := t.Get(k)
		b.WriteString(indent)
		b.WriteString(value.Path{k}.String())
		b.WriteString(" = ")
		writeValue(b, v, depth)
		b.WriteByte('\n')
	}
}

func writeValue(b *strings.Builder, v value.Value, depth int) {
	switch v.Kind() {
	case value.KindTable:
		t, _ := v.AsTable()
		if t.Len() == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		writeTable(b, t, depth+1)
		b.WriteString(strings.Repeat("    ", depth))
		b.WriteByte('}')
	case value.KindList:
		items, _ := v.AsList()
		if flat(items) {
			b.WriteByte('[')
			for i, item := range items {
				if i > 0 {
					b.WriteString(", ")
				}
				writeValue(b, item, depth)
			}
			b.WriteByte(']')
			return
		}
		inner := strings.Repeat("    ", depth+1)
		b.WriteString("[\n")
		for _, item := range items {
			b.WriteString(inner)
			writeValue(b, item, depth+1)
			b.WriteString(",\n")
		}
		b.WriteString(strings.Repeat("    ", depth))
		b.WriteByte(']')
	default:
		b.WriteString(scalar(v))
	}
}

func flat(items []value.Value) bool {
	for _, item := range items {
		if k := item.Kind(); k == value.KindTable || k == value.KindList {
			return false
		}
	}
	return true
}

func scalar(v value.Value) string {
	switch v.Kind() {
	case value.KindNull:
		return "None"
	case value.KindBool:
		if b, _ := v.AsBool(); b {
			return "True"
		}
		return "False"
	case value.KindInt:
		i, _ := v.AsInt()
		return strconv.FormatInt(i, 10)
	case value.KindFloat:
		f, _ := v.AsFloat()
		switch {
		case math.IsNaN(f):
			return "nan"
		case math.IsInf(f, 1):
			return "+inf"
		case math.IsInf(f, -1):
			return "-inf"
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case value.KindString:
		s, _ := v.AsString()
		return strconv.Quote(s)
	default:
		return v.GoString()
	}
}
