package value

import (
	"errors"
	"math"
	"testing"
)

func TestTable_OrderAndEquality(t *testing.T) {
	a := NewTable()
	a.Set("b", Int(1))
	a.Set("a", Int(2))
	a.Set("b", Int(3))

	if got := a.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("expected declaration order [b a], got %v", got)
	}
	if got := a.SortedKeys(); got[0] != "a" || got[1] != "b" {
		t.Errorf("expected sorted order [a b], got %v", got)
	}

	b := NewTable()
	b.Set("a", Int(2))
	b.Set("b", Int(3))
	if !a.Equal(b) {
		t.Error("tables with the same keys in different order should be equal")
	}

	b.Set("c", Null())
	if a.Equal(b) {
		t.Error("tables with different key sets should not be equal")
	}
}

func TestTable_Delete(t *testing.T) {
	tbl := NewTable()
	tbl.Set("x", Int(1))
	tbl.Set("y", Int(2))
	tbl.Set("z", Int(3))
	tbl.Delete("y")
	tbl.Delete("missing")

	if got := tbl.Keys(); len(got) != 2 || got[0] != "x" || got[1] != "z" {
		t.Errorf("unexpected keys after delete: %v", got)
	}
}

func TestValue_CloneIsDeep(t *testing.T) {
	inner := NewTable()
	inner.Set("x", Int(1))
	outer := NewTable()
	outer.Set("t", FromTable(inner))
	outer.Set("l", List(String("a")))

	c := FromTable(outer).Clone()
	inner.Set("x", Int(99))

	got, ok := Lookup(mustTable(t, c), Path{"t", "x"})
	if !ok {
		t.Fatal("expected t.x in clone")
	}
	if n, _ := got.AsInt(); n != 1 {
		t.Errorf("clone shares storage with original: t.x = %d", n)
	}
}

func TestEqual_Floats(t *testing.T) {
	if !Equal(Float(math.NaN()), Float(math.NaN())) {
		t.Error("NaN should equal NaN for tree comparison")
	}
	if Equal(Int(1), Float(1)) {
		t.Error("int and float must not compare equal")
	}
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    Path
		wantErr bool
	}{
		{in: "shell.prompt", want: Path{"shell", "prompt"}},
		{in: "alias.\"..\"", want: Path{"alias", ".."}},
		{in: "a", want: Path{"a"}},
		{in: "alias.*", want: Path{"alias", "*"}},
		{in: "", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "a.", wantErr: true},
		{in: "a.\"b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			back, err := ParsePath(got.String())
			if err != nil || !back.Equal(got) {
				t.Errorf("String() does not round-trip: %q", got.String())
			}
		})
	}
}

func TestSetPath(t *testing.T) {
	root := NewTable()
	if err := SetPath(root, Path{"table", "x"}, Int(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetPath(root, Path{"scalar"}, Int(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := SetPath(root, Path{"scalar", "x"}, Int(3))
	var nt *NotATableError
	if !errors.As(err, &nt) {
		t.Fatalf("expected NotATableError, got %v", err)
	}
	if nt.Kind != KindInt || nt.Path.String() != "scalar" {
		t.Errorf("unexpected error detail: %v", nt)
	}
}

func TestWalk_CanonicalOrder(t *testing.T) {
	root := NewTable()
	_ = SetPath(root, Path{"z"}, Int(1))
	_ = SetPath(root, Path{"a", "y"}, Int(2))
	_ = SetPath(root, Path{"a", "b"}, Int(3))

	var visited []string
	Walk(root, func(p Path, _ Value) bool {
		visited = append(visited, p.String())
		return true
	})

	want := []string{"a", "a.b", "a.y", "z"}
	if len(visited) != len(want) {
		t.Fatalf("expected %v, got %v", want, visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], visited[i])
		}
	}
}

func TestFromGo_RoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"name":  "civa",
		"count": int64(3),
		"tags":  []interface{}{"a", true, nil, 1.5},
	}
	v, err := FromGo(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	back, err := FromGo(ToGo(v))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Equal(v, back) {
		t.Errorf("round trip changed value: %#v vs %#v", v, back)
	}
}

func mustTable(t *testing.T, v Value) *Table {
	t.Helper()
	tbl, ok := v.AsTable()
	if !ok {
		t.Fatalf("expected table, got %s", v.Kind())
	}
	return tbl
}
