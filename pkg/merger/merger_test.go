package merger

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

func cfgTree(t *testing.T, name, content string) *evaluator.Tree {
	t.Helper()
	src := locator.ConfigSource{
		Source:  locator.Source{Path: name, Rel: name, Ext: filepath.Ext(name)},
		Content: []byte(content),
	}
	tree, err := evaluator.New().Evaluate(context.Background(), src)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return tree
}

func table(t *testing.T, m map[string]interface{}) *value.Table {
	t.Helper()
	v, err := value.FromGo(m)
	if err != nil {
		t.Fatal(err)
	}
	tbl, _ := v.AsTable()
	return tbl
}

func TestMerge_BaseOverride(t *testing.T) {
	base := cfgTree(t, "base.cfg", "table.x = 1\n")
	override := cfgTree(t, "override.cfg", "table.x = 2\ntable.y = 3\n")

	res, err := Merge(context.Background(), []*evaluator.Tree{base, override})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := map[string]interface{}{
		"table": map[string]interface{}{"x": int64(2), "y": int64(3)},
	}
	if got := value.TableToGo(res.Root); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	chain := res.Provenance.Chain(value.MustParsePath("table.x"))
	if len(chain) != 2 || chain[0].Source != "base.cfg" || chain[1].Source != "override.cfg" {
		t.Errorf("unexpected provenance chain %+v", chain)
	}
	if o, ok := res.Provenance.Origin(value.MustParsePath("table.y")); !ok || o.Source != "override.cfg" || o.Line != 2 {
		t.Errorf("unexpected origin for table.y: %+v", o)
	}
	if !reflect.DeepEqual(res.Sources, []string{"base.cfg", "override.cfg"}) {
		t.Errorf("unexpected sources %v", res.Sources)
	}
}

func TestMergeTables(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]interface{}
		want map[string]interface{}
	}{
		{
			name: "disjoint keys",
			a:    map[string]interface{}{"a": int64(1)},
			b:    map[string]interface{}{"b": int64(2)},
			want: map[string]interface{}{"a": int64(1), "b": int64(2)},
		},
		{
			name: "nested tables merge",
			a:    map[string]interface{}{"t": map[string]interface{}{"x": int64(1), "z": "keep"}},
			b:    map[string]interface{}{"t": map[string]interface{}{"x": int64(2)}},
			want: map[string]interface{}{"t": map[string]interface{}{"x": int64(2), "z": "keep"}},
		},
		{
			name: "lists replace",
			a:    map[string]interface{}{"l": []interface{}{int64(1), int64(2)}},
			b:    map[string]interface{}{"l": []interface{}{int64(3)}},
			want: map[string]interface{}{"l": []interface{}{int64(3)}},
		},
		{
			name: "scalar replaces table",
			a:    map[string]interface{}{"t": map[string]interface{}{"x": int64(1)}},
			b:    map[string]interface{}{"t": "flat"},
			want: map[string]interface{}{"t": "flat"},
		},
		{
			name: "table replaces scalar",
			a:    map[string]interface{}{"t": "flat"},
			b:    map[string]interface{}{"t": map[string]interface{}{"x": int64(1)}},
			want: map[string]interface{}{"t": map[string]interface{}{"x": int64(1)}},
		},
		{
			name: "null replaces",
			a:    map[string]interface{}{"n": int64(1)},
			b:    map[string]interface{}{"n": nil},
			want: map[string]interface{}{"n": nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := table(t, tt.a), table(t, tt.b)
			before := value.TableToGo(a)

			got := value.TableToGo(MergeTables(a, b))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if !reflect.DeepEqual(value.TableToGo(a), before) {
				t.Error("MergeTables modified its left argument")
			}
		})
	}
}

func TestMergeTables_Associative(t *testing.T) {
	a := table(t, map[string]interface{}{
		"shell": map[string]interface{}{"prompt": "$ ", "history": int64(10)},
		"list":  []interface{}{int64(1)},
	})
	b := table(t, map[string]interface{}{
		"shell": map[string]interface{}{"prompt": "> "},
		"bar":   map[string]interface{}{"color": "red"},
		"list":  "scalar",
	})
	c := table(t, map[string]interface{}{
		"shell": "flat",
		"bar":   map[string]interface{}{"style": "bold"},
		"extra": true,
	})

	left := MergeTables(MergeTables(a, b), c)
	right := MergeTables(a, MergeTables(b, c))
	if !left.Equal(right) {
		t.Errorf("merge is not associative:\n%v\n%v", value.TableToGo(left), value.TableToGo(right))
	}
	if !reflect.DeepEqual(left.Keys(), right.Keys()) {
		t.Errorf("key order differs: %v vs %v", left.Keys(), right.Keys())
	}
}

func TestMerge_CrossFileCycle(t *testing.T) {
	first := cfgTree(t, "a.cfg", "a = ref(b)\n")
	second := cfgTree(t, "b.cfg", "b = ref(a)\n")

	_, err := Merge(context.Background(), []*evaluator.Tree{first, second})
	if !IsKind(err, CyclicReference) {
		t.Fatalf("expected CyclicReference, got %v", err)
	}
	wrapped := fmt.Errorf("merge stage: %w", err)
	if !IsKind(wrapped, CyclicReference) || IsKind(wrapped, UnresolvedReference) {
		t.Errorf("IsKind should see through wrapping: %v", wrapped)
	}
	errs := err.(Errors)
	if got := strings.Join(errs[0].Cycle, " -> "); got != "a -> b -> a" {
		t.Errorf("unexpected cycle %q", got)
	}
	if errs[0].Source != "a.cfg" || errs[0].Line != 1 {
		t.Errorf("expected cycle attributed to a.cfg:1, got %s:%d", errs[0].Source, errs[0].Line)
	}
}

func TestMerge_RefGraph(t *testing.T) {
	tree := cfgTree(t, "a.cfg", "x = 1\na = ref(x)\nb = ref(a)\n")

	res, err := Merge(context.Background(), []*evaluator.Tree{tree})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Refs.Nodes(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("unexpected nodes %v", got)
	}
	if got := res.Refs.Dependencies("b"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("b should depend on a, got %v", got)
	}
	if got := res.Refs.Dependencies("a"); len(got) != 0 {
		t.Errorf("a should have no dependencies, got %v", got)
	}

	plain, err := Merge(context.Background(), []*evaluator.Tree{cfgTree(t, "p.cfg", "x = 1\n")})
	if err != nil {
		t.Fatal(err)
	}
	if plain.Refs == nil || len(plain.Refs.Nodes()) != 0 {
		t.Errorf("expected an empty graph, got %v", plain.Refs)
	}
}

func TestResolve(t *testing.T) {
	ref := func(target string) value.Value {
		return value.Ref(value.Reference{Target: value.MustParsePath(target), Source: "x.cfg", Line: 1, Column: 1})
	}

	root := value.NewTable()
	colors := value.NewTable()
	colors.Set("primary", value.String("red"))
	root.Set("colors", value.FromTable(colors))
	root.Set("theme", ref("colors"))
	root.Set("accent", ref("theme.primary"))
	root.Set("list", value.List(ref("accent"), value.String("x")))

	out, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := map[string]interface{}{
		"colors": map[string]interface{}{"primary": "red"},
		"theme":  map[string]interface{}{"primary": "red"},
		"accent": "red",
		"list":   []interface{}{"red", "x"},
	}
	if got := value.TableToGo(out); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if v, _ := root.Get("theme"); v.Kind() != value.KindRef {
		t.Error("Resolve modified its input")
	}

	// Substituted values are copies.
	theme, _ := out.Get("theme")
	tt, _ := theme.AsTable()
	tt.Set("primary", value.String("blue"))
	if v, _ := value.Lookup(out, value.MustParsePath("colors.primary")); !value.Equal(v, value.String("red")) {
		t.Error("substituted table shares storage with its target")
	}
}

func TestResolve_Errors(t *testing.T) {
	ref := func(target string) value.Value {
		return value.Ref(value.Reference{Target: value.MustParsePath(target)})
	}

	tests := []struct {
		name  string
		build func(*value.Table)
		kinds []ErrorKind
		paths []string
	}{
		{
			name: "missing target",
			build: func(r *value.Table) {
				r.Set("a", ref("nope"))
			},
			kinds: []ErrorKind{UnresolvedReference},
			paths: []string{"a"},
		},
		{
			name: "every missing target is reported",
			build: func(r *value.Table) {
				r.Set("a", ref("x.y"))
				r.Set("b", value.List(ref("z")))
			},
			kinds: []ErrorKind{UnresolvedReference, UnresolvedReference},
			paths: []string{"a", "b[0]"},
		},
		{
			name: "target below a scalar",
			build: func(r *value.Table) {
				r.Set("s", value.Int(1))
				r.Set("a", ref("s.x"))
			},
			kinds: []ErrorKind{UnresolvedReference},
			paths: []string{"a"},
		},
		{
			name: "target through a ref to a scalar",
			build: func(r *value.Table) {
				r.Set("s", value.Int(1))
				r.Set("p", ref("s"))
				r.Set("a", ref("p.x"))
			},
			kinds: []ErrorKind{UnresolvedReference},
			paths: []string{"a"},
		},
		{
			name: "self reference",
			build: func(r *value.Table) {
				r.Set("a", ref("a"))
			},
			kinds: []ErrorKind{CyclicReference},
			paths: []string{"a"},
		},
		{
			name: "ref inside its own target",
			build: func(r *value.Table) {
				t := value.NewTable()
				t.Set("inner", ref("outer"))
				r.Set("outer", value.FromTable(t))
			},
			kinds: []ErrorKind{CyclicReference},
			paths: []string{"outer.inner"},
		},
		{
			name: "cycle and missing target together",
			build: func(r *value.Table) {
				r.Set("a", ref("b"))
				r.Set("b", ref("a"))
				r.Set("c", ref("gone"))
			},
			kinds: []ErrorKind{CyclicReference, UnresolvedReference},
			paths: []string{"a", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := value.NewTable()
			tt.build(root)

			_, err := Resolve(root)
			errs, ok := err.(Errors)
			if !ok {
				t.Fatalf("expected Errors, got %v", err)
			}
			var kinds []ErrorKind
			var paths []string
			for _, e := range errs {
				kinds = append(kinds, e.Kind)
				paths = append(paths, e.KeyPath)
			}
			if !reflect.DeepEqual(kinds, tt.kinds) || !reflect.DeepEqual(paths, tt.paths) {
				t.Errorf("expected %v at %v, got %v at %v", tt.kinds, tt.paths, kinds, paths)
			}
		})
	}
}

func TestMerge_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Merge(ctx, []*evaluator.Tree{evaluator.NewTree("a.cfg", "cfg")}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProvenance(t *testing.T) {
	p := NewProvenance()
	p.Record(value.MustParsePath("a"), Origin{Source: "one.cfg", Line: 1})
	p.Record(value.MustParsePath("a"), Origin{Source: "one.cfg", Line: 1})
	p.Record(value.MustParsePath("a"), Origin{Source: "two.cfg", Line: 4})

	if chain := p.Chain(value.MustParsePath("a")); len(chain) != 2 {
		t.Errorf("expected duplicate record to be collapsed, got %+v", chain)
	}
	o, ok := p.Origin(value.MustParsePath("a.b.c"))
	if !ok || o.Source != "two.cfg" || o.Line != 4 {
		t.Errorf("expected fallback to a, got %+v", o)
	}
	if _, ok := p.Origin(value.MustParsePath("z")); ok {
		t.Error("expected no origin for z")
	}
	if got := p.Paths(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("unexpected paths %v", got)
	}
}
