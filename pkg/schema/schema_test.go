package schema

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/civa-shell/irfc/pkg/value"
)

func TestDefault(t *testing.T) {
	s := Default()
	if s.Name != DefaultName || s.Version != 1 {
		t.Errorf("unexpected schema header %q v%d", s.Name, s.Version)
	}

	r, ok := s.Rule("bar.component.*.color")
	if !ok {
		t.Fatal("expected a rule for bar.component.*.color")
	}
	if !r.IsWildcard() || len(r.EnumValues()) != 6 {
		t.Errorf("unexpected color rule: %s", r.Describe())
	}

	if r, ok := s.Rule("bar.components"); !ok || r.Elem != KindString {
		t.Error("expected bar.components to be a list of strings")
	}
}

func TestLoadCUE(t *testing.T) {
	doc := `
version: 2
rules: {
	"shell.prompt": {kind: "string", required: true, pattern: "^.{1,8}$"}
	"shell.history": {kind: "int", min: 0, max: 100}
	"bar.color": {kind: "string", enum: ["red", "blue"]}
	"alias.*": {kind: "string"}
	"default_alias": {kind: "string", target: "alias"}
}
`
	s, err := LoadCUE("custom", "custom.cue", []byte(doc))
	if err != nil {
		t.Fatalf("LoadCUE failed: %v", err)
	}
	if s.Version != 2 || len(s.Rules) != 5 {
		t.Fatalf("unexpected schema: v%d, %d rules", s.Version, len(s.Rules))
	}

	var paths []string
	for _, r := range s.Rules {
		paths = append(paths, r.Path)
	}
	want := []string{"alias.*", "bar.color", "default_alias", "shell.history", "shell.prompt"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("expected sorted rules %v, got %v", want, paths)
	}

	prompt, _ := s.Rule("shell.prompt")
	if !prompt.Required || prompt.Regexp() == nil || !prompt.Regexp().MatchString("> ") {
		t.Errorf("unexpected prompt rule %s", prompt.Describe())
	}
	hist, _ := s.Rule("shell.history")
	if hist.Min == nil || *hist.Min != 0 || hist.Max == nil || *hist.Max != 100 {
		t.Errorf("unexpected history bounds %s", hist.Describe())
	}
	def, _ := s.Rule("default_alias")
	if !def.TargetPath().Equal(value.Path{"alias"}) {
		t.Errorf("unexpected target %v", def.TargetPath())
	}
	if string(s.Source) != doc {
		t.Error("expected source document to be kept")
	}
}

func TestLoadCUE_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "syntax", doc: "version: 1\nrules: {\n", want: "custom.cue"},
		{name: "unknown kind", doc: `version: 1, rules: {"a": {kind: "str"}}`, want: "kind"},
		{name: "unknown field", doc: `version: 1, rules: {"a": {kind: "string", colour: "red"}}`, want: "colour"},
		{name: "bad version", doc: `version: 0, rules: {}`, want: "version"},
		{name: "min above max", doc: `version: 1, rules: {"a": {kind: "int", min: 5, max: 1}}`, want: "greater than max"},
		{name: "pattern on int", doc: `version: 1, rules: {"a": {kind: "int", pattern: "x"}}`, want: "pattern is only allowed"},
		{name: "bad pattern", doc: `version: 1, rules: {"a": {kind: "string", pattern: "("}}`, want: "invalid pattern"},
		{name: "enum kind", doc: `version: 1, rules: {"a": {kind: "string", enum: [1]}}`, want: "is not a string"},
		{name: "bad path", doc: `version: 1, rules: {"a..b": {kind: "string"}}`, want: "empty segment"},
		{name: "open scalar", doc: `version: 1, rules: {"a": {kind: "string", open: true}}`, want: "open is only allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCUE("custom", "custom.cue", []byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadYAML(t *testing.T) {
	doc := `version: 1
rules:
  shell.prompt:
    kind: string
    required: true
  shell.history:
    kind: int
    min: 1
  bar.components:
    kind: list
    elem: string
    enum: [cwd, prompt]
`
	s, err := LoadYAML("civa", "civa.yaml", []byte(doc))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if len(s.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(s.Rules))
	}
	r, _ := s.Rule("bar.components")
	if r.Elem != KindString || len(r.EnumValues()) != 2 {
		t.Errorf("unexpected rule %s", r.Describe())
	}
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty schema"},
		{name: "unknown field", doc: "version: 1\nrules:\n  a:\n    kind: string\n    colour: red\n", want: "colour"},
		{name: "bad kind", doc: "version: 1\nrules:\n  a:\n    kind: str\n", want: "oneof"},
		{name: "missing version", doc: "rules:\n  a:\n    kind: string\n", want: "Version"},
		{name: "elem on table", doc: "version: 1\nrules:\n  a:\n    kind: table\n    elem: string\n", want: "elem is only allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML("bad", "bad.yaml", []byte(tt.doc))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSchema_MatchAndKnown(t *testing.T) {
	s := Default()

	tests := []struct {
		path    string
		matches []string
		known   bool
	}{
		{path: "shell.prompt", matches: []string{"shell.prompt"}, known: true},
		{path: "alias.ll", matches: []string{"alias.*"}, known: true},
		{path: "bar.component.cwd.color", matches: []string{"bar.component.*.color"}, known: true},
		{path: "bar.component.cwd.blink", known: false},
		{path: "theme.colors.fg", known: true},
		{path: "bar.component", matches: []string{"bar.component"}, known: true},
		{path: "unknown", known: false},
		{path: "shell.prompt.x", known: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := value.MustParsePath(tt.path)
			var got []string
			for _, r := range s.Match(p) {
				got = append(got, r.Path)
			}
			if !reflect.DeepEqual(got, tt.matches) {
				t.Errorf("Match: expected %v, got %v", tt.matches, got)
			}
			if k := s.Known(p); k != tt.known {
				t.Errorf("Known: expected %v, got %v", tt.known, k)
			}
		})
	}
}

func TestKind_Matches(t *testing.T) {
	tests := []struct {
		kind Kind
		v    value.Value
		want bool
	}{
		{KindInt, value.Int(1), true},
		{KindInt, value.Float(1), false},
		{KindFloat, value.Int(1), true},
		{KindNumber, value.Float(1.5), true},
		{KindString, value.Int(1), false},
		{KindNull, value.Null(), true},
		{KindAny, value.List(), true},
		{KindTable, value.FromTable(nil), true},
		{KindList, value.String("x"), false},
	}

	for _, tt := range tests {
		if got := tt.kind.Matches(tt.v); got != tt.want {
			t.Errorf("%s.Matches(%#v): expected %v, got %v", tt.kind, tt.v, tt.want, got)
		}
	}
}

func TestRegistryAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strict.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nrules:\n  a:\n    kind: int\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Name != "strict" {
		t.Errorf("expected schema named after the file, got %q", s.Name)
	}

	r := NewRegistry()
	r.Register(s)
	if got := r.Names(); !reflect.DeepEqual(got, []string{"default", "strict"}) {
		t.Errorf("unexpected names %v", got)
	}
	if _, ok := r.Get("default"); !ok {
		t.Error("expected built-in schema to be registered")
	}

	if _, err := Load(filepath.Join(dir, "schema.json")); err == nil {
		t.Error("expected error for a missing file")
	}
	other := filepath.Join(dir, "schema.txt")
	if err := os.WriteFile(other, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(other); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("expected unsupported format error, got %v", err)
	}
}
