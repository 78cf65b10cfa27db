package evaluator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

func TestYAMLFrontend(t *testing.T) {
	content := `shell:
  prompt: "> "
  history: 1000
defaults: &defaults
  color: red
  style: bold
bar:
  <<: *defaults
  color: blue
theme: !ref defaults.color
ratio: 1.5
enabled: true
nothing: null
list: [1, two]
`
	tree, err := evalWith(t, NewYAMLFrontend(), "conf.yaml", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := map[string]interface{}{
		"shell.prompt":  "> ",
		"shell.history": int64(1000),
		"bar.color":     "blue",
		"bar.style":     "bold",
		"theme":         "ref:defaults.color",
		"ratio":         1.5,
		"enabled":       true,
		"nothing":       nil,
		"list":          []interface{}{int64(1), "two"},
	}
	for path, want := range checks {
		if got := lookupGo(t, tree, path); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %#v, got %#v", path, want, got)
		}
	}

	if pos, ok := tree.Position(value.Path{"shell", "prompt"}); !ok || pos.Line != 2 {
		t.Errorf("expected shell.prompt on line 2, got %v", pos)
	}
	if got := tree.Root.Keys(); got[0] != "shell" || got[len(got)-1] != "list" {
		t.Errorf("expected declaration order, got %v", got)
	}
}

func TestYAMLFrontend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Kind
	}{
		{name: "multiple documents", content: "a: 1\n---\nb: 2\n", want: SyntaxError},
		{name: "sequence root", content: "- 1\n- 2\n", want: TypeMismatch},
		{name: "bad indentation", content: "a:\n  b: 1\n c: 2\n", want: SyntaxError},
		{name: "duplicate key", content: "a: 1\na: 2\n", want: SyntaxError},
		{name: "bad reference", content: "a: !ref \"x..y\"\n", want: SyntaxError},
		{name: "unknown tag", content: "a: !custom 1\n", want: TypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalWith(t, NewYAMLFrontend(), "bad.yaml", tt.content)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if kinds := errorKinds(err); kinds[0] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestYAMLFrontend_Empty(t *testing.T) {
	for _, content := range []string{"", "# nothing\n", "~\n"} {
		tree, err := evalWith(t, NewYAMLFrontend(), "empty.yaml", content)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", content, err)
		}
		if tree.Root.Len() != 0 {
			t.Errorf("%q: expected empty tree", content)
		}
	}
}

// nestedAliases builds a document whose every level lists the previous one
// ten times, so that it expands to 10^levels values.
func nestedAliases(levels int) string {
	var b strings.Builder
	b.WriteString("l0: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i < levels; i++ {
		refs := make([]string, 10)
		for j := range refs {
			refs[j] = fmt.Sprintf("*l%d", i-1)
		}
		fmt.Fprintf(&b, "l%d: &l%d [%s]\n", i, i, strings.Join(refs, ", "))
	}
	return b.String()
}

func TestYAMLFrontend_ExpansionLimit(t *testing.T) {
	tests := []struct {
		name     string
		frontend *YAMLFrontend
		levels   int
		wantErr  bool
	}{
		{name: "small document", frontend: NewYAMLFrontend(), levels: 2},
		{name: "default limit", frontend: NewYAMLFrontend(), levels: 7, wantErr: true},
		{name: "custom limit", frontend: NewYAMLFrontend().WithMaxNodes(100), levels: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			tree, err := evalWith(t, tt.frontend, "aliases.yaml", nestedAliases(tt.levels))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tree.Root.Len() != tt.levels {
					t.Errorf("expected %d keys, got %d", tt.levels, tree.Root.Len())
				}
				return
			}
			var ee *Error
			if !errors.As(err, &ee) || ee.Kind != ForbiddenOperation {
				t.Fatalf("expected ForbiddenOperation, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 5*time.Second {
				t.Errorf("limit enforced too late: %v", elapsed)
			}
		})
	}
}

func TestYAMLFrontend_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewYAMLFrontend().WithMaxNodes(0)
	_, err := f.Evaluate(ctx, source("aliases.yaml", nestedAliases(7)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTOMLFrontend(t *testing.T) {
	content := `title = "civa"

[shell]
prompt = "> "
history = 1000

[bar]
components = ["cwd", "prompt"]
when = 1979-05-27T07:32:00Z
`
	tree, err := evalWith(t, NewTOMLFrontend(), "conf.toml", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := map[string]interface{}{
		"title":          "civa",
		"shell.history":  int64(1000),
		"bar.components": []interface{}{"cwd", "prompt"},
		"bar.when":       "1979-05-27T07:32:00Z",
	}
	for path, want := range checks {
		if got := lookupGo(t, tree, path); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %#v, got %#v", path, want, got)
		}
	}
}

func TestTOMLFrontend_SyntaxError(t *testing.T) {
	_, err := evalWith(t, NewTOMLFrontend(), "bad.toml", "a = \n")
	errs := AsErrors("", err)
	if len(errs) != 1 || errs[0].Kind != SyntaxError {
		t.Fatalf("expected one syntax error, got %v", err)
	}
	if errs[0].Line != 1 {
		t.Errorf("expected line 1, got %d", errs[0].Line)
	}
}

func TestHCLFrontend(t *testing.T) {
	content := `shell {
  prompt  = "> "
  history = 1000
}

alias "ll" {
  command = "ls -l"
}

ratio = 1.5
theme = ref("defaults.color")
list  = [1, "two"]
obj   = { b = 1, a = true }
`
	tree, err := evalWith(t, NewHCLFrontend(), "conf.hcl", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := map[string]interface{}{
		"shell.prompt":     "> ",
		"shell.history":    int64(1000),
		"alias.ll.command": "ls -l",
		"ratio":            1.5,
		"theme":            "ref:defaults.color",
		"list":             []interface{}{int64(1), "two"},
		"obj":              map[string]interface{}{"a": true, "b": int64(1)},
	}
	for path, want := range checks {
		if got := lookupGo(t, tree, path); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: expected %#v, got %#v", path, want, got)
		}
	}

	if got := tree.Root.Keys(); !reflect.DeepEqual(got, []string{"ratio", "theme", "list", "obj", "shell", "alias"}) {
		t.Errorf("unexpected key order %v", got)
	}
}

func TestHCLFrontend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Kind
	}{
		{name: "function call", content: "x = upper(\"a\")\n", want: ForbiddenOperation},
		{name: "variable", content: "x = y\n", want: UndefinedReference},
		{name: "syntax", content: "x = \n", want: SyntaxError},
		{name: "block over attribute", content: "a = 1\na {\n  b = 2\n}\n", want: TypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalWith(t, NewHCLFrontend(), "bad.hcl", tt.content)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if kinds := errorKinds(err); kinds[0] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestAliasFrontend(t *testing.T) {
	content := `# aliases
alias ll="ls -l"
alias gs='git status'

alias e=""
`
	tree, err := evalWith(t, NewAliasFrontend(), "civa.alias", content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]interface{}{"ll": "ls -l", "gs": "git status", "e": ""}
	if got := lookupGo(t, tree, "alias"); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if pos, ok := tree.Position(value.Path{"alias", "gs"}); !ok || pos.Line != 3 {
		t.Errorf("expected alias.gs on line 3, got %v", pos)
	}
}

func TestAliasFrontend_BadLine(t *testing.T) {
	_, err := evalWith(t, NewAliasFrontend(), "civa.alias", "alias ll=\"ls\"\nll=ls\nalias x\n")
	errs := AsErrors("", err)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", err)
	}
	if errs[0].Line != 2 || errs[1].Line != 3 {
		t.Errorf("unexpected lines %d, %d", errs[0].Line, errs[1].Line)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	want := []string{".alias", ".cfg", ".hcl", ".toml", ".yaml", ".yml"}
	if got := r.Extensions(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if err := r.Register(NewYAMLFrontend()); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	f, ok := r.Lookup(".yml")
	if !ok || f.Name() != "yaml" {
		t.Errorf("expected yaml frontend for .yml, got %v", f)
	}
}

// blockingFrontend waits for its context to end.
type blockingFrontend struct{}

func (blockingFrontend) Name() string         { return "blocking" }
func (blockingFrontend) Extensions() []string { return []string{".block"} }
func (blockingFrontend) Evaluate(ctx context.Context, _ locator.ConfigSource) (*Tree, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEvaluator_Timeout(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(blockingFrontend{}); err != nil {
		t.Fatal(err)
	}
	e := New(WithRegistry(r), WithTimeout(10*time.Millisecond))

	_, err := e.Evaluate(context.Background(), source("slow.block", ""))
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != ForbiddenOperation {
		t.Errorf("expected timeout to be reported as ForbiddenOperation, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, source("slow.block", "")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEvaluator_UnknownExtension(t *testing.T) {
	_, err := New().Evaluate(context.Background(), source("notes.txt", "hello"))
	var ee *Error
	if !errors.As(err, &ee) || ee.Kind != SyntaxError {
		t.Errorf("expected SyntaxError, got %v", err)
	}
}

func TestEvaluator_Dispatch(t *testing.T) {
	e := New()
	tree, err := e.Evaluate(context.Background(), source("a/b.cfg", "x = 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if tree.Source != "a/b.cfg" || tree.Format != "cfg" {
		t.Errorf("unexpected tree metadata %q %q", tree.Source, tree.Format)
	}
}
