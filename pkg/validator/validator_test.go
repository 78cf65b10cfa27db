package validator

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/merger"
	"github.com/civa-shell/irfc/pkg/policy"
	"github.com/civa-shell/irfc/pkg/schema"
	"github.com/civa-shell/irfc/pkg/value"
)

func table(t *testing.T, m map[string]interface{}) *value.Table {
	t.Helper()
	v, err := value.FromGo(m)
	if err != nil {
		t.Fatal(err)
	}
	tbl, _ := v.AsTable()
	return tbl
}

func cueSchema(t *testing.T, src string) *schema.Schema {
	t.Helper()
	s, err := schema.LoadCUE("test", "test.cue", []byte(src))
	if err != nil {
		t.Fatalf("LoadCUE failed: %v", err)
	}
	return s
}

type finding struct {
	Kind Kind
	Path string
}

func summarize(fs []*Finding) []finding {
	var out []finding
	for _, f := range fs {
		out = append(out, finding{f.Kind, f.Path})
	}
	return out
}

func TestValidate_DefaultSchema(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]interface{}
		errors   []finding
		warnings []finding
	}{
		{
			name: "valid configuration",
			config: map[string]interface{}{
				"shell": map[string]interface{}{"prompt": "> ", "history": 500, "editor": "vi"},
				"bar": map[string]interface{}{
					"components": []interface{}{"cwd", "prompt", "inputfield"},
					"component":  map[string]interface{}{"cwd": map[string]interface{}{"color": "red", "style": "bold"}},
				},
				"alias": map[string]interface{}{"ll": "ls -l"},
				"theme": map[string]interface{}{"anything": map[string]interface{}{"goes": true}},
			},
		},
		{
			name:   "wrong kind",
			config: map[string]interface{}{"shell": map[string]interface{}{"prompt": 3}},
			errors: []finding{{TypeMismatch, "shell.prompt"}},
		},
		{
			name:   "float where int expected",
			config: map[string]interface{}{"shell": map[string]interface{}{"history": 1.5}},
			errors: []finding{{TypeMismatch, "shell.history"}},
		},
		{
			name:   "out of range",
			config: map[string]interface{}{"shell": map[string]interface{}{"history": -1}},
			errors: []finding{{ConstraintViolation, "shell.history"}},
		},
		{
			name: "bad enum in wildcard rule",
			config: map[string]interface{}{
				"bar": map[string]interface{}{
					"component": map[string]interface{}{
						"cwd":  map[string]interface{}{"color": "purple"},
						"user": map[string]interface{}{"style": "blink"},
					},
				},
			},
			errors: []finding{
				{ConstraintViolation, "bar.component.cwd.color"},
				{ConstraintViolation, "bar.component.user.style"},
			},
		},
		{
			name: "list elements",
			config: map[string]interface{}{
				"bar": map[string]interface{}{"components": []interface{}{"cwd", 7, "clock"}},
			},
			errors: []finding{
				{TypeMismatch, "bar.components[1]"},
				{ConstraintViolation, "bar.components[2]"},
			},
		},
		{
			name: "unknown keys are warnings",
			config: map[string]interface{}{
				"shell":   map[string]interface{}{"prompt": "$", "colour": "red"},
				"plugins": map[string]interface{}{"git": true},
			},
			warnings: []finding{
				{UnknownKey, "plugins"},
				{UnknownKey, "shell.colour"},
			},
		},
		{
			name:   "everything reported at once",
			config: map[string]interface{}{"shell": map[string]interface{}{"prompt": true, "editor": "nano", "history": "lots"}},
			errors: []finding{
				{ConstraintViolation, "shell.editor"},
				{TypeMismatch, "shell.history"},
				{TypeMismatch, "shell.prompt"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Validate(context.Background(), table(t, tt.config), schema.Default())
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if got := summarize(report.Errors); !reflect.DeepEqual(got, tt.errors) {
				t.Errorf("expected errors %v, got %v", tt.errors, report.Errors)
			}
			if got := summarize(report.Warnings); !reflect.DeepEqual(got, tt.warnings) {
				t.Errorf("expected warnings %v, got %v", tt.warnings, report.Warnings)
			}
			if report.OK() != (len(tt.errors) == 0) {
				t.Errorf("unexpected OK() = %v", report.OK())
			}
			if report.OK() && report.Err() != nil {
				t.Errorf("expected nil Err, got %v", report.Err())
			}
		})
	}
}

func TestValidate_MissingRequiredKey(t *testing.T) {
	s := cueSchema(t, `
version: 1
rules: {
	"shell": {kind: "table"}
	"shell.prompt": {kind: "string", required: true}
	"shell.history": {kind: "int"}
	"bar": {kind: "table"}
	"bar.separator": {kind: "string", required: true}
	"theme.accent": {kind: "string", required: true}
}
`)

	src := locator.ConfigSource{
		Source:  locator.Source{Path: "shell.cfg", Rel: "shell.cfg", Ext: ".cfg"},
		Content: []byte("shell.history = 100\n"),
	}
	tree, err := evaluator.New().Evaluate(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	merged, err := merger.Merge(context.Background(), []*evaluator.Tree{tree})
	if err != nil {
		t.Fatal(err)
	}

	report, err := Validate(context.Background(), merged.Root, s, WithProvenance(merged.Provenance))
	if err != nil {
		t.Fatal(err)
	}

	// bar is an optional section and absent; theme has no rule of its own,
	// so its required child is.
	if len(report.Errors) != 2 {
		t.Fatalf("expected two errors, got %v", report.Errors)
	}
	if e := report.Errors[1]; e.Kind != MissingKey || e.Path != "theme.accent" {
		t.Errorf("unexpected finding %+v", e)
	}
	e := report.Errors[0]
	if e.Kind != MissingKey || e.Path != "shell.prompt" {
		t.Errorf("unexpected finding %+v", e)
	}
	if e.Source != "shell.cfg" {
		t.Errorf("expected attribution to shell.cfg, got %q", e.Source)
	}
	if report.Err() == nil {
		t.Error("expected non-nil Err")
	}

	// A scalar parent cannot hold the required key.
	scalar := cueSchema(t, `
version: 1
rules: {
	"shell.prompt": {kind: "string", required: true}
}
`)
	report, err = Validate(context.Background(), table(t, map[string]interface{}{"shell": 5}), scalar)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected one error for a scalar parent, got %v", report.Errors)
	}
	if e := report.Errors[0]; e.Kind != MissingKey || e.Path != "shell.prompt" {
		t.Errorf("unexpected finding %+v", e)
	}
}

func TestValidate_RequiredTopLevelAndWildcard(t *testing.T) {
	s := cueSchema(t, `
version: 1
rules: {
	"name": {kind: "string", required: true}
	"hosts": {kind: "table"}
	"hosts.*": {kind: "table"}
	"hosts.*.addr": {kind: "string", required: true, pattern: "^[a-z0-9.]+$"}
}
`)
	root := table(t, map[string]interface{}{
		"hosts": map[string]interface{}{
			"a": map[string]interface{}{"addr": "10.0.0.1"},
			"b": map[string]interface{}{},
			"c": map[string]interface{}{"addr": "Bad Host"},
		},
	})

	report, err := Validate(context.Background(), root, s)
	if err != nil {
		t.Fatal(err)
	}
	want := []finding{
		{MissingKey, "hosts.b.addr"},
		{ConstraintViolation, "hosts.c.addr"},
		{MissingKey, "name"},
	}
	if got := summarize(report.Errors); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, report.Errors)
	}
}

func TestValidate_ReferenceTarget(t *testing.T) {
	s := cueSchema(t, `
version: 1
rules: {
	"themes": {kind: "table", open: true}
	"active": {kind: "string", target: "themes"}
	"fallback": {kind: "string", target: "missing"}
}
`)

	tests := []struct {
		name   string
		config map[string]interface{}
		errors []finding
	}{
		{
			name: "existing key",
			config: map[string]interface{}{
				"themes": map[string]interface{}{"dark": map[string]interface{}{}},
				"active": "dark",
			},
		},
		{
			name: "unknown key",
			config: map[string]interface{}{
				"themes": map[string]interface{}{"dark": map[string]interface{}{}},
				"active": "light",
			},
			errors: []finding{{ConstraintViolation, "active"}},
		},
		{
			name:   "target is not a table",
			config: map[string]interface{}{"fallback": "x"},
			errors: []finding{{ConstraintViolation, "fallback"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Validate(context.Background(), table(t, tt.config), s)
			if err != nil {
				t.Fatal(err)
			}
			if got := summarize(report.Errors); !reflect.DeepEqual(got, tt.errors) {
				t.Errorf("expected %v, got %v", tt.errors, report.Errors)
			}
		})
	}
}

func TestValidate_Policies(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatal(err)
	}

	root := table(t, map[string]interface{}{
		"alias": map[string]interface{}{"cd": "pushd", "empty": ""},
	})
	report, err := Validate(context.Background(), root, schema.Default(), WithPolicies(eng))
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Errors) != 1 || report.Errors[0].Path != "alias.cd" || report.Errors[0].Policy != "aliases" {
		t.Errorf("unexpected errors %v", report.Errors)
	}
	if len(report.Warnings) != 1 || report.Warnings[0].Path != "alias.empty" {
		t.Errorf("unexpected warnings %v", report.Warnings)
	}
}

func TestValidate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Validate(ctx, value.NewTable(), schema.Default()); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFindingPath(t *testing.T) {
	tests := map[string]string{
		"bar.components[2]": "bar.components",
		"shell.prompt":      "shell.prompt",
		"":                  "",
	}
	for in, want := range tests {
		got := findingPath(in)
		if got.String() != want {
			t.Errorf("findingPath(%q) = %q, want %q", in, got, want)
		}
	}
}
