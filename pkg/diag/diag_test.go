package diag

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/irf"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/merger"
	"github.com/civa-shell/irfc/pkg/validator"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantN    int
		wantCode string
		wantLoc  string
	}{
		{"nil", nil, 0, "", ""},
		{
			name: "evaluator errors",
			err: evaluator.Errors{
				{Kind: evaluator.ForbiddenOperation, Source: "a.cfg", Line: 3, Column: 7, Message: "open is not allowed"},
				{Kind: evaluator.SyntaxError, Source: "b.cfg", Line: 1, Column: 1, Message: "unexpected token"},
			},
			wantN:    2,
			wantCode: "ForbiddenOperation",
			wantLoc:  "a.cfg:3:7",
		},
		{
			name:     "wrapped merger error",
			err:      fmt.Errorf("merge: %w", merger.Errors{{Kind: merger.UnresolvedReference, KeyPath: "bar.color", Target: "foo.missing", Source: "b.cfg", Line: 2, Column: 1}}),
			wantN:    1,
			wantCode: "UnresolvedReference",
			wantLoc:  "b.cfg:2:1",
		},
		{
			name:     "validator finding",
			err:      validator.Errors{{Kind: validator.MissingKey, Path: "shell.prompt", Message: "required key is missing", Source: "shell.cfg"}},
			wantN:    1,
			wantCode: "MissingKey",
			wantLoc:  "shell.cfg",
		},
		{
			name:     "locator error",
			err:      &locator.Error{Kind: locator.ErrNotFound, Path: "/nope"},
			wantN:    1,
			wantCode: "NotFound",
			wantLoc:  "/nope",
		},
		{
			name:     "irf error",
			err:      &irf.Error{Kind: irf.IOFailure, Message: "disk full"},
			wantN:    1,
			wantCode: "IOFailure",
		},
		{
			name:     "generic",
			err:      errors.New("boom"),
			wantN:    1,
			wantCode: "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := FromError(StageMerge, tt.err)
			if len(ds) != tt.wantN {
				t.Fatalf("expected %d diagnostics, got %d: %v", tt.wantN, len(ds), ds)
			}
			if tt.wantN == 0 {
				return
			}
			d := ds[0]
			if d.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", d.Code, tt.wantCode)
			}
			if d.Location() != tt.wantLoc {
				t.Errorf("Location() = %q, want %q", d.Location(), tt.wantLoc)
			}
			if d.Stage != StageMerge || d.Severity != SeverityError {
				t.Errorf("unexpected stage/severity: %+v", d)
			}
		})
	}
}

func TestFromError_Cycle(t *testing.T) {
	err := merger.Errors{{Kind: merger.CyclicReference, KeyPath: "a.x", Cycle: []string{"a.x", "a.y", "a.x"}}}
	ds := FromError(StageMerge, err)
	if len(ds) != 1 || ds[0].Message != "cyclic reference: a.x -> a.y -> a.x" {
		t.Fatalf("unexpected diagnostics: %v", ds)
	}
}

func TestFromFindings_Policy(t *testing.T) {
	ds := FromFindings(StageValidate, SeverityWarning, []*validator.Finding{
		{Kind: validator.ConstraintViolation, Path: "aliases.ls", Message: "alias shadows a builtin", Policy: "aliases"},
	})
	if len(ds) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(ds))
	}
	want := "warning[ConstraintViolation]: aliases.ls: alias shadows a builtin (policy aliases)"
	if got := ds[0].String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSortAndCount(t *testing.T) {
	ds := []Diagnostic{
		{Source: "b.cfg", Line: 1, Severity: SeverityError, Message: "x"},
		{Source: "a.cfg", Line: 9, Severity: SeverityWarning, Message: "y"},
		{Source: "a.cfg", Line: 2, Severity: SeverityError, Message: "z"},
		{Severity: SeverityError, Message: "w"},
	}
	Sort(ds)

	var got []string
	for _, d := range ds {
		got = append(got, d.Message)
	}
	if strings.Join(got, "") != "wzyx" {
		t.Errorf("unexpected order: %v", got)
	}
	if Count(ds, SeverityError) != 3 || Count(ds, SeverityWarning) != 1 {
		t.Error("unexpected counts")
	}
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	ds := []Diagnostic{
		{Stage: StageEvaluate, Severity: SeverityError, Code: "SyntaxError", Source: "a.cfg", Line: 1, Column: 5, Message: "unexpected token"},
		{Stage: StageLocate, Severity: SeverityWarning, Code: "Skipped", Source: "b.cfg", Message: "permission denied"},
	}
	p.Print(ds)
	p.Summary(ds)

	want := "a.cfg:1:5: error[SyntaxError]: unexpected token\n" +
		"b.cfg: warning[Skipped]: permission denied\n" +
		"1 error(s), 1 warning(s)\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}

	buf.Reset()
	p.Summary(nil)
	p.Success("wrote %s", "out.irf")
	if buf.String() != "wrote out.irf\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestPrinter_Table(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Table([]string{"ID", "STATUS", "SOURCES"}, [][]string{
		{"abc", "succeeded", "3"},
		{"longer-id", "failed", ""},
	})

	want := "ID         STATUS     SOURCES\n" +
		"abc        succeeded  3\n" +
		"longer-id  failed\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%s\nwant:\n%s", buf.String(), want)
	}
}
