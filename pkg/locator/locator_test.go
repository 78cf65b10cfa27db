package locator

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func rels(sources []Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Rel
	}
	return out
}

func TestLocate_Order(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"b.cfg",
		"a/z.yaml",
		"a/b/c.toml",
		"a.cfg",
		"notes.txt",
		".hidden.cfg",
		".git/config.cfg",
		"aliases.alias",
	)

	res, err := Locate(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a/b/c.toml", "a/z.yaml", "a.cfg", "aliases.alias", "b.cfg"}
	got := rels(res.Sources)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	if !sort.SliceIsSorted(res.Sources, func(i, j int) bool {
		return Less(res.Sources[i], res.Sources[j])
	}) {
		t.Error("sources are not in Less order")
	}
}

func TestLocate_Deterministic(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "x/1.cfg", "x/2.cfg", "y.cfg", "w/v/u.hcl")

	first, err := Locate(root)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := Locate(root)
		if err != nil {
			t.Fatal(err)
		}
		a, b := rels(first.Sources), rels(again.Sources)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("run %d differs: %v vs %v", i, a, b)
			}
		}
	}
}

func TestLocate_EmptyDirectory(t *testing.T) {
	res, err := Locate(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sources) != 0 {
		t.Errorf("expected no sources, got %v", rels(res.Sources))
	}
}

func TestLocate_Errors(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.cfg")
	writeFiles(t, root, "file.cfg")

	tests := []struct {
		name string
		path string
		kind ErrorKind
	}{
		{name: "missing", path: filepath.Join(root, "nope"), kind: ErrNotFound},
		{name: "file", path: file, kind: ErrNotADirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Locate(tt.path)
			var le *Error
			if !errors.As(err, &le) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if le.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, le.Kind)
			}
		})
	}
}

func TestLocate_Symlinks(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "conf/a.cfg")

	if err := os.Symlink(root, filepath.Join(root, "conf", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "missing.cfg"), filepath.Join(root, "broken.cfg")); err != nil {
		t.Fatal(err)
	}

	res, err := Locate(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rels(res.Sources); len(got) != 1 || got[0] != "conf/a.cfg" {
		t.Errorf("unexpected sources: %v", got)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected warnings for the cycle and the broken link, got %v", res.Warnings)
	}
}

func TestLocate_WithExtensions(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.cfg", "b.yaml")

	res, err := Locate(root, WithExtensions(".yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if got := rels(res.Sources); len(got) != 1 || got[0] != "b.yaml" {
		t.Errorf("unexpected sources: %v", got)
	}
}

func TestRead(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.cfg")

	res, err := Locate(root)
	if err != nil {
		t.Fatal(err)
	}
	cs, err := Read(res.Sources[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(cs.Content) != "x = 1\n" {
		t.Errorf("unexpected content %q", cs.Content)
	}

	_, err = Read(Source{Path: filepath.Join(root, "gone.cfg"), Rel: "gone.cfg"})
	var le *Error
	if !errors.As(err, &le) || le.Kind != ErrUnreadable {
		t.Errorf("expected unreadable error, got %v", err)
	}
}
