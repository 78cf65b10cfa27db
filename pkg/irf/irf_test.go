package irf

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/blake2b"

	"github.com/civa-shell/irfc/pkg/value"
)

func sample() *value.Table {
	shell := value.NewTable()
	shell.Set("prompt", value.String("> "))
	shell.Set("history", value.Int(-42))
	shell.Set("ratio", value.Float(0.5))

	bar := value.NewTable()
	bar.Set("components", value.List(value.String("cwd"), value.String("prompt")))
	bar.Set("visible", value.Bool(true))

	root := value.NewTable()
	root.Set("shell", value.FromTable(shell))
	root.Set("bar", value.FromTable(bar))
	root.Set("nothing", value.Null())
	root.Set("nested", value.List(value.FromTable(value.NewTable()), value.List()))
	return root
}

// wrap builds a file with a valid header around body.
func wrap(body []byte) []byte {
	sum := blake2b.Sum256(body)
	out := append([]byte(Magic), 0, 0, 0, 1)
	out = append(out, sum[:]...)
	return append(out, body...)
}

func TestMarshal_EmptyTable(t *testing.T) {
	data, err := Marshal(value.NewTable())
	if err != nil {
		t.Fatal(err)
	}
	want := wrap([]byte{tagTable, 0, 0, 0, 0})
	if !bytes.Equal(data, want) {
		t.Errorf("expected %x, got %x", want, data)
	}
	if len(data) != HeaderSize+5 {
		t.Errorf("unexpected length %d", len(data))
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	a := value.NewTable()
	a.Set("z", value.Int(1))
	a.Set("a", value.String("x"))
	a.Set("m", value.Float(math.NaN()))

	b := value.NewTable()
	b.Set("m", value.Float(math.Float64frombits(0x7ff0000000000123)))
	b.Set("a", value.String("x"))
	b.Set("z", value.Int(1))

	da, err := Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(da, db) {
		t.Error("equal trees with different declaration order encoded differently")
	}

	again, _ := Marshal(a)
	if !bytes.Equal(da, again) {
		t.Error("repeated encoding differs")
	}
}

func TestRoundTrip(t *testing.T) {
	data, err := Marshal(sample())
	if err != nil {
		t.Fatal(err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Version != Version {
		t.Errorf("unexpected version %d", f.Version)
	}
	if !f.Root.Equal(sample()) {
		t.Errorf("decoded tree differs: %s", Text(f.Root))
	}

	reencoded, err := Marshal(f.Root)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, reencoded) {
		t.Error("decode then encode is not idempotent")
	}

	fp, err := Fingerprint(sample())
	if err != nil {
		t.Fatal(err)
	}
	if fp != f.FingerprintHex() || len(fp) != 64 {
		t.Errorf("fingerprint mismatch: %s vs %s", fp, f.FingerprintHex())
	}
}

func TestMarshal_UnresolvedRef(t *testing.T) {
	inner := value.NewTable()
	inner.Set("color", value.Ref(value.Reference{Target: value.MustParsePath("theme.red")}))
	root := value.NewTable()
	root.Set("bar", value.FromTable(inner))
	root.Set("paths", value.List(value.String("a"), value.Ref(value.Reference{Target: value.MustParsePath("x")})))

	_, err := Marshal(root)
	if !IsKind(err, UnresolvedRef) {
		t.Fatalf("expected UnresolvedRef, got %v", err)
	}
	if e := err.(*Error); e.Path != "bar.color" {
		t.Errorf("expected path bar.color, got %q", e.Path)
	}
}

func TestDecode_Rejects(t *testing.T) {
	valid, err := Marshal(sample())
	if err != nil {
		t.Fatal(err)
	}

	u32 := func(n uint32) []byte { return binary.BigEndian.AppendUint32(nil, n) }
	entry := func(key string, v ...byte) []byte {
		out := append(u32(uint32(len(key))), key...)
		return append(out, v...)
	}
	table := func(entries ...[]byte) []byte {
		out := append([]byte{tagTable}, u32(uint32(len(entries)))...)
		for _, e := range entries {
			out = append(out, e...)
		}
		return out
	}
	nan := binary.BigEndian.AppendUint64([]byte{tagFloat}, 0x7ff0000000000001)

	tests := []struct {
		name string
		data []byte
		kind ErrorKind
	}{
		{"empty", nil, BadMagic},
		{"bad magic", append([]byte("IRF2"), valid[4:]...), BadMagic},
		{"truncated header", valid[:20], Malformed},
		{"unknown version", append(append([]byte(Magic), 0, 0, 0, 2), valid[8:]...), UnsupportedVersion},
		{"flipped body byte", func() []byte {
			c := append([]byte(nil), valid...)
			c[len(c)-1] ^= 0xff
			return c
		}(), FingerprintMismatch},
		{"flipped fingerprint byte", func() []byte {
			c := append([]byte(nil), valid...)
			c[10] ^= 0xff
			return c
		}(), FingerprintMismatch},
		{"unsorted keys", wrap(table(entry("b", tagNull), entry("a", tagNull))), Malformed},
		{"duplicate keys", wrap(table(entry("a", tagNull), entry("a", tagNull))), Malformed},
		{"trailing bytes", wrap(append(table(), 0)), Malformed},
		{"root not a table", wrap([]byte{tagNull}), Malformed},
		{"unknown tag", wrap(table(entry("a", 9))), Malformed},
		{"bad bool", wrap(table(entry("a", tagBool, 2))), Malformed},
		{"non-canonical NaN", wrap(table(entry("a", nan...))), Malformed},
		{"invalid utf-8", wrap(table(entry("\xff", tagNull))), Malformed},
		{"count beyond body", wrap(append([]byte{tagList}, u32(1000)...)), Malformed},
		{"truncated value", wrap(table(entry("a", tagInt, 0, 0))), Malformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !IsKind(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "civa.irf")

	if err := os.WriteFile(out, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	fp, err := WriteFile(out, sample())
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if f.FingerprintHex() != fp {
		t.Errorf("expected fingerprint %s, got %s", fp, f.FingerprintHex())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestWriteFile_Failures(t *testing.T) {
	dir := t.TempDir()

	_, err := WriteFile(filepath.Join(dir, "missing", "civa.irf"), sample())
	if !IsKind(err, IOFailure) {
		t.Fatalf("expected IOFailure, got %v", err)
	}
	if !err.(*Error).Retryable() {
		t.Error("IOFailure should be retryable")
	}

	root := value.NewTable()
	root.Set("x", value.Ref(value.Reference{Target: value.MustParsePath("y")}))
	out := filepath.Join(dir, "civa.irf")
	if _, err := WriteFile(out, root); !IsKind(err, UnresolvedRef) {
		t.Fatalf("expected UnresolvedRef, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("no file should be written for an invalid tree")
	}
}

func TestText(t *testing.T) {
	got := Text(sample())
	want := strings.Join([]string{
		`bar = {`,
		`    components = ["cwd", "prompt"]`,
		`    visible = True`,
		`}`,
		`nested = [`,
		`    {},`,
		`    [],`,
		`]`,
		`nothing = None`,
		`shell = {`,
		`    history = -42`,
		`    prompt = "> "`,
		`    ratio = 0.5`,
		`}`,
		``,
	}, "\n")
	if got != want {
		t.Errorf("unexpected text:\n%s\nwant:\n%s", got, want)
	}
}
