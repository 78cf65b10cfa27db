package irf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"github.com/civa-shell/irfc/pkg/value"
)

// maxDepth bounds nesting so corrupt input cannot exhaust the stack.
const maxDepth = 1000

// Decode parses and verifies an IRF. Anything but the canonical encoding of
// a table is rejected: bad magic, an unknown version, a fingerprint mismatch,
// unsorted or duplicate keys, non-canonical NaNs, invalid UTF-8 and trailing
// bytes.
func Decode(data []byte) (*IRF, error) {
	if len(data) < 4 || string(data[:4]) != Magic {
		return nil, &Error{Kind: BadMagic, Message: "not an IRF file"}
	}
	if len(data) < HeaderSize {
		return nil, &Error{Kind: Malformed, Message: "truncated header"}
	}

	f := &IRF{Version: binary.BigEndian.Uint32(data[4:8])}
	if f.Version != Version {
		return nil, &Error{Kind: UnsupportedVersion, Message: fmt.Sprintf("version %d, want %d", f.Version, Version)}
	}
	copy(f.Fingerprint[:], data[8:HeaderSize])

	body := data[HeaderSize:]
	if sum := blake2b.Sum256(body); !bytes.Equal(sum[:], f.Fingerprint[:]) {
		return nil, &Error{Kind: FingerprintMismatch, Message: "body does not match header fingerprint"}
	}

	d := &decoder{buf: body}
	root, err := d.value("", 0)
	if err != nil {
		return nil, err
	}
	t, ok := root.AsTable()
	if !ok {
		return nil, d.fail("root is a %s, not a table", root.Kind())
	}
	if d.off != len(body) {
		return nil, d.fail("%d trailing bytes", len(body)-d.off)
	}
	f.Root = t
	return f, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) fail(format string, args ...interface{}) *Error {
	return &Error{Kind: Malformed, Offset: d.off, Message: fmt.Sprintf(format, args...)}
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.off < n {
		return nil, d.fail("unexpected end of body")
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u32() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	// Every item occupies at least one byte.
	if int64(n) > int64(len(d.buf)-d.off) {
		return 0, d.fail("count %d exceeds remaining %d bytes", n, len(d.buf)-d.off)
	}
	return int(n), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	b, err := d.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", d.fail("invalid UTF-8 string")
	}
	return string(b), nil
}

func (d *decoder) value(path string, depth int) (value.Value, error) {
	if depth > maxDepth {
		return value.Value{}, d.fail("nesting deeper than %d", maxDepth)
	}
	tag, err := d.take(1)
	if err != nil {
		return value.Value{}, err
	}

	switch tag[0] {
	case tagNull:
		return value.Null(), nil
	case tagBool:
		b, err := d.take(1)
		if err != nil {
			return value.Value{}, err
		}
		if b[0] > 1 {
			return value.Value{}, d.fail("invalid bool byte %d", b[0])
		}
		return value.Bool(b[0] == 1), nil
	case tagInt:
		b, err := d.take(8)
		if err != nil {
			return value.Value{}, err
		}
		return value.Int(int64(binary.BigEndian.Uint64(b))), nil
	case tagFloat:
		b, err := d.take(8)
		if err != nil {
			return value.Value{}, err
		}
		bits := binary.BigEndian.Uint64(b)
		f := math.Float64frombits(bits)
		if math.IsNaN(f) && bits != canonicalNaN {
			return value.Value{}, d.fail("non-canonical NaN")
		}
		return value.Float(f), nil
	case tagString:
		s, err := d.str()
		if err != nil {
			return value.Value{}, err
		}
		return value.String(s), nil
	case tagList:
		n, err := d.u32()
		if err != nil {
			return value.Value{}, err
		}
		items := make([]value.Value, n)
		for i := range items {
			if items[i], err = d.value(childIndex(path, i), depth+1); err != nil {
				return value.Value{}, err
			}
		}
		return value.List(items...), nil
	case tagTable:
		n, err := d.u32()
		if err != nil {
			return value.Value{}, err
		}
		t := value.NewTable()
		prev := ""
		for i := 0; i < n; i++ {
			k, err := d.str()
			if err != nil {
				return value.Value{}, err
			}
			if i > 0 && k <= prev {
				return value.Value{}, d.fail("key %q of table %q is out of order or duplicate", k, path)
			}
			v, err := d.value(childKey(path, k), depth+1)
			if err != nil {
				return value.Value{}, err
			}
			t.Set(k, v)
			prev = k
		}
		return value.FromTable(t), nil
	default:
		return value.Value{}, d.fail("unknown tag %d", tag[0])
	}
}

func childKey(path, key string) string {
	seg := value.Path{key}.String()
	if path == "" {
		return seg
	}
	return path + "." + seg
}

func childIndex(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}
