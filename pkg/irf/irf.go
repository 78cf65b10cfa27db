// Package irf encodes canonical configuration trees into the Intermediate
// Representation File read by the civa shell at startup.
//
// Layout, version 1:
//
//	magic        4 bytes   "IRF1"
//	version      u32       big-endian
//	fingerprint  32 bytes  BLAKE2b-256 of body
//	body         value     the root table
//
// A value is a tag byte followed by its payload:
//
//	0 null
//	1 bool     1 byte, 0 or 1
//	2 integer  8 bytes, big-endian two's complement
//	3 float    8 bytes, IEEE-754 bits big-endian, NaN canonicalized
//	4 string   u32 length, UTF-8 bytes
//	5 list     u32 count, items
//	6 table    u32 count, (u32 key length, key bytes, value) in byte-wise
//	           ascending key order
//
// The encoding is a pure function of the tree: equal trees produce equal
// bytes and there are no timestamps.
package irf

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/civa-shell/irfc/pkg/value"
)

const (
	// Magic starts every IRF.
	Magic = "IRF1"

	// Version is the format version written by this package.
	Version uint32 = 1

	// HeaderSize is the size of magic, version and fingerprint.
	HeaderSize = 4 + 4 + blake2b.Size256
)

const (
	tagNull   byte = 0
	tagBool   byte = 1
	tagInt    byte = 2
	tagFloat  byte = 3
	tagString byte = 4
	tagList   byte = 5
	tagTable  byte = 6
)

const canonicalNaN = 0x7ff8000000000000

// IRF is a decoded file.
type IRF struct {
	Version     uint32
	Fingerprint [blake2b.Size256]byte
	Root        *value.Table
}

// FingerprintHex returns the fingerprint as lowercase hex.
func (f *IRF) FingerprintHex() string {
	return hex.EncodeToString(f.Fingerprint[:])
}

// Marshal encodes root. It fails with UnresolvedRef if the tree still holds
// a reference.
func Marshal(root *value.Table) ([]byte, error) {
	enc := &encoder{}
	if err := enc.table("", root); err != nil {
		return nil, err
	}
	body := enc.buf.Bytes()
	sum := blake2b.Sum256(body)

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, Magic...)
	out = binary.BigEndian.AppendUint32(out, Version)
	out = append(out, sum[:]...)
	out = append(out, body...)
	return out, nil
}

// Encode writes the encoding of root to w.
func Encode(w io.Writer, root *value.Table) error {
	data, err := Marshal(root)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return &Error{Kind: IOFailure, Message: "write", Err: err}
	}
	return nil
}

// Fingerprint returns the hex fingerprint root would be written with.
func Fingerprint(root *value.Table) (string, error) {
	data, err := Marshal(root)
	if err != nil {
		return "", err
	}
	return fingerprintOf(data), nil
}

func fingerprintOf(data []byte) string {
	return hex.EncodeToString(data[8:HeaderSize])
}

type encoder struct {
	buf bytes.Buffer
	tmp [8]byte
}

func (e *encoder) u32(n int) {
	binary.BigEndian.PutUint32(e.tmp[:4], uint32(n))
	e.buf.Write(e.tmp[:4])
}

func (e *encoder) u64(n uint64) {
	binary.BigEndian.PutUint64(e.tmp[:8], n)
	e.buf.Write(e.tmp[:8])
}

func (e *encoder) str(s string) {
	e.u32(len(s))
	e.buf.WriteString(s)
}

func (e *encoder) table(path string, t *value.Table) error {
	e.buf.WriteByte(tagTable)
	keys := t.SortedKeys()
	e.u32(len(keys))
	for _, k := range keys {
		e.str(k)
		v, _ := t.Get(k)
		if err := e.value(childKey(path, k), v); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) value(path string, v value.Value) error {
	switch v.Kind() {
	case value.KindNull:
		e.buf.WriteByte(tagNull)
	case value.KindBool:
		b, _ := v.AsBool()
		e.buf.WriteByte(tagBool)
		if b {
			e.buf.WriteByte(1)
		} else {
			e.buf.WriteByte(0)
		}
	case value.KindInt:
		i, _ := v.AsInt()
		e.buf.WriteByte(tagInt)
		e.u64(uint64(i))
	case value.KindFloat:
		f, _ := v.AsFloat()
		bits := math.Float64bits(f)
		if math.IsNaN(f) {
			bits = canonicalNaN
		}
		e.buf.WriteByte(tagFloat)
		e.u64(bits)
	case value.KindString:
		s, _ := v.AsString()
		e.buf.WriteByte(tagString)
		e.str(s)
	case value.KindList:
		items, _ := v.AsList()
		e.buf.WriteByte(tagList)
		e.u32(len(items))
		for i, item := range items {
			if err := e.value(childIndex(path, i), item); err != nil {
				return err
			}
		}
	case value.KindTable:
		t, _ := v.AsTable()
		return e.table(path, t)
	default:
		r, _ := v.AsRef()
		return &Error{
			Kind:    UnresolvedRef,
			Path:    path,
			Message: "reference to " + r.Target.String() + " was not resolved",
		}
	}
	return nil
}
