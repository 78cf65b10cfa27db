package irf

import (
	"os"
	"path/filepath"

	"github.com/civa-shell/irfc/pkg/value"
)

// WriteFile encodes root and replaces path atomically: the data is written
// to a temporary file in the same directory, synced and renamed over path.
// Readers see either the old file or the complete new one. It returns the
// hex fingerprint of the written file.
func WriteFile(path string, root *value.Table) (string, error) {
	data, err := Marshal(root)
	if err != nil {
		return "", err
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return "", &Error{Kind: IOFailure, Path: path, Message: "create temporary file", Err: err}
	}
	tmpName := tmp.Name()

	fail := func(msg string, err error) (string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", &Error{Kind: IOFailure, Path: path, Message: msg, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &Error{Kind: IOFailure, Path: path, Message: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", &Error{Kind: IOFailure, Path: path, Message: "rename", Err: err}
	}

	return fingerprintOf(data), nil
}

// ReadFile reads and decodes the IRF at path.
func ReadFile(path string) (*IRF, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: IOFailure, Path: path, Message: "read", Err: err}
	}
	return Decode(data)
}
