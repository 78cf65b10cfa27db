package schema

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML schema document. Unknown fields are rejected.
func LoadYAML(name, filename string, data []byte) (*Schema, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Errors{{Source: filename, Message: "empty schema document"}}
		}
		return nil, Errors{{Source: filename, Message: err.Error()}}
	}

	s, err := New(name, &doc)
	if err != nil {
		return nil, withSource(err, filename)
	}
	s.Source = data
	return s, nil
}
