package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

// TOMLFrontend evaluates TOML documents. TOML has no reference syntax.
type TOMLFrontend struct{}

// NewTOMLFrontend creates the TOML frontend.
func NewTOMLFrontend() *TOMLFrontend {
	return &TOMLFrontend{}
}

// Name implements Frontend.
func (f *TOMLFrontend) Name() string { return "toml" }

// Extensions implements Frontend.
func (f *TOMLFrontend) Extensions() []string { return []string{".toml"} }

// Evaluate implements Frontend.
func (f *TOMLFrontend) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(src.Content, &doc); err != nil {
		e := &Error{Kind: SyntaxError, Source: src.Rel, Message: err.Error()}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			e.Line, e.Column = derr.Position()
		}
		return nil, e
	}

	tree := NewTree(src.Rel, f.Name())
	root, err := tomlValue(doc)
	if err != nil {
		return nil, &Error{Kind: TypeMismatch, Source: src.Rel, Message: err.Error()}
	}
	if t, ok := root.AsTable(); ok {
		tree.Root = t
	}
	return tree, nil
}

// tomlValue converts decoded TOML data. Tables are inserted in sorted key
// order; datetimes become RFC 3339 strings.
func tomlValue(x interface{}) (value.Value, error) {
	switch v := x.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := value.NewTable()
		for _, k := range keys {
			entry, err := tomlValue(v[k])
			if err != nil {
				return value.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			t.Set(k, entry)
		}
		return value.FromTable(t), nil
	case []interface{}:
		items := make([]value.Value, len(v))
		for i, item := range v {
			entry, err := tomlValue(item)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = entry
		}
		return value.List(items...), nil
	case time.Time:
		return value.String(v.Format(time.RFC3339Nano)), nil
	case toml.LocalDate:
		return value.String(v.String()), nil
	case toml.LocalTime:
		return value.String(v.String()), nil
	case toml.LocalDateTime:
		return value.String(v.String()), nil
	default:
		return value.FromGo(x)
	}
}
