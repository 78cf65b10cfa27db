package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

// RefTag marks a YAML scalar as a reference, e.g. `theme: !ref defaults.theme`.
const RefTag = "!ref"

// maxAliasDepth bounds alias expansion.
const maxAliasDepth = 64

// defaultMaxNodes bounds the values built from one YAML source, counting
// every alias expansion.
const defaultMaxNodes = 1_000_000

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// YAMLFrontend evaluates YAML mappings.
type YAMLFrontend struct {
	maxNodes int
}

// NewYAMLFrontend creates the YAML frontend.
func NewYAMLFrontend() *YAMLFrontend {
	return &YAMLFrontend{maxNodes: defaultMaxNodes}
}

// WithMaxNodes returns a copy of f with a different expansion limit.
func (f *YAMLFrontend) WithMaxNodes(n int) *YAMLFrontend {
	return &YAMLFrontend{maxNodes: n}
}

// Name implements Frontend.
func (f *YAMLFrontend) Name() string { return "yaml" }

// Extensions implements Frontend.
func (f *YAMLFrontend) Extensions() []string { return []string{".yaml", ".yml"} }

// Evaluate implements Frontend.
func (f *YAMLFrontend) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	tree := NewTree(src.Rel, f.Name())

	dec := yaml.NewDecoder(bytes.NewReader(src.Content))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return tree, nil
		}
		return nil, yamlError(src.Rel, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		line := extra.Line
		if err != nil {
			return nil, yamlError(src.Rel, err)
		}
		return nil, &Error{
			Kind:    SyntaxError,
			Source:  src.Rel,
			Line:    line,
			Message: "multiple YAML documents in one source",
		}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return tree, nil
		}
		root = root.Content[0]
	}
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return tree, nil
	}

	c := &yamlConverter{ctx: ctx, source: src.Rel, tree: tree, maxNodes: f.maxNodes}
	rv := c.convert(root, nil, 0)
	if c.halt != nil {
		return nil, c.halt
	}
	if len(c.errs) > 0 {
		return nil, c.errs.err()
	}
	t, ok := rv.AsTable()
	if !ok {
		return nil, &Error{
			Kind:    TypeMismatch,
			Source:  src.Rel,
			Line:    root.Line,
			Column:  root.Column,
			Message: fmt.Sprintf("top level must be a mapping, got %s", rv.Kind()),
		}
	}
	tree.Root = t
	return tree, nil
}

func yamlError(source string, err error) *Error {
	e := &Error{Kind: SyntaxError, Source: source, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
	if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
		e.Line, _ = strconv.Atoi(m[1])
	}
	return e
}

type yamlConverter struct {
	ctx    context.Context
	source string
	tree   *Tree
	errs   Errors

	maxNodes int
	nodes    int

	// halt stops the conversion: the expansion limit was hit or ctx is done.
	halt error
}

// step accounts for one converted node. It returns false once the
// conversion must stop.
func (c *yamlConverter) step(n *yaml.Node) bool {
	if c.halt != nil {
		return false
	}
	c.nodes++
	if c.maxNodes > 0 && c.nodes > c.maxNodes {
		c.halt = &Error{
			Kind:    ForbiddenOperation,
			Source:  c.source,
			Line:    n.Line,
			Column:  n.Column,
			Message: fmt.Sprintf("alias expansion exceeds %d values", c.maxNodes),
		}
		return false
	}
	if c.nodes%4096 == 0 {
		if err := c.ctx.Err(); err != nil {
			c.halt = err
			return false
		}
	}
	return true
}

func (c *yamlConverter) report(kind Kind, n *yaml.Node, format string, args ...interface{}) value.Value {
	c.errs = append(c.errs, &Error{
		Kind:    kind,
		Source:  c.source,
		Line:    n.Line,
		Column:  n.Column,
		Message: fmt.Sprintf(format, args...),
	})
	return value.Null()
}

func (c *yamlConverter) convert(n *yaml.Node, path value.Path, depth int) value.Value {
	if !c.step(n) {
		return value.Null()
	}
	if path != nil {
		c.tree.Declare(path, Position{Line: n.Line, Column: n.Column})
	}

	switch n.Kind {
	case yaml.AliasNode:
		if depth >= maxAliasDepth {
			return c.report(SyntaxError, n, "alias *%s nests too deeply", n.Value)
		}
		return c.convert(n.Alias, path, depth+1)

	case yaml.MappingNode:
		t := value.NewTable()
		c.mapping(t, n, path, depth, make(map[string]bool))
		return value.FromTable(t)

	case yaml.SequenceNode:
		items := make([]value.Value, len(n.Content))
		for i, item := range n.Content {
			items[i] = c.convert(item, nil, depth)
		}
		return value.List(items...)

	case yaml.ScalarNode:
		return c.scalar(n)

	default:
		return c.report(SyntaxError, n, "unexpected YAML node")
	}
}

// mapping fills t from n. Merge keys are applied first so that explicit keys
// take precedence regardless of position.
func (c *yamlConverter) mapping(t *value.Table, n *yaml.Node, path value.Path, depth int, seen map[string]bool) {
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind == yaml.ScalarNode && k.ShortTag() == "!!merge" {
			c.merge(t, v, path, depth)
		}
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			c.report(TypeMismatch, k, "mapping keys must be scalars")
			continue
		}
		if k.ShortTag() == "!!merge" {
			continue
		}
		if seen[k.Value] {
			c.report(SyntaxError, k, "duplicate key %q", k.Value)
			continue
		}
		seen[k.Value] = true
		t.Set(k.Value, c.convert(v, path.Child(k.Value), depth))
	}
}

func (c *yamlConverter) merge(t *value.Table, v *yaml.Node, path value.Path, depth int) {
	if !c.step(v) {
		return
	}
	if depth >= maxAliasDepth {
		c.report(SyntaxError, v, "merge nests too deeply")
		return
	}
	switch v.Kind {
	case yaml.AliasNode:
		c.merge(t, v.Alias, path, depth+1)
	case yaml.MappingNode:
		src := value.NewTable()
		c.mapping(src, v, path, depth+1, make(map[string]bool))
		for _, k := range src.Keys() {
			entry, _ := src.Get(k)
			t.Set(k, entry)
		}
	case yaml.SequenceNode:
		// Earlier mappings in the sequence take precedence.
		for i := len(v.Content) - 1; i >= 0; i-- {
			c.merge(t, v.Content[i], path, depth)
		}
	default:
		c.report(TypeMismatch, v, "merge value must be a mapping or a sequence of mappings")
	}
}

func (c *yamlConverter) scalar(n *yaml.Node) value.Value {
	switch n.ShortTag() {
	case RefTag:
		target, err := value.ParsePath(n.Value)
		if err != nil {
			return c.report(SyntaxError, n, "invalid reference %q: %v", n.Value, err)
		}
		return value.Ref(value.Reference{
			Target: target,
			Source: c.source,
			Line:   n.Line,
			Column: n.Column,
		})
	case "!!null":
		return value.Null()
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return c.report(TypeMismatch, n, "%v", err)
		}
		return value.Bool(b)
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return c.report(TypeMismatch, n, "integer %s does not fit in 64 bits", n.Value)
		}
		return value.Int(i)
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return c.report(TypeMismatch, n, "%v", err)
		}
		return value.Float(f)
	case "!!str", "!!timestamp", "!!binary":
		return value.String(n.Value)
	default:
		return c.report(TypeMismatch, n, "unsupported tag %s", n.Tag)
	}
}
