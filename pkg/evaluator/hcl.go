package evaluator

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

// HCLFrontend evaluates HCL bodies. Attributes become keys; a block
// `type "a" "b" { ... }` becomes the table at type.a.b. Expressions are
// evaluated without variables or functions, except that an attribute whose
// whole value is ref("path") is a reference.
type HCLFrontend struct{}

// NewHCLFrontend creates the HCL frontend.
func NewHCLFrontend() *HCLFrontend {
	return &HCLFrontend{}
}

// Name implements Frontend.
func (f *HCLFrontend) Name() string { return "hcl" }

// Extensions implements Frontend.
func (f *HCLFrontend) Extensions() []string { return []string{".hcl"} }

// Evaluate implements Frontend.
func (f *HCLFrontend) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	file, diags := hclsyntax.ParseConfig(src.Content, src.Rel, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, hclErrors(src.Rel, SyntaxError, diags)
	}

	c := &hclConverter{source: src.Rel, tree: NewTree(src.Rel, f.Name())}
	c.body(c.tree.Root, file.Body.(*hclsyntax.Body), nil)
	if len(c.errs) > 0 {
		return nil, c.errs.err()
	}
	return c.tree, nil
}

func hclErrors(source string, kind Kind, diags hcl.Diagnostics) Errors {
	var errs Errors
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		e := &Error{Kind: kind, Source: source, Message: d.Summary}
		if d.Detail != "" {
			e.Message += ": " + d.Detail
		}
		if d.Subject != nil {
			e.Line = d.Subject.Start.Line
			e.Column = d.Subject.Start.Column
		}
		errs = append(errs, e)
	}
	return errs
}

type hclConverter struct {
	source string
	tree   *Tree
	errs   Errors
}

func (c *hclConverter) report(kind Kind, rng hcl.Range, format string, args ...interface{}) {
	c.errs = append(c.errs, &Error{
		Kind:    kind,
		Source:  c.source,
		Line:    rng.Start.Line,
		Column:  rng.Start.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

func (c *hclConverter) body(t *value.Table, body *hclsyntax.Body, path value.Path) {
	attrs := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, attr := range body.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].SrcRange.Start.Byte < attrs[j].SrcRange.Start.Byte
	})

	for _, attr := range attrs {
		p := path.Child(attr.Name)
		v, ok := c.attribute(attr)
		if !ok {
			continue
		}
		t.Set(attr.Name, v)
		c.tree.Declare(p, hclPos(attr.NameRange))
	}

	for _, block := range body.Blocks {
		p := path.Child(block.Type)
		for _, label := range block.Labels {
			p = p.Child(label)
		}

		target, ok := c.blockTable(t, p, len(path), block)
		if !ok {
			continue
		}
		c.tree.Declare(p, hclPos(block.TypeRange))
		c.body(target, block.Body, p)
	}
}

// blockTable returns the table for the block at full, whose keys from depth
// on live below t, creating intermediate tables. Repeated blocks share a
// table.
func (c *hclConverter) blockTable(t *value.Table, full value.Path, depth int, block *hclsyntax.Block) (*value.Table, bool) {
	cur := t
	for i := depth; i < len(full); i++ {
		key := full[i]
		existing, ok := cur.Get(key)
		if !ok {
			next := value.NewTable()
			cur.Set(key, value.FromTable(next))
			cur = next
			continue
		}
		next, ok := existing.AsTable()
		if !ok {
			c.report(TypeMismatch, block.TypeRange, "block %s conflicts with attribute %s", full, full[:i+1])
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (c *hclConverter) attribute(attr *hclsyntax.Attribute) (value.Value, bool) {
	if call, ok := attr.Expr.(*hclsyntax.FunctionCallExpr); ok && call.Name == "ref" {
		return c.ref(call)
	}

	before := len(c.errs)
	hclsyntax.VisitAll(attr.Expr, func(n hclsyntax.Node) hcl.Diagnostics {
		switch n := n.(type) {
		case *hclsyntax.FunctionCallExpr:
			c.report(ForbiddenOperation, n.NameRange, "call to %s is not allowed", n.Name)
		case *hclsyntax.ScopeTraversalExpr:
			c.report(UndefinedReference, n.SrcRange, "variable %s is not defined; use ref(\"...\") to refer to other keys", n.Traversal.RootName())
		}
		return nil
	})
	if len(c.errs) > before {
		return value.Value{}, false
	}

	cv, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		c.errs = append(c.errs, hclErrors(c.source, TypeMismatch, diags)...)
		return value.Value{}, false
	}
	v, err := ctyValue(cv)
	if err != nil {
		c.report(TypeMismatch, attr.Expr.Range(), "%s: %v", attr.Name, err)
		return value.Value{}, false
	}
	return v, true
}

func (c *hclConverter) ref(call *hclsyntax.FunctionCallExpr) (value.Value, bool) {
	if len(call.Args) != 1 {
		c.report(SyntaxError, call.NameRange, "ref takes exactly one argument, got %d", len(call.Args))
		return value.Value{}, false
	}
	arg, diags := call.Args[0].Value(nil)
	if diags.HasErrors() || arg.IsNull() || arg.Type() != cty.String {
		c.report(SyntaxError, call.Args[0].Range(), "ref expects a literal string path")
		return value.Value{}, false
	}
	target, err := value.ParsePath(arg.AsString())
	if err != nil {
		c.report(SyntaxError, call.Args[0].Range(), "invalid reference: %v", err)
		return value.Value{}, false
	}
	pos := hclPos(call.NameRange)
	return value.Ref(value.Reference{
		Target: target,
		Source: c.source,
		Line:   pos.Line,
		Column: pos.Column,
	}), true
}

func hclPos(rng hcl.Range) Position {
	return Position{Line: rng.Start.Line, Column: rng.Start.Column}
}

// ctyValue converts a fully known cty value. Object and map keys are
// inserted in sorted order.
func ctyValue(v cty.Value) (value.Value, error) {
	if v.IsNull() {
		return value.Null(), nil
	}
	if !v.IsWhollyKnown() {
		return value.Value{}, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return value.String(v.AsString()), nil
	case ty == cty.Bool:
		return value.Bool(v.True()), nil
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return value.Int(i), nil
			}
			return value.Value{}, fmt.Errorf("integer %s does not fit in 64 bits", bf.Text('f', -1))
		}
		f, _ := bf.Float64()
		return value.Float(f), nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		elems := v.AsValueSlice()
		items := make([]value.Value, len(elems))
		for i, elem := range elems {
			item, err := ctyValue(elem)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = item
		}
		return value.List(items...), nil
	case ty.IsObjectType() || ty.IsMapType():
		m := v.AsValueMap()
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := value.NewTable()
		for _, k := range keys {
			entry, err := ctyValue(m[k])
			if err != nil {
				return value.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			t.Set(k, entry)
		}
		return value.FromTable(t), nil
	default:
		return value.Value{}, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
