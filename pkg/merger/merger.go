// Package merger folds per-source value trees into the canonical tree.
//
// The fold is left to right in locator order. Where both sides hold a table
// the tables merge key by key; in every other case the later value replaces
// the earlier one, so lists and scalars never combine. Symbolic references
// are resolved once, against the fully merged tree.
package merger

import (
	"context"

	"github.com/civa-shell/irfc/pkg/evaluator"
	"github.com/civa-shell/irfc/pkg/graph"
	"github.com/civa-shell/irfc/pkg/value"
)

// Result is the canonical tree of one compilation run.
type Result struct {
	// Root is the merged table with every reference resolved.
	Root *value.Table

	// Provenance attributes paths of Root to the sources that declared them.
	Provenance *Provenance

	// Sources lists the merged sources in precedence order.
	Sources []string

	// Refs is the dependency graph of the references in the merged tree. A
	// ref depends on the refs its target contains or passes through.
	Refs *graph.Graph
}

// MergeTables returns b layered over a. Neither argument is modified.
func MergeTables(a, b *value.Table) *value.Table {
	out := a.Clone()
	mergeInto(out, b)
	return out
}

func mergeInto(dst, src *value.Table) {
	for _, k := range src.Keys() {
		sv, _ := src.Get(k)
		if dv, ok := dst.Get(k); ok {
			dt, dok := dv.AsTable()
			st, sok := sv.AsTable()
			if dok && sok {
				mergeInto(dt, st)
				continue
			}
		}
		dst.Set(k, sv.Clone())
	}
}

// Merge folds trees in order and resolves references in the result. The
// context is checked between trees.
func Merge(ctx context.Context, trees []*evaluator.Tree) (*Result, error) {
	res := &Result{
		Root:       value.NewTable(),
		Provenance: NewProvenance(),
		Sources:    make([]string, 0, len(trees)),
	}

	for _, tree := range trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mergeInto(res.Root, tree.Root)
		record(res.Provenance, tree)
		res.Sources = append(res.Sources, tree.Source)
	}

	root, refs, err := resolve(res.Root)
	if err != nil {
		return nil, err
	}
	res.Root = root
	res.Refs = refs
	return res, nil
}

func record(p *Provenance, tree *evaluator.Tree) {
	value.Walk(tree.Root, func(path value.Path, _ value.Value) bool {
		o := Origin{Source: tree.Source}
		if pos, ok := tree.Position(path); ok {
			o.Line, o.Column = pos.Line, pos.Column
		}
		p.Record(path, o)
		return true
	})
}
