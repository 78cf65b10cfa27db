package merger

import (
	"fmt"

	"github.com/civa-shell/irfc/pkg/graph"
	"github.com/civa-shell/irfc/pkg/value"
)

// segment is one step from a table to a nested value: a key, or a list
// index when index >= 0.
type segment struct {
	key   string
	index int
}

// site is one Ref value found in the tree.
type site struct {
	id   string
	segs []segment

	// keyPath is the table path holding the ref, or holding the outermost
	// list that contains it.
	keyPath value.Path
	inList  bool

	ref *value.Reference
}

// dependsOn reports whether resolving s requires d to be resolved first:
// d lives at or below the target of s, or d sits on the way to it.
func (s *site) dependsOn(d *site) bool {
	if d.keyPath.HasPrefix(s.ref.Target) {
		return true
	}
	return !d.inList && s.ref.Target.HasPrefix(d.keyPath)
}

// Resolve returns a copy of root in which every Ref is replaced by a deep copy
// of its target. Refs may point at other refs; they are resolved in
// dependency order. Missing targets and cycles are reported together.
func Resolve(root *value.Table) (*value.Table, error) {
	out, _, err := resolve(root)
	return out, err
}

// resolve is Resolve that also returns the dependency graph of the refs,
// keyed by the path holding each ref.
func resolve(root *value.Table) (*value.Table, *graph.Graph, error) {
	out := root.Clone()
	sites := collect(out)
	g := graph.New()
	if len(sites) == 0 {
		return out, g, nil
	}

	byID := make(map[string]*site, len(sites))
	for _, s := range sites {
		g.AddNode(s.id)
		byID[s.id] = s
	}

	var errs Errors
	for _, s := range sites {
		if !reachable(out, s.ref.Target) {
			errs = append(errs, unresolved(s))
			continue
		}
		for _, d := range sites {
			if s.dependsOn(d) {
				g.AddEdge(s.id, d.id)
			}
		}
	}

	for _, cycle := range g.FindCycles() {
		first := byID[cycle[0]]
		errs = append(errs, &Error{
			Kind:    CyclicReference,
			KeyPath: first.id,
			Target:  first.ref.Target.String(),
			Cycle:   cycle,
			Source:  first.ref.Source,
			Line:    first.ref.Line,
			Column:  first.ref.Column,
		})
	}
	if len(errs) > 0 {
		return nil, nil, errs.err()
	}

	order, err := g.Order()
	if err != nil {
		return nil, nil, err
	}

	failed := make(map[string]bool)
	for _, id := range order {
		s := byID[id]
		blocked := false
		for _, dep := range g.Dependencies(id) {
			if failed[dep] {
				blocked = true
				break
			}
		}
		if blocked {
			failed[id] = true
			continue
		}

		target, ok := value.Lookup(out, s.ref.Target)
		if !ok {
			failed[id] = true
			errs = append(errs, unresolved(s))
			continue
		}
		setAt(out, s.segs, target.Clone())
	}

	if err := errs.err(); err != nil {
		return nil, nil, err
	}
	return out, g, nil
}

// collect returns every Ref below root, in canonical key order.
func collect(root *value.Table) []*site {
	var sites []*site

	var visit func(v value.Value, id string, segs []segment, keyPath value.Path, inList bool)
	visit = func(v value.Value, id string, segs []segment, keyPath value.Path, inList bool) {
		switch v.Kind() {
		case value.KindRef:
			r, _ := v.AsRef()
			sites = append(sites, &site{
				id:      id,
				segs:    append([]segment(nil), segs...),
				keyPath: keyPath,
				inList:  inList,
				ref:     r,
			})
		case value.KindTable:
			t, _ := v.AsTable()
			for _, k := range t.SortedKeys() {
				child, _ := t.Get(k)
				kp := keyPath
				if !inList {
					kp = keyPath.Child(k)
				}
				visit(child, joinKey(id, k), append(segs, segment{key: k, index: -1}), kp, inList)
			}
		case value.KindList:
			items, _ := v.AsList()
			for i, item := range items {
				visit(item, fmt.Sprintf("%s[%d]", id, i), append(segs, segment{index: i}), keyPath, true)
			}
		}
	}

	visit(value.FromTable(root), "", nil, nil, false)
	return sites
}

func joinKey(id, key string) string {
	k := value.Path{key}.String()
	if id == "" {
		return k
	}
	return id + "." + k
}

// reachable reports whether target exists in root, or may exist once a ref
// on the way to it has been resolved.
func reachable(root *value.Table, target value.Path) bool {
	cur := value.FromTable(root)
	for _, seg := range target {
		if cur.Kind() == value.KindRef {
			return true
		}
		t, ok := cur.AsTable()
		if !ok {
			return false
		}
		if cur, ok = t.Get(seg); !ok {
			return false
		}
	}
	return true
}

// setAt replaces the value addressed by segs. Tables on the way are updated
// in place, so root must be owned by the caller; lists are rebuilt.
func setAt(root *value.Table, segs []segment, v value.Value) {
	replace(value.FromTable(root), segs, v)
}

func replace(cur value.Value, segs []segment, v value.Value) value.Value {
	if len(segs) == 0 {
		return v
	}
	seg := segs[0]
	if seg.index >= 0 {
		items, _ := cur.AsList()
		next := make([]value.Value, len(items))
		copy(next, items)
		next[seg.index] = replace(items[seg.index], segs[1:], v)
		return value.List(next...)
	}
	t, _ := cur.AsTable()
	child, _ := t.Get(seg.key)
	t.Set(seg.key, replace(child, segs[1:], v))
	return cur
}
