package evaluator

import (
	"math/big"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/civa-shell/irfc/pkg/value"
)

// env holds comprehension variables.
type env map[string]starlark.Value

func (e env) with(names []string, vals []starlark.Value) env {
	out := make(env, len(e)+len(names))
	for k, v := range e {
		out[k] = v
	}
	for i, name := range names {
		out[name] = vals[i]
	}
	return out
}

// step accounts for one unit of work and enforces the step limit and
// cancellation.
func (p *program) step(n syntax.Node) error {
	p.steps++
	if p.maxSteps > 0 && p.steps > p.maxSteps {
		return p.errorf(ForbiddenOperation, n, "evaluation exceeds %d steps", p.maxSteps)
	}
	if p.steps%4096 == 0 {
		if err := p.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// eval evaluates an expression already accepted by check.
func (p *program) eval(e syntax.Expr, locals env) (starlark.Value, error) {
	if err := p.step(e); err != nil {
		return nil, err
	}

	switch e := e.(type) {
	case *syntax.Ident:
		return p.evalIdent(e, locals)

	case *syntax.DotExpr:
		if path, ok := dottedPath(e); ok {
			if _, isLocal := locals[path[0]]; !isLocal {
				return p.lookup(path, e)
			}
		}
		x, err := p.eval(e.X, locals)
		if err != nil {
			return nil, err
		}
		return p.field(x, e.Name.Name, e)

	case *syntax.Literal:
		switch v := e.Value.(type) {
		case string:
			return starlark.String(v), nil
		case int64:
			return starlark.MakeInt64(v), nil
		case *big.Int:
			return starlark.MakeBigInt(v), nil
		case float64:
			return starlark.Float(v), nil
		default:
			return nil, p.errorf(SyntaxError, e, "unsupported literal %s", e.Raw)
		}

	case *syntax.ParenExpr:
		return p.eval(e.X, locals)

	case *syntax.ListExpr:
		items, err := p.evalAll(e.List, locals)
		if err != nil {
			return nil, err
		}
		return starlark.NewList(items), nil

	case *syntax.TupleExpr:
		items, err := p.evalAll(e.List, locals)
		if err != nil {
			return nil, err
		}
		return starlark.Tuple(items), nil

	case *syntax.DictExpr:
		dict := starlark.NewDict(len(e.List))
		for _, x := range e.List {
			entry := x.(*syntax.DictEntry)
			k, err := p.eval(entry.Key, locals)
			if err != nil {
				return nil, err
			}
			v, err := p.eval(entry.Value, locals)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(k, v); err != nil {
				return nil, p.errorf(TypeMismatch, entry, "%v", err)
			}
		}
		return dict, nil

	case *syntax.UnaryExpr:
		x, err := p.eval(e.X, locals)
		if err != nil {
			return nil, err
		}
		if e.Op != syntax.NOT {
			if err := p.noRef(e, x); err != nil {
				return nil, err
			}
		}
		v, err := starlark.Unary(e.Op, x)
		if err != nil {
			return nil, p.errorf(TypeMismatch, e, "%v", err)
		}
		return v, nil

	case *syntax.BinaryExpr:
		return p.evalBinary(e, locals)

	case *syntax.CondExpr:
		cond, err := p.eval(e.Cond, locals)
		if err != nil {
			return nil, err
		}
		if cond.Truth() {
			return p.eval(e.True, locals)
		}
		return p.eval(e.False, locals)

	case *syntax.IndexExpr:
		x, err := p.eval(e.X, locals)
		if err != nil {
			return nil, err
		}
		y, err := p.eval(e.Y, locals)
		if err != nil {
			return nil, err
		}
		return p.index(x, y, e)

	case *syntax.SliceExpr:
		return p.evalSlice(e, locals)

	case *syntax.Comprehension:
		return p.evalComprehension(e, locals)

	case *syntax.CallExpr:
		return p.evalCall(e, locals)

	default:
		return nil, p.errorf(SyntaxError, e, "unsupported expression")
	}
}

func (p *program) evalAll(exprs []syntax.Expr, locals env) ([]starlark.Value, error) {
	out := make([]starlark.Value, len(exprs))
	for i, x := range exprs {
		v, err := p.eval(x, locals)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *program) evalIdent(e *syntax.Ident, locals env) (starlark.Value, error) {
	if v, ok := locals[e.Name]; ok {
		return v, nil
	}
	if v, ok := constants[e.Name]; ok {
		return v, nil
	}
	path := value.Path{e.Name}
	for _, b := range p.bindings {
		if b.path.Overlaps(path) {
			return p.lookup(path, e)
		}
	}
	if fn, ok := builtins[e.Name]; ok {
		return fn, nil
	}
	return nil, p.errorf(UndefinedReference, e, "%s is not defined", e.Name)
}

// noRef rejects references used as operands.
func (p *program) noRef(n syntax.Node, operands ...starlark.Value) error {
	for _, x := range operands {
		if r, ok := x.(*refValue); ok {
			return p.errorf(TypeMismatch, n, "%s cannot be used in an expression; it is only resolved after merging", r)
		}
	}
	return nil
}

func (p *program) evalBinary(e *syntax.BinaryExpr, locals env) (starlark.Value, error) {
	x, err := p.eval(e.X, locals)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case syntax.AND:
		if !x.Truth() {
			return x, nil
		}
		return p.eval(e.Y, locals)
	case syntax.OR:
		if x.Truth() {
			return x, nil
		}
		return p.eval(e.Y, locals)
	}

	y, err := p.eval(e.Y, locals)
	if err != nil {
		return nil, err
	}
	if err := p.noRef(e, x, y); err != nil {
		return nil, err
	}

	switch e.Op {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE:
		ok, err := starlark.Compare(e.Op, x, y)
		if err != nil {
			return nil, p.errorf(TypeMismatch, e, "%v", err)
		}
		return starlark.Bool(ok), nil
	}

	v, err := starlark.Binary(e.Op, x, y)
	if err != nil {
		return nil, p.errorf(TypeMismatch, e, "%v", err)
	}
	if v == nil {
		return nil, p.errorf(TypeMismatch, e, "unsupported operation %s %s %s", x.Type(), e.Op, y.Type())
	}
	return v, nil
}

// field selects a key of a dict with dot syntax.
func (p *program) field(x starlark.Value, name string, n syntax.Node) (starlark.Value, error) {
	dict, ok := x.(*starlark.Dict)
	if !ok {
		return nil, p.errorf(TypeMismatch, n, "%s has no field %s", x.Type(), name)
	}
	v, found, err := dict.Get(starlark.String(name))
	if err != nil {
		return nil, p.errorf(TypeMismatch, n, "%v", err)
	}
	if !found {
		return nil, p.errorf(UndefinedReference, n, "no key %q", name)
	}
	return v, nil
}

func (p *program) index(x, y starlark.Value, n syntax.Node) (starlark.Value, error) {
	switch x := x.(type) {
	case starlark.Mapping:
		v, found, err := x.Get(y)
		if err != nil {
			return nil, p.errorf(TypeMismatch, n, "%v", err)
		}
		if !found {
			return nil, p.errorf(UndefinedReference, n, "no key %s", y)
		}
		return v, nil
	case starlark.Indexable:
		i, err := starlark.AsInt32(y)
		if err != nil {
			return nil, p.errorf(TypeMismatch, n, "%s index: %v", x.Type(), err)
		}
		length := x.Len()
		if i < 0 {
			i += length
		}
		if i < 0 || i >= length {
			return nil, p.errorf(TypeMismatch, n, "index %d out of range [0:%d]", i, length)
		}
		return x.Index(i), nil
	default:
		return nil, p.errorf(TypeMismatch, n, "%s is not indexable", x.Type())
	}
}

func (p *program) evalSlice(e *syntax.SliceExpr, locals env) (starlark.Value, error) {
	x, err := p.eval(e.X, locals)
	if err != nil {
		return nil, err
	}
	sliceable, ok := x.(starlark.Sliceable)
	if !ok {
		return nil, p.errorf(TypeMismatch, e, "%s cannot be sliced", x.Type())
	}

	bound := func(b syntax.Expr) (*int, error) {
		if b == nil {
			return nil, nil
		}
		v, err := p.eval(b, locals)
		if err != nil {
			return nil, err
		}
		if v == starlark.None {
			return nil, nil
		}
		i, err := starlark.AsInt32(v)
		if err != nil {
			return nil, p.errorf(TypeMismatch, b, "slice index: %v", err)
		}
		return &i, nil
	}

	lo, err := bound(e.Lo)
	if err != nil {
		return nil, err
	}
	hi, err := bound(e.Hi)
	if err != nil {
		return nil, err
	}
	stepPtr, err := bound(e.Step)
	if err != nil {
		return nil, err
	}

	n := sliceable.Len()
	step := 1
	if stepPtr != nil {
		step = *stepPtr
		if step == 0 {
			return nil, p.errorf(TypeMismatch, e, "zero is not a valid slice step")
		}
	}

	clamp := func(i, min, max int) int {
		if i < min {
			return min
		}
		if i > max {
			return max
		}
		return i
	}
	norm := func(ptr *int, def int) int {
		if ptr == nil {
			return def
		}
		if *ptr < 0 {
			return *ptr + n
		}
		return *ptr
	}

	var start, end int
	if step > 0 {
		start = clamp(norm(lo, 0), 0, n)
		end = clamp(norm(hi, n), 0, n)
		if end < start {
			end = start
		}
	} else {
		start = clamp(norm(lo, n-1), -1, n-1)
		end = clamp(norm(hi, -1), -1, n-1)
		if start < end {
			start = end
		}
	}
	return sliceable.Slice(start, end, step), nil
}

func (p *program) evalComprehension(e *syntax.Comprehension, locals env) (starlark.Value, error) {
	var list []starlark.Value
	var dict *starlark.Dict
	if e.Curly {
		dict = starlark.NewDict(0)
	}

	var emit func(i int, locals env) error
	emit = func(i int, locals env) error {
		if i == len(e.Clauses) {
			if dict != nil {
				entry := e.Body.(*syntax.DictEntry)
				k, err := p.eval(entry.Key, locals)
				if err != nil {
					return err
				}
				v, err := p.eval(entry.Value, locals)
				if err != nil {
					return err
				}
				if err := dict.SetKey(k, v); err != nil {
					return p.errorf(TypeMismatch, entry, "%v", err)
				}
				return nil
			}
			v, err := p.eval(e.Body, locals)
			if err != nil {
				return err
			}
			list = append(list, v)
			return nil
		}

		switch clause := e.Clauses[i].(type) {
		case *syntax.ForClause:
			x, err := p.eval(clause.X, locals)
			if err != nil {
				return err
			}
			iterable, ok := x.(starlark.Iterable)
			if !ok {
				return p.errorf(TypeMismatch, clause.X, "%s is not iterable", x.Type())
			}
			names, _ := targetNames(clause.Vars)

			iter := iterable.Iterate()
			defer iter.Done()
			var elem starlark.Value
			for iter.Next(&elem) {
				if err := p.step(clause); err != nil {
					return err
				}
				vals, err := p.unpack(clause.Vars, names, elem)
				if err != nil {
					return err
				}
				if err := emit(i+1, locals.with(names, vals)); err != nil {
					return err
				}
			}
			return nil

		case *syntax.IfClause:
			cond, err := p.eval(clause.Cond, locals)
			if err != nil {
				return err
			}
			if cond.Truth() {
				return emit(i+1, locals)
			}
			return nil
		}
		return p.errorf(SyntaxError, e, "unsupported comprehension clause")
	}

	if err := emit(0, locals); err != nil {
		return nil, err
	}
	if dict != nil {
		return dict, nil
	}
	return starlark.NewList(list), nil
}

// unpack matches elem against the comprehension target vars.
func (p *program) unpack(vars syntax.Expr, names []string, elem starlark.Value) ([]starlark.Value, error) {
	if len(names) == 1 {
		if _, isIdent := vars.(*syntax.Ident); isIdent {
			return []starlark.Value{elem}, nil
		}
	}
	seq, ok := elem.(starlark.Indexable)
	if !ok || seq.Len() != len(names) {
		return nil, p.errorf(TypeMismatch, vars, "cannot unpack %s into %d variables", elem.Type(), len(names))
	}
	vals := make([]starlark.Value, len(names))
	for i := range vals {
		vals[i] = seq.Index(i)
	}
	return vals, nil
}

func (p *program) evalCall(e *syntax.CallExpr, locals env) (starlark.Value, error) {
	name := e.Fn.(*syntax.Ident).Name
	if name == "ref" {
		target, err := refTarget(e)
		if err != nil {
			return nil, p.errorf(SyntaxError, e, "%v", err)
		}
		pos := nodePos(e)
		return &refValue{ref: value.Reference{
			Target: target,
			Source: p.source,
			Line:   pos.Line,
			Column: pos.Column,
		}}, nil
	}

	var args starlark.Tuple
	var kwargs []starlark.Tuple
	for _, arg := range e.Args {
		if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
			v, err := p.eval(kw.Y, locals)
			if err != nil {
				return nil, err
			}
			kwargs = append(kwargs, starlark.Tuple{starlark.String(kw.X.(*syntax.Ident).Name), v})
			continue
		}
		v, err := p.eval(arg, locals)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if err := p.noRef(e, args...); err != nil {
		return nil, err
	}

	result, err := starlark.Call(p.thread, builtins[name], args, kwargs)
	if err != nil {
		return nil, p.errorf(builtinErrorKind(err), e, "%v", err)
	}
	return result, nil
}
