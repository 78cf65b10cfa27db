package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/civa-shell/irfc/pkg/graph"
	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

// defaultMaxSteps bounds the work done while evaluating one .cfg source.
const defaultMaxSteps = 10_000_000

// constants are the predeclared names that cannot be rebound.
var constants = map[string]starlark.Value{
	"True":  starlark.True,
	"False": starlark.False,
	"None":  starlark.None,
}

// CfgFrontend evaluates the declarative Starlark subset used by .cfg files.
type CfgFrontend struct {
	maxSteps int
}

// NewCfgFrontend creates the .cfg frontend.
func NewCfgFrontend() *CfgFrontend {
	return &CfgFrontend{maxSteps: defaultMaxSteps}
}

// WithMaxSteps returns a copy of f with a different evaluation step limit.
func (f *CfgFrontend) WithMaxSteps(n int) *CfgFrontend {
	return &CfgFrontend{maxSteps: n}
}

// Name implements Frontend.
func (f *CfgFrontend) Name() string { return "cfg" }

// Extensions implements Frontend.
func (f *CfgFrontend) Extensions() []string { return []string{".cfg"} }

// Evaluate implements Frontend.
func (f *CfgFrontend) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	file, err := syntax.Parse(src.Rel, src.Content, 0)
	if err != nil {
		var serr syntax.Error
		if errors.As(err, &serr) {
			return nil, &Error{
				Kind:    SyntaxError,
				Source:  src.Rel,
				Line:    int(serr.Pos.Line),
				Column:  int(serr.Pos.Col),
				Message: serr.Msg,
			}
		}
		return nil, &Error{Kind: SyntaxError, Source: src.Rel, Message: err.Error()}
	}

	p := &program{
		source:   src.Rel,
		maxSteps: f.maxSteps,
		ctx:      ctx,
		thread: &starlark.Thread{
			Name: "irfc",
			Print: func(_ *starlark.Thread, msg string) {
				// Suppress print for security
			},
		},
	}

	p.check(file)
	if len(p.errs) > 0 {
		return nil, p.errs.err()
	}

	order := p.link()
	if len(p.errs) > 0 {
		return nil, p.errs.err()
	}

	if err := p.run(order); err != nil {
		return nil, err
	}
	if len(p.errs) > 0 {
		return nil, p.errs.err()
	}

	tree := p.build()
	if len(p.errs) > 0 {
		return nil, p.errs.err()
	}
	return tree, nil
}

// binding is one top-level assignment.
type binding struct {
	path value.Path
	expr syntax.Expr
	pos  Position
	refs []reference

	result value.Value
	done   bool
	failed bool
}

// reference is a path read by an expression.
type reference struct {
	path value.Path
	pos  Position
}

// program holds the state of one .cfg evaluation.
type program struct {
	source   string
	bindings []*binding
	errs     Errors

	ctx      context.Context
	thread   *starlark.Thread
	steps    int
	maxSteps int
}

func (p *program) errorf(kind Kind, n syntax.Node, format string, args ...interface{}) *Error {
	pos := nodePos(n)
	return &Error{
		Kind:    kind,
		Source:  p.source,
		Line:    pos.Line,
		Column:  pos.Column,
		Message: fmt.Sprintf(format, args...),
	}
}

func (p *program) report(kind Kind, n syntax.Node, format string, args ...interface{}) {
	p.errs = append(p.errs, p.errorf(kind, n, format, args...))
}

func nodePos(n syntax.Node) Position {
	if n == nil {
		return Position{}
	}
	start, _ := n.Span()
	return Position{Line: int(start.Line), Column: int(start.Col)}
}

// dottedPath returns the path named by an identifier or a chain of field
// selections on one.
func dottedPath(e syntax.Expr) (value.Path, bool) {
	switch e := e.(type) {
	case *syntax.Ident:
		return value.Path{e.Name}, true
	case *syntax.DotExpr:
		base, ok := dottedPath(e.X)
		if !ok {
			return nil, false
		}
		return base.Child(e.Name.Name), true
	default:
		return nil, false
	}
}

// check walks the file once, recording bindings and their references and
// reporting every construct outside the declarative subset.
func (p *program) check(file *syntax.File) {
	for _, stmt := range file.Stmts {
		switch stmt := stmt.(type) {
		case *syntax.AssignStmt:
			p.checkAssign(stmt)

		case *syntax.ExprStmt:
			before := len(p.errs)
			p.checkExpr(stmt.X, nil, nil)
			if len(p.errs) == before {
				p.report(SyntaxError, stmt, "expression statement has no effect; expected an assignment")
			}

		case *syntax.DefStmt:
			p.report(ForbiddenOperation, stmt, "function definitions are not allowed")
		case *syntax.IfStmt:
			p.report(ForbiddenOperation, stmt, "if statements are not allowed; use a conditional expression")
		case *syntax.ForStmt:
			p.report(ForbiddenOperation, stmt, "for loops are not allowed; use a comprehension")
		case *syntax.WhileStmt:
			p.report(ForbiddenOperation, stmt, "while loops are not allowed")
		case *syntax.LoadStmt:
			p.report(ForbiddenOperation, stmt, "load statements are not allowed")
		case *syntax.ReturnStmt:
			p.report(ForbiddenOperation, stmt, "return statements are not allowed")
		case *syntax.BranchStmt:
			if stmt.Token != syntax.PASS {
				p.report(ForbiddenOperation, stmt, "%s statements are not allowed", stmt.Token)
			}
		default:
			p.report(SyntaxError, stmt, "unsupported statement")
		}
	}
}

func (p *program) checkAssign(stmt *syntax.AssignStmt) {
	if stmt.Op != syntax.EQ {
		p.report(ForbiddenOperation, stmt, "augmented assignment (%s) is not allowed", stmt.Op)
	}

	path, ok := dottedPath(stmt.LHS)
	if !ok {
		p.report(ForbiddenOperation, stmt.LHS, "assignment target must be a name or a dotted name")
	} else if _, isConst := constants[path[0]]; isConst {
		p.report(SyntaxError, stmt.LHS, "cannot assign to %s", path[0])
		ok = false
	}

	var refs []reference
	p.checkExpr(stmt.RHS, nil, &refs)

	if ok && stmt.Op == syntax.EQ {
		p.bindings = append(p.bindings, &binding{
			path: path,
			expr: stmt.RHS,
			pos:  nodePos(stmt.LHS),
			refs: refs,
		})
	}
}

// checkExpr validates e and appends the paths it reads to refs. locals holds
// comprehension variables in scope.
func (p *program) checkExpr(e syntax.Expr, locals map[string]bool, refs *[]reference) {
	addRef := func(path value.Path, n syntax.Node) {
		if refs != nil {
			*refs = append(*refs, reference{path: path, pos: nodePos(n)})
		}
	}

	switch e := e.(type) {
	case *syntax.Ident:
		if locals[e.Name] {
			return
		}
		if _, isConst := constants[e.Name]; isConst {
			return
		}
		addRef(value.Path{e.Name}, e)

	case *syntax.DotExpr:
		if path, ok := dottedPath(e); ok && !locals[path[0]] {
			addRef(path, e)
			return
		}
		p.checkExpr(e.X, locals, refs)

	case *syntax.Literal:
		if e.Token == syntax.BYTES {
			p.report(SyntaxError, e, "bytes literals are not supported")
		}

	case *syntax.ParenExpr:
		p.checkExpr(e.X, locals, refs)

	case *syntax.ListExpr:
		for _, x := range e.List {
			p.checkExpr(x, locals, refs)
		}

	case *syntax.TupleExpr:
		for _, x := range e.List {
			p.checkExpr(x, locals, refs)
		}

	case *syntax.DictExpr:
		for _, x := range e.List {
			entry := x.(*syntax.DictEntry)
			p.checkExpr(entry.Key, locals, refs)
			p.checkExpr(entry.Value, locals, refs)
		}

	case *syntax.UnaryExpr:
		if e.X == nil {
			p.report(SyntaxError, e, "unexpected %s", e.Op)
			return
		}
		p.checkExpr(e.X, locals, refs)

	case *syntax.BinaryExpr:
		p.checkExpr(e.X, locals, refs)
		p.checkExpr(e.Y, locals, refs)

	case *syntax.CondExpr:
		p.checkExpr(e.Cond, locals, refs)
		p.checkExpr(e.True, locals, refs)
		p.checkExpr(e.False, locals, refs)

	case *syntax.IndexExpr:
		p.checkExpr(e.X, locals, refs)
		p.checkExpr(e.Y, locals, refs)

	case *syntax.SliceExpr:
		p.checkExpr(e.X, locals, refs)
		for _, x := range []syntax.Expr{e.Lo, e.Hi, e.Step} {
			if x != nil {
				p.checkExpr(x, locals, refs)
			}
		}

	case *syntax.Comprehension:
		p.checkComprehension(e, locals, refs)

	case *syntax.CallExpr:
		p.checkCall(e, locals, refs)

	case *syntax.LambdaExpr:
		p.report(ForbiddenOperation, e, "lambda expressions are not allowed")

	default:
		p.report(SyntaxError, e, "unsupported expression")
	}
}

func (p *program) checkComprehension(e *syntax.Comprehension, locals map[string]bool, refs *[]reference) {
	scope := make(map[string]bool, len(locals)+1)
	for name := range locals {
		scope[name] = true
	}

	for _, clause := range e.Clauses {
		switch clause := clause.(type) {
		case *syntax.ForClause:
			p.checkExpr(clause.X, scope, refs)
			names, ok := targetNames(clause.Vars)
			if !ok {
				p.report(SyntaxError, clause.Vars, "comprehension variables must be names")
				continue
			}
			for _, name := range names {
				scope[name] = true
			}
		case *syntax.IfClause:
			p.checkExpr(clause.Cond, scope, refs)
		}
	}

	if e.Curly {
		entry, ok := e.Body.(*syntax.DictEntry)
		if !ok {
			p.report(SyntaxError, e, "set comprehensions are not supported")
			return
		}
		p.checkExpr(entry.Key, scope, refs)
		p.checkExpr(entry.Value, scope, refs)
		return
	}
	p.checkExpr(e.Body, scope, refs)
}

func (p *program) checkCall(e *syntax.CallExpr, locals map[string]bool, refs *[]reference) {
	switch fn := e.Fn.(type) {
	case *syntax.Ident:
		if fn.Name == "ref" && !locals[fn.Name] {
			if _, err := refTarget(e); err != nil {
				p.report(SyntaxError, e, "%v", err)
			}
			return
		}
		if locals[fn.Name] || !isBuiltin(fn.Name) {
			p.report(ForbiddenOperation, e, "call to %s is not allowed; only pure builtins may be called", fn.Name)
		}
	case *syntax.DotExpr:
		p.report(ForbiddenOperation, e, "method call .%s() is not allowed", fn.Name.Name)
		p.checkExpr(fn.X, locals, refs)
	default:
		p.report(ForbiddenOperation, e, "only builtin functions may be called")
		p.checkExpr(e.Fn, locals, refs)
	}

	for _, arg := range e.Args {
		switch arg := arg.(type) {
		case *syntax.UnaryExpr:
			if arg.Op == syntax.STAR || arg.Op == syntax.STARSTAR {
				p.report(ForbiddenOperation, arg, "argument unpacking is not allowed")
				continue
			}
			p.checkExpr(arg, locals, refs)
		case *syntax.BinaryExpr:
			if arg.Op == syntax.EQ {
				p.checkExpr(arg.Y, locals, refs)
				continue
			}
			p.checkExpr(arg, locals, refs)
		default:
			p.checkExpr(arg, locals, refs)
		}
	}
}

// targetNames returns the names bound by a comprehension's for clause.
func targetNames(e syntax.Expr) ([]string, bool) {
	switch e := e.(type) {
	case *syntax.Ident:
		return []string{e.Name}, true
	case *syntax.ParenExpr:
		return targetNames(e.X)
	case *syntax.TupleExpr:
		var names []string
		for _, x := range e.List {
			sub, ok := targetNames(x)
			if !ok {
				return nil, false
			}
			names = append(names, sub...)
		}
		return names, true
	default:
		return nil, false
	}
}

// refTarget extracts the target path of a ref(...) call.
func refTarget(e *syntax.CallExpr) (value.Path, error) {
	if len(e.Args) != 1 {
		return nil, fmt.Errorf("ref takes exactly one argument, got %d", len(e.Args))
	}
	if path, ok := dottedPath(e.Args[0]); ok {
		return path, nil
	}
	if lit, ok := e.Args[0].(*syntax.Literal); ok && lit.Token == syntax.STRING {
		path, err := value.ParsePath(lit.Value.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid reference: %v", err)
		}
		return path, nil
	}
	return nil, fmt.Errorf("ref expects a dotted name or a string")
}

// link builds the dependency graph between bindings and returns the
// evaluation order. Undefined names and cycles are reported.
func (p *program) link() []int {
	g := graph.New()
	for i := range p.bindings {
		g.AddNode(strconv.Itoa(i))
	}

	for i, b := range p.bindings {
		for _, ref := range b.refs {
			found := false
			for j, other := range p.bindings {
				if other.path.Overlaps(ref.path) {
					g.AddEdge(strconv.Itoa(i), strconv.Itoa(j))
					found = true
				}
			}
			if !found && !(len(ref.path) == 1 && isBuiltin(ref.path[0])) {
				p.errs = append(p.errs, &Error{
					Kind:    UndefinedReference,
					Source:  p.source,
					Line:    ref.pos.Line,
					Column:  ref.pos.Column,
					Message: fmt.Sprintf("%s is not defined", ref.path),
				})
			}
		}
	}

	for _, cycle := range g.FindCycles() {
		names := make([]string, len(cycle))
		for k, id := range cycle {
			names[k] = p.bindings[mustAtoi(id)].path.String()
		}
		first := p.bindings[mustAtoi(cycle[0])]
		p.errs = append(p.errs, &Error{
			Kind:    SyntaxError,
			Source:  p.source,
			Line:    first.pos.Line,
			Column:  first.pos.Column,
			Message: "cyclic definition: " + graph.FormatCycle(names),
		})
	}
	if len(p.errs) > 0 {
		return nil
	}

	ids, err := g.Order()
	if err != nil {
		// FindCycles found nothing, so Order cannot fail.
		panic(err)
	}
	order := make([]int, len(ids))
	for k, id := range ids {
		order[k] = mustAtoi(id)
	}
	return order
}

func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(err)
	}
	return n
}

// run evaluates bindings in dependency order. A binding whose dependency
// failed is skipped; its failure is already reported.
func (p *program) run(order []int) error {
	for _, i := range order {
		if err := p.ctx.Err(); err != nil {
			return err
		}

		b := p.bindings[i]
		if p.dependencyFailed(b) {
			b.failed = true
			continue
		}

		sv, err := p.eval(b.expr, nil)
		if err == nil {
			b.result, err = fromStarlarkValue(sv)
			if err != nil {
				err = p.errorf(TypeMismatch, b.expr, "%s: %v", b.path, err)
			}
		}
		if err != nil {
			var e *Error
			if !errors.As(err, &e) {
				return err
			}
			p.errs = append(p.errs, e)
			b.failed = true
			continue
		}
		b.done = true
	}
	return nil
}

func (p *program) dependencyFailed(b *binding) bool {
	for _, ref := range b.refs {
		for _, other := range p.bindings {
			if other.failed && other.path.Overlaps(ref.path) {
				return true
			}
		}
	}
	return false
}

// lookup resolves path against the bindings that overlap it, applied in
// declaration order.
func (p *program) lookup(path value.Path, n syntax.Node) (starlark.Value, error) {
	scratch := value.NewTable()
	for _, b := range p.bindings {
		if !b.path.Overlaps(path) || !b.done {
			continue
		}
		if err := value.SetPath(scratch, b.path, b.result.Clone()); err != nil {
			return nil, p.errorf(TypeMismatch, n, "%v", err)
		}
	}

	v, ok := value.Lookup(scratch, path)
	if !ok {
		return nil, p.errorf(UndefinedReference, n, "%s is not defined", path)
	}
	sv, err := toStarlarkValue(v)
	if err != nil {
		return nil, p.errorf(TypeMismatch, n, "%v", err)
	}
	return sv, nil
}

// build applies the evaluated bindings in declaration order.
func (p *program) build() *Tree {
	tree := NewTree(p.source, "cfg")
	for _, b := range p.bindings {
		if err := value.SetPath(tree.Root, b.path, b.result); err != nil {
			p.errs = append(p.errs, &Error{
				Kind:    TypeMismatch,
				Source:  p.source,
				Line:    b.pos.Line,
				Column:  b.pos.Column,
				Message: fmt.Sprintf("cannot assign %s: %v", b.path, err),
			})
			continue
		}
		tree.Declare(b.path, b.pos)
	}
	return tree
}
