package evaluator

import (
	"errors"
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// maxRangeLen bounds the number of elements range() may produce.
const maxRangeLen = 1_000_000

// limitError marks a builtin failure caused by a sandbox limit rather than
// by bad arguments.
type limitError struct {
	msg string
}

func (e *limitError) Error() string { return e.msg }

// universeBuiltins are taken from the Starlark universe unchanged.
var universeBuiltins = []string{
	"abs", "all", "any", "bool", "dict", "float", "int", "len", "list",
	"max", "min", "reversed", "sorted", "str",
}

// stringBuiltins are string methods exposed as functions taking the string
// as first argument, e.g. upper(s) or join(", ", items).
var stringBuiltins = []string{
	"endswith", "format", "join", "lower", "replace", "split", "startswith",
	"strip", "upper",
}

var builtins = newBuiltins()

// Builtins returns the names of the functions callable from .cfg sources,
// sorted.
func Builtins() []string {
	names := make([]string, 0, len(builtins)+1)
	for name := range builtins {
		names = append(names, name)
	}
	names = append(names, "ref")
	sort.Strings(names)
	return names
}

func newBuiltins() starlark.StringDict {
	d := starlark.StringDict{
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
		"keys":      starlark.NewBuiltin("keys", builtinKeys),
		"values":    starlark.NewBuiltin("values", builtinValues),
		"merge":     starlark.NewBuiltin("merge", builtinMerge),
	}
	for _, name := range universeBuiltins {
		if fn, ok := starlark.Universe[name]; ok {
			d[name] = fn
		}
	}
	for _, name := range stringBuiltins {
		d[name] = stringFunction(name)
	}
	return d
}

func isBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// builtinRange implements range() as a list, refusing to build more than
// maxRangeLen elements.
func builtinRange(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int64 = 0, 0, 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range takes 1 to 3 arguments, got %d", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range step cannot be zero")
	}

	var n uint64
	if step > 0 && start < stop {
		n = (uint64(stop)-uint64(start)-1)/uint64(step) + 1
	} else if step < 0 && start > stop {
		n = (uint64(start)-uint64(stop)-1)/uint64(-step) + 1
	}
	if n > maxRangeLen {
		return nil, &limitError{msg: fmt.Sprintf("range of %d elements exceeds the limit of %d", n, maxRangeLen)}
	}

	list := make([]starlark.Value, n)
	i := start
	for k := range list {
		list[k] = starlark.MakeInt64(i)
		i += step
	}

	return starlark.NewList(list), nil
}

// builtinEnumerate implements the enumerate() built-in function.
func builtinEnumerate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start int64 = 0

	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var list []starlark.Value
	var x starlark.Value
	i := start
	for iter.Next(&x) {
		tuple := starlark.Tuple{starlark.MakeInt64(i), x}
		list = append(list, tuple)
		i++
	}

	return starlark.NewList(list), nil
}

// builtinZip implements the zip() built-in function.
func builtinZip(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("zip does not accept keyword arguments")
	}
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip argument %d is not iterable", i)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var list []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		for i, iter := range iters {
			if !iter.Next(&tuple[i]) {
				return starlark.NewList(list), nil
			}
		}
		list = append(list, tuple)
	}
}

func builtinKeys(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var d *starlark.Dict
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &d); err != nil {
		return nil, err
	}
	return starlark.NewList(d.Keys()), nil
}

func builtinValues(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var d *starlark.Dict
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &d); err != nil {
		return nil, err
	}
	items := d.Items()
	list := make([]starlark.Value, len(items))
	for i, item := range items {
		list[i] = item[1]
	}
	return starlark.NewList(list), nil
}

// builtinMerge deep-merges dicts left to right with the same rules the
// merger applies across files.
func builtinMerge(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("merge does not accept keyword arguments")
	}
	result := starlark.NewDict(0)
	for i, arg := range args {
		d, ok := arg.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("merge: argument %d is %s, want dict", i+1, arg.Type())
		}
		merged, err := mergeDicts(result, d)
		if err != nil {
			return nil, err
		}
		result = merged
	}
	return result, nil
}

func mergeDicts(a, b *starlark.Dict) (*starlark.Dict, error) {
	out := starlark.NewDict(a.Len() + b.Len())
	for _, item := range a.Items() {
		if err := out.SetKey(item[0], item[1]); err != nil {
			return nil, err
		}
	}
	for _, item := range b.Items() {
		v := item[1]
		if bd, ok := v.(*starlark.Dict); ok {
			existing, found, _ := out.Get(item[0])
			if ad, ok := existing.(*starlark.Dict); found && ok {
				merged, err := mergeDicts(ad, bd)
				if err != nil {
					return nil, err
				}
				v = merged
			}
		}
		if err := out.SetKey(item[0], v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// stringFunction exposes the string method name as a function whose first
// argument is the receiver.
func stringFunction(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing string argument", name)
		}
		s, ok := args[0].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want string", name, args[0].Type())
		}
		method, err := s.Attr(name)
		if err != nil {
			return nil, err
		}
		if method == nil {
			return nil, fmt.Errorf("string has no method %s", name)
		}
		return starlark.Call(thread, method, args[1:], kwargs)
	})
}

// builtinErrorKind classifies an error returned by a builtin call.
func builtinErrorKind(err error) Kind {
	var le *limitError
	if errors.As(err, &le) {
		return ForbiddenOperation
	}
	return TypeMismatch
}
