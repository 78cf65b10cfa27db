package schema

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// metaSchema constrains schema documents written in CUE.
const metaSchema = `
#Kind: "null" | "bool" | "int" | "float" | "number" | "string" | "list" | "table" | "any"

#Rule: {
	kind:      #Kind
	required?: bool
	enum?: [...(null | bool | number | string)]
	min?:     number
	max?:     number
	pattern?: string
	elem?:    #Kind
	target?:  string
	open?:    bool
	doc?:     string
}

#Schema: {
	version: int & >=1
	rules: {[string]: #Rule}
}
`

// LoadCUE compiles a CUE schema document, checks it against the #Schema
// definition and builds the rule set. filename is used in error positions.
func LoadCUE(name, filename string, data []byte) (*Schema, error) {
	ctx := cuecontext.New()

	meta := ctx.CompileString(metaSchema, cue.Filename("schema-meta.cue"))
	if err := meta.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile meta schema: %w", err)
	}
	def := meta.LookupPath(cue.ParsePath("#Schema"))

	val := ctx.CompileString(string(data), cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, convertCUEErrors(err)
	}

	s, err := New(name, &doc)
	if err != nil {
		return nil, withSource(err, filename)
	}
	s.Source = data
	return s, nil
}

// convertCUEErrors flattens a CUE error list into schema errors.
func convertCUEErrors(err error) Errors {
	var out Errors
	for _, e := range errors.Errors(err) {
		se := &Error{Message: strings.TrimSpace(errors.Details(e, nil))}
		if pos := errors.Positions(e); len(pos) > 0 {
			se.Source = pos[0].Filename()
			se.Line = pos[0].Line()
			se.Column = pos[0].Column()
		}
		out = append(out, se)
	}
	if len(out) == 0 {
		out = Errors{{Message: err.Error()}}
	}
	return out
}

func withSource(err error, filename string) error {
	errs, ok := err.(Errors)
	if !ok {
		return err
	}
	for _, e := range errs {
		if e.Source == "" {
			e.Source = filename
		}
	}
	return errs
}
