package evaluator

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/civa-shell/irfc/pkg/locator"
	"github.com/civa-shell/irfc/pkg/value"
)

// aliasLineRe matches `alias NAME="COMMAND"` and `alias NAME='COMMAND'`.
var aliasLineRe = regexp.MustCompile(`^alias\s+([^\s=]+)=(?:"(.*)"|'(.*)')$`)

// AliasFrontend reads the legacy civa alias file. Each alias becomes a key of
// the top-level alias table.
type AliasFrontend struct{}

// NewAliasFrontend creates the alias frontend.
func NewAliasFrontend() *AliasFrontend {
	return &AliasFrontend{}
}

// Name implements Frontend.
func (f *AliasFrontend) Name() string { return "alias" }

// Extensions implements Frontend.
func (f *AliasFrontend) Extensions() []string { return []string{".alias"} }

// Evaluate implements Frontend.
func (f *AliasFrontend) Evaluate(ctx context.Context, src locator.ConfigSource) (*Tree, error) {
	tree := NewTree(src.Rel, f.Name())
	aliases := value.NewTable()
	var errs Errors

	scanner := bufio.NewScanner(bytes.NewReader(src.Content))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		m := aliasLineRe.FindStringSubmatch(text)
		if m == nil {
			errs = append(errs, &Error{
				Kind:    SyntaxError,
				Source:  src.Rel,
				Line:    line,
				Column:  1,
				Message: `expected alias NAME="COMMAND"`,
			})
			continue
		}

		name, command := m[1], m[2]
		if m[3] != "" {
			command = m[3]
		}
		aliases.Set(name, value.String(command))
		tree.Declare(value.Path{"alias", name}, Position{Line: line, Column: 1})
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, &Error{Kind: SyntaxError, Source: src.Rel, Line: line + 1, Message: err.Error()})
	}
	if len(errs) > 0 {
		return nil, errs.err()
	}

	if aliases.Len() > 0 {
		tree.Root.Set("alias", value.FromTable(aliases))
	}
	return tree, nil
}
