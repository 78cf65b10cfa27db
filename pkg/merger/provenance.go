package merger

import (
	"sort"

	"github.com/civa-shell/irfc/pkg/value"
)

// Origin locates the declaration of one value.
type Origin struct {
	Source string `json:"source"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Provenance records, per path, every source that declared it. Chains are
// ordered from the first (overridden) declaration to the winning one.
type Provenance struct {
	chains map[string][]Origin
}

// NewProvenance returns an empty provenance record.
func NewProvenance() *Provenance {
	return &Provenance{chains: make(map[string][]Origin)}
}

// Record appends o to the chain of path.
func (p *Provenance) Record(path value.Path, o Origin) {
	key := path.String()
	chain := p.chains[key]
	if n := len(chain); n > 0 && chain[n-1] == o {
		return
	}
	p.chains[key] = append(chain, o)
}

// Chain returns the declarations of path, base first. It is nil when path
// was never declared.
func (p *Provenance) Chain(path value.Path) []Origin {
	chain := p.chains[path.String()]
	out := make([]Origin, len(chain))
	copy(out, chain)
	return out
}

// Origin returns the winning declaration of path, falling back to the
// nearest recorded ancestor.
func (p *Provenance) Origin(path value.Path) (Origin, bool) {
	for n := len(path); n > 0; n-- {
		if chain := p.chains[path[:n].String()]; len(chain) > 0 {
			return chain[len(chain)-1], true
		}
	}
	return Origin{}, false
}

// Paths returns every recorded path, sorted.
func (p *Provenance) Paths() []string {
	paths := make([]string, 0, len(p.chains))
	for k := range p.chains {
		paths = append(paths, k)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of recorded paths.
func (p *Provenance) Len() int {
	return len(p.chains)
}
