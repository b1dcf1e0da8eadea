package generate

import (
	"strings"

	"github.com/selmend/selmend/selector"
)

// Composite combines simpler candidates from the pool into compound
// selectors: up to three class selectors, up to two attribute selectors,
// and tag+attribute pairs. Combinations over the length cap are dropped.
func (g *Generator) Composite(pool []selector.Selector) []selector.Selector {
	var classes, attributes, tags []selector.Selector
	for _, s := range pool {
		switch s.Type {
		case selector.TypeClass:
			classes = append(classes, s)
		case selector.TypeAttribute, selector.TypeDataAttribute, selector.TypeName, selector.TypeARIA:
			if strings.HasPrefix(s.Value, "[") {
				attributes = append(attributes, s)
			}
		case selector.TypeTag:
			tags = append(tags, s)
		}
	}

	var out []selector.Selector

	if len(classes) >= 2 {
		n := len(classes)
		if n > 3 {
			n = 3
		}
		var b strings.Builder
		for _, c := range classes[:n] {
			b.WriteString(c.Value)
		}
		out = g.appendCompound(out, b.String())
	}

	if len(attributes) >= 2 {
		out = g.appendCompound(out, attributes[0].Value+attributes[1].Value)
	}

	for _, t := range tags {
		for _, a := range attributes {
			out = g.appendCompound(out, t.Value+a.Value)
		}
	}

	return out
}

func (g *Generator) appendCompound(out []selector.Selector, v string) []selector.Selector {
	if v == "" || len(v) > g.opts.MaxLength {
		return out
	}
	return append(out, selector.NewGenerated(v, selector.TypeComposite))
}
