package generate

import (
	"strings"

	"github.com/selmend/selmend/selector"
)

// maxSiblings bounds how many sibling hints produce variants.
const maxSiblings = 3

// FromContext generates candidates from the structural hints in the healing
// context: parent combinations and sibling combinators.
func (g *Generator) FromContext(ctx selector.HealingContext) []selector.Selector {
	var out []selector.Selector

	if ctx.ParentSelector != "" {
		out = append(out, g.parentTextCandidate(ctx)...)
		out = append(out, g.parentClassCandidates(ctx)...)
	}

	sibs := ctx.SiblingSelectors
	if len(sibs) > maxSiblings {
		sibs = sibs[:maxSiblings]
	}
	target := strings.ToLower(ctx.ElementAttributes["tag"])
	if target == "" {
		target = "*"
	}
	for _, sib := range sibs {
		if sib == "" {
			continue
		}
		for _, comb := range []string{" + ", " ~ "} {
			v := sib + comb + target
			if len(v) <= g.opts.MaxLength {
				out = append(out, selector.NewGenerated(v, selector.TypeCSS))
			}
		}
	}
	return out
}

// parentTextCandidate scopes a text match under the parent. Only parents
// expressible as an XPath step are usable; anything fancier is skipped.
func (g *Generator) parentTextCandidate(ctx selector.HealingContext) []selector.Selector {
	text := strings.TrimSpace(ctx.SurroundingText)
	if text == "" || len(text) > 50 {
		return nil
	}
	step, ok := xpathStep(ctx.ParentSelector)
	if !ok {
		return nil
	}
	v := `//` + step + `//*[contains(normalize-space(.), ` + xpathLiteral(text) + `)]`
	if len(v) > g.opts.MaxLength {
		return nil
	}
	return []selector.Selector{selector.NewGenerated(v, selector.TypeXPath)}
}

// parentClassCandidates combines the parent selector with each usable class
// of the target element as a descendant selector.
func (g *Generator) parentClassCandidates(ctx selector.HealingContext) []selector.Selector {
	var out []selector.Selector
	for _, c := range strings.Fields(ctx.ElementAttributes["class"]) {
		if len(c) < 3 || stateClasses[c] || !isCSSIdent(c) {
			continue
		}
		if g.opts.AvoidIndexedSelectors && indexedClass.MatchString(c) {
			continue
		}
		v := ctx.ParentSelector + " ." + c
		if len(v) <= g.opts.MaxLength {
			out = append(out, selector.NewGenerated(v, selector.TypeComposite))
		}
	}
	return out
}

// xpathStep converts a simple CSS parent selector (#id, .class, tag) to an
// equivalent XPath step.
func xpathStep(css string) (string, bool) {
	css = strings.TrimSpace(css)
	switch {
	case strings.HasPrefix(css, "#") && isCSSIdent(css[1:]):
		return `*[@id=` + xpathLiteral(css[1:]) + `]`, true
	case strings.HasPrefix(css, ".") && isCSSIdent(css[1:]):
		return `*[contains(concat(' ', normalize-space(@class), ' '), ` +
			xpathLiteral(" "+css[1:]+" ") + `)]`, true
	case isCSSIdent(css):
		return strings.ToLower(css), true
	default:
		return "", false
	}
}
