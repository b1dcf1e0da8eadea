// Package generate produces candidate selectors for a broken locator from
// element attributes, page context, or by combining existing candidates.
//
// Generation is pure: no I/O, no shared state. The generator does not rank
// its output; the scorer decides which candidate wins.
package generate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/selmend/selmend/selector"
)

// Options tune candidate generation.
type Options struct {
	// DataAttributes enables data-* attribute selectors. Default on.
	DataAttributes bool

	// MaxLength caps the length of any generated selector. Candidates that
	// would exceed it are not emitted. Default 150.
	MaxLength int

	// AvoidIndexedSelectors skips classes that look machine-generated
	// (trailing digit runs like "item-48213") and positional constructs.
	AvoidIndexedSelectors bool
}

// DefaultOptions returns the standard generation options.
func DefaultOptions() Options {
	return Options{
		DataAttributes: true,
		MaxLength:      150,
	}
}

// Generator produces candidate selectors.
type Generator struct {
	opts Options
}

// New creates a Generator. Zero fields in opts fall back to defaults.
func New(opts Options) *Generator {
	if opts.MaxLength <= 0 {
		opts.MaxLength = 150
	}
	return &Generator{opts: opts}
}

// ARIA attributes considered first-class locator material, in priority order.
var ariaAttrs = []string{"aria-label", "aria-labelledby", "aria-describedby", "role"}

// Attributes that discriminate well when combined with a tag.
var discriminatingAttrs = []string{"type", "placeholder", "title", "alt"}

// State classes carry no identity; they flip at runtime.
var stateClasses = map[string]bool{
	"active":   true,
	"selected": true,
	"disabled": true,
	"hidden":   true,
}

// indexedClass matches machine-generated class names like "item-48213".
var indexedClass = regexp.MustCompile(`\d{3,}|-\d+$`)

// maxClassListLen is the class count above which the whole list is treated
// as dynamically generated and skipped.
const maxClassListLen = 10

// FromAttributes generates candidates from the target element's attributes
// and optional text, in priority order: id, data-*, name, ARIA, classes,
// text XPath, tag+attribute. All candidates are returned; ranking is the
// scorer's job.
func (g *Generator) FromAttributes(attrs map[string]string, elementText string) []selector.Selector {
	var out []selector.Selector

	if id := attrs["id"]; id != "" {
		out = append(out, selector.NewGenerated(idSelector(id), selector.TypeID))
	}

	if g.opts.DataAttributes {
		for _, key := range sortedKeys(attrs) {
			if !strings.HasPrefix(key, "data-") || attrs[key] == "" {
				continue
			}
			v := `[` + key + `="` + cssString(attrs[key]) + `"]`
			out = append(out, selector.NewGenerated(v, selector.TypeDataAttribute))
		}
	}

	if name := attrs["name"]; name != "" {
		v := `[name="` + cssString(name) + `"]`
		out = append(out, selector.NewGenerated(v, selector.TypeName))
	}

	for _, key := range ariaAttrs {
		if val := attrs[key]; val != "" {
			v := `[` + key + `="` + cssString(val) + `"]`
			out = append(out, selector.NewGenerated(v, selector.TypeARIA))
		}
	}

	out = append(out, g.classCandidates(attrs["class"])...)
	out = append(out, g.textCandidates(elementText)...)
	out = append(out, g.tagCandidates(attrs)...)

	return g.capped(out)
}

// capped drops candidates over the configured length limit.
func (g *Generator) capped(in []selector.Selector) []selector.Selector {
	out := in[:0]
	for _, c := range in {
		if len(c.Value) <= g.opts.MaxLength {
			out = append(out, c)
		}
	}
	return out
}

// classCandidates emits one selector per usable class plus, when it stays
// under the length cap, one combined 2-3 class selector.
func (g *Generator) classCandidates(classAttr string) []selector.Selector {
	classes := strings.Fields(classAttr)
	if len(classes) == 0 || len(classes) > maxClassListLen {
		// A huge class list is a signal of dynamically generated classes.
		return nil
	}

	var usable []string
	for _, c := range classes {
		if len(c) < 3 || stateClasses[c] || !isCSSIdent(c) {
			continue
		}
		if g.opts.AvoidIndexedSelectors && indexedClass.MatchString(c) {
			continue
		}
		usable = append(usable, c)
	}

	var out []selector.Selector
	for _, c := range usable {
		out = append(out, selector.NewGenerated("."+c, selector.TypeClass))
	}

	if len(usable) >= 2 {
		n := len(usable)
		if n > 3 {
			n = 3
		}
		combined := "." + strings.Join(usable[:n], ".")
		if len(combined) <= g.opts.MaxLength {
			out = append(out, selector.NewGenerated(combined, selector.TypeComposite))
		}
	}
	return out
}

// textCandidates builds text-based XPath selectors: exact match for short
// text, contains() over the first five words otherwise.
func (g *Generator) textCandidates(text string) []selector.Selector {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []selector.Selector
	if len(text) <= 50 {
		v := `//*[normalize-space(text())=` + xpathLiteral(text) + `]`
		if len(v) <= g.opts.MaxLength {
			out = append(out, selector.NewGenerated(v, selector.TypeText))
		}
	}

	words := strings.Fields(text)
	if len(words) > 5 {
		words = words[:5]
	}
	needle := strings.Join(words, " ")
	if needle != "" && needle != text || len(text) > 50 {
		v := `//*[contains(text(), ` + xpathLiteral(needle) + `)]`
		if len(v) <= g.opts.MaxLength {
			out = append(out, selector.NewGenerated(v, selector.TypeText))
		}
	}
	return out
}

// tagCandidates combines the element tag with a single discriminating
// attribute (type, placeholder, title, alt).
func (g *Generator) tagCandidates(attrs map[string]string) []selector.Selector {
	tag := strings.ToLower(attrs["tag"])
	if tag == "" {
		return nil
	}

	out := []selector.Selector{selector.NewGenerated(tag, selector.TypeTag)}
	for _, key := range discriminatingAttrs {
		if val := attrs[key]; val != "" {
			v := tag + `[` + key + `="` + cssString(val) + `"]`
			if len(v) <= g.opts.MaxLength {
				out = append(out, selector.NewGenerated(v, selector.TypeAttribute))
			}
		}
	}
	return out
}

// sortedKeys keeps map iteration deterministic; generation is a pure
// function and must emit candidates in a stable order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
