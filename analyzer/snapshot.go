// Package analyzer provides the page analyzer collaborators the healer
// validates candidates against: a live browser analyzer driven by Rod and
// an offline analyzer over a parsed HTML snapshot.
//
// Both satisfy the healer's PageAnalyzer interface. The snapshot analyzer
// makes healing reproducible without a browser when the caller supplies
// page HTML in the healing context.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/selmend/selmend/selector"
)

// Snapshot analyzes a parsed HTML document. Safe for concurrent use; the
// document is never mutated after parsing.
type Snapshot struct {
	root *html.Node
}

// ParseSnapshot parses page HTML into an offline analyzer.
func ParseSnapshot(src string) (*Snapshot, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("analyzer: parse snapshot: %w", err)
	}
	return &Snapshot{root: root}, nil
}

// ValidateSelector reports whether sel resolves to exactly one element in
// the snapshot.
func (s *Snapshot) ValidateSelector(ctx context.Context, sel selector.Selector) (bool, error) {
	matches, err := s.match(sel)
	if err != nil {
		return false, err
	}
	return len(matches) == 1, nil
}

// ElementAt returns the first element the selector resolves to, or nil.
func (s *Snapshot) ElementAt(ctx context.Context, sel selector.Selector) (*selector.Element, error) {
	matches, err := s.match(sel)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	el := nodeElement(matches[0])
	return &el, nil
}

// maxSimilar bounds FindSimilarElements output.
const maxSimilar = 20

// FindSimilarElements returns elements structurally similar to the target:
// same tag (when known) sharing a class, name, or type attribute with it.
func (s *Snapshot) FindSimilarElements(ctx context.Context, hctx selector.HealingContext) ([]selector.Element, error) {
	attrs := hctx.ElementAttributes
	wantTag := strings.ToLower(attrs["tag"])
	wantClasses := strings.Fields(attrs["class"])

	var out []selector.Element
	walk(s.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if wantTag != "" && n.Data != wantTag {
			return true
		}
		if !similar(n, attrs, wantClasses) {
			return true
		}
		out = append(out, nodeElement(n))
		return len(out) < maxSimilar
	})
	return out, nil
}

// similar checks for at least one shared identity signal beyond the tag.
func similar(n *html.Node, attrs map[string]string, wantClasses []string) bool {
	if len(wantClasses) > 0 {
		have := strings.Fields(attrValue(n, "class"))
		for _, w := range wantClasses {
			for _, h := range have {
				if w == h {
					return true
				}
			}
		}
	}
	for _, key := range []string{"name", "type", "role"} {
		if v := attrs[key]; v != "" && attrValue(n, key) == v {
			return true
		}
	}
	// With no other signals, a matching tag alone counts.
	return len(wantClasses) == 0 && attrs["name"] == "" && attrs["type"] == "" && attrs["role"] == ""
}

// match dispatches to the XPath or CSS engine based on selector shape.
func (s *Snapshot) match(sel selector.Selector) ([]*html.Node, error) {
	v := strings.TrimSpace(sel.Value)
	if v == "" {
		return nil, fmt.Errorf("analyzer: empty selector")
	}
	if sel.Type == selector.TypeXPath || sel.Type == selector.TypeText || strings.HasPrefix(v, "/") {
		return matchXPath(s.root, v)
	}
	return matchCSS(s.root, v)
}

// nodeElement projects an HTML node into the engine's element model.
func nodeElement(n *html.Node) selector.Element {
	attrs := make(map[string]string, len(n.Attr)+1)
	attrs["tag"] = n.Data
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return selector.Element{
		Attributes: attrs,
		Text:       strings.TrimSpace(collectText(n)),
	}
}

// collectText concatenates all text descendants of n.
func collectText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

// walk visits every node until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

var textPolicy = bluemonday.StrictPolicy()

// SurroundingText strips all markup from an HTML fragment, returning the
// bare text. Used to derive surrounding text when a caller supplies raw
// HTML instead of extracted text.
func SurroundingText(fragment string) string {
	return strings.TrimSpace(textPolicy.Sanitize(fragment))
}
