package analyzer

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// matchXPath evaluates the XPath subset the generator emits:
//
//	//*[normalize-space(text())=LIT]
//	//*[contains(text(), LIT)]
//	//STEP//*[contains(normalize-space(.), LIT)]
//	//TAG and //TAG[@ATTR=LIT]
//
// where STEP is *[@id=LIT], a class-membership predicate, or a tag, and
// LIT is an XPath string literal, possibly a concat() of fragments.
func matchXPath(root *html.Node, expr string) ([]*html.Node, error) {
	rest, ok := strings.CutPrefix(expr, "//")
	if !ok {
		return nil, fmt.Errorf("analyzer: unsupported xpath %q", expr)
	}

	// Scoped form: //STEP//*[contains(normalize-space(.), LIT)]
	if head, tail, found := cutTopLevel(rest, "//"); found {
		scope, err := parseStep(head)
		if err != nil {
			return nil, err
		}
		inner, err := parseStep(tail)
		if err != nil {
			return nil, err
		}
		var out []*html.Node
		for _, s := range allMatchingStep(root, scope) {
			for c := s.FirstChild; c != nil; c = c.NextSibling {
				walk(c, func(n *html.Node) bool {
					if stepMatches(n, inner) {
						out = append(out, n)
					}
					return true
				})
			}
		}
		return out, nil
	}

	step, err := parseStep(rest)
	if err != nil {
		return nil, err
	}
	return allMatchingStep(root, step), nil
}

// xpathStep is one parsed location step with at most one predicate.
type xpathStep struct {
	tag  string // "" means *
	pred *xpathPred
}

type xpathPred struct {
	kind  string // "text-eq", "text-contains", "self-contains", "id", "class", "attr"
	key   string // attribute name for "attr"
	value string
}

func parseStep(s string) (xpathStep, error) {
	var step xpathStep

	open := strings.IndexByte(s, '[')
	if open < 0 {
		if s == "*" {
			return step, nil
		}
		step.tag = strings.ToLower(s)
		return step, nil
	}
	if !strings.HasSuffix(s, "]") {
		return step, fmt.Errorf("analyzer: unterminated predicate in %q", s)
	}
	if tag := s[:open]; tag != "*" && tag != "" {
		step.tag = strings.ToLower(tag)
	}

	pred, err := parsePredicate(s[open+1 : len(s)-1])
	if err != nil {
		return step, err
	}
	step.pred = pred
	return step, nil
}

func parsePredicate(p string) (*xpathPred, error) {
	p = strings.TrimSpace(p)

	switch {
	case strings.HasPrefix(p, "normalize-space(text())="):
		lit, err := parseLiteral(p[len("normalize-space(text())="):])
		if err != nil {
			return nil, err
		}
		return &xpathPred{kind: "text-eq", value: lit}, nil

	case strings.HasPrefix(p, "contains(text(),"):
		lit, err := parseLiteral(strings.TrimSuffix(strings.TrimSpace(p[len("contains(text(),"):]), ")"))
		if err != nil {
			return nil, err
		}
		return &xpathPred{kind: "text-contains", value: lit}, nil

	case strings.HasPrefix(p, "contains(normalize-space(.),"):
		lit, err := parseLiteral(strings.TrimSuffix(strings.TrimSpace(p[len("contains(normalize-space(.),"):]), ")"))
		if err != nil {
			return nil, err
		}
		return &xpathPred{kind: "self-contains", value: lit}, nil

	case strings.HasPrefix(p, "contains(concat(' ', normalize-space(@class), ' '),"):
		lit, err := parseLiteral(strings.TrimSuffix(strings.TrimSpace(p[len("contains(concat(' ', normalize-space(@class), ' '),"):]), ")"))
		if err != nil {
			return nil, err
		}
		return &xpathPred{kind: "class", value: strings.TrimSpace(lit)}, nil

	case strings.HasPrefix(p, "@"):
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			return nil, fmt.Errorf("analyzer: unsupported predicate %q", p)
		}
		lit, err := parseLiteral(p[eq+1:])
		if err != nil {
			return nil, err
		}
		key := p[1:eq]
		if key == "id" {
			return &xpathPred{kind: "id", value: lit}, nil
		}
		return &xpathPred{kind: "attr", key: key, value: lit}, nil
	}
	return nil, fmt.Errorf("analyzer: unsupported predicate %q", p)
}

// parseLiteral decodes an XPath string literal: 'x', "x", or a concat()
// of such fragments (the quote-escaping form the generator produces).
func parseLiteral(s string) (string, error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "concat(") && strings.HasSuffix(s, ")") {
		inner := s[len("concat(") : len(s)-1]
		var b strings.Builder
		for len(inner) > 0 {
			inner = strings.TrimLeft(inner, ", ")
			if inner == "" {
				break
			}
			quote := inner[0]
			if quote != '\'' && quote != '"' {
				return "", fmt.Errorf("analyzer: malformed concat fragment %q", inner)
			}
			end := strings.IndexByte(inner[1:], quote)
			if end < 0 {
				return "", fmt.Errorf("analyzer: unterminated concat fragment %q", inner)
			}
			b.WriteString(inner[1 : 1+end])
			inner = inner[end+2:]
		}
		return b.String(), nil
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], nil
	}
	return "", fmt.Errorf("analyzer: malformed xpath literal %q", s)
}

func stepMatches(n *html.Node, step xpathStep) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if step.tag != "" && n.Data != step.tag {
		return false
	}
	if step.pred == nil {
		return true
	}

	switch p := step.pred; p.kind {
	case "text-eq":
		return normalizeSpace(directText(n)) == p.value
	case "text-contains":
		return strings.Contains(directText(n), p.value)
	case "self-contains":
		return strings.Contains(normalizeSpace(collectText(n)), p.value)
	case "id":
		return attrValue(n, "id") == p.value
	case "class":
		return strings.Contains(" "+normalizeSpace(attrValue(n, "class"))+" ", p.value)
	case "attr":
		return attrValue(n, p.key) == p.value
	default:
		return false
	}
}

func allMatchingStep(root *html.Node, step xpathStep) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if stepMatches(n, step) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// directText concatenates only the immediate text children, matching
// XPath's text() on the context node.
func directText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cutTopLevel splits s at the first occurrence of sep that is outside any
// quoted region or predicate brackets.
func cutTopLevel(s, sep string) (head, tail string, found bool) {
	depth := 0
	var quote byte
	for i := 0; i+len(sep) <= len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		}
		if depth == 0 && quote == 0 && strings.HasPrefix(s[i:], sep) {
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}
