package analyzer

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// matchCSS evaluates a CSS selector against the document and returns all
// matching element nodes in document order.
//
// Supported grammar covers everything the generator emits: tag, #id,
// .class chains, [attr] and [attr="value"] chains (with \" and \\ escapes
// in values), compounds of those, and the four combinators
// (descendant space, child >, adjacent sibling +, general sibling ~).
func matchCSS(root *html.Node, sel string) ([]*html.Node, error) {
	parts, combinators, err := splitSelector(sel)
	if err != nil {
		return nil, err
	}

	first, err := parseCompound(parts[0])
	if err != nil {
		return nil, err
	}
	matches := allMatching(root, first)

	for i, comb := range combinators {
		next, err := parseCompound(parts[i+1])
		if err != nil {
			return nil, err
		}
		var step []*html.Node
		seen := make(map[*html.Node]bool)
		for _, m := range matches {
			for _, n := range related(m, comb) {
				if !seen[n] && matchesCompound(n, next) {
					seen[n] = true
					step = append(step, n)
				}
			}
		}
		matches = step
	}
	return matches, nil
}

// splitSelector tokenizes a selector into compound parts and the
// combinators between them. Quotes and brackets shield spaces.
func splitSelector(sel string) (parts []string, combinators []byte, err error) {
	var cur strings.Builder
	inBracket := false
	var quote byte

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(sel); i++ {
		c := sel[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(sel) {
				i++
				cur.WriteByte(sel[i])
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == '[':
			inBracket = true
			cur.WriteByte(c)
		case c == ']':
			inBracket = false
			cur.WriteByte(c)
		case !inBracket && (c == '>' || c == '+' || c == '~'):
			flush()
			if len(parts) != len(combinators)+1 {
				return nil, nil, fmt.Errorf("analyzer: dangling combinator in %q", sel)
			}
			combinators = append(combinators, c)
		case !inBracket && c == ' ':
			flush()
			// A space before an explicit combinator is not a combinator
			// itself; peek past runs of spaces.
			j := i
			for j+1 < len(sel) && sel[j+1] == ' ' {
				j++
			}
			if j+1 < len(sel) {
				next := sel[j+1]
				if next != '>' && next != '+' && next != '~' {
					if len(parts) == len(combinators)+1 {
						combinators = append(combinators, ' ')
					}
				}
			}
			i = j
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	if quote != 0 || inBracket {
		return nil, nil, fmt.Errorf("analyzer: unterminated selector %q", sel)
	}
	if len(parts) == 0 || len(parts) != len(combinators)+1 {
		return nil, nil, fmt.Errorf("analyzer: malformed selector %q", sel)
	}
	return parts, combinators, nil
}

// compound is one simple-selector sequence: tag#id.class[attr=val]...
type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrTest
}

type attrTest struct {
	key    string
	val    string
	hasVal bool
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	// Leading tag or universal.
	for i < len(s) && s[i] != '#' && s[i] != '.' && s[i] != '[' && s[i] != ':' {
		i++
	}
	if tag := s[:i]; tag != "" && tag != "*" {
		c.tag = strings.ToLower(tag)
	}

	for i < len(s) {
		switch s[i] {
		case '#':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != '#' {
				j++
			}
			c.id = s[i+1 : j]
			i = j
		case '.':
			j := i + 1
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != '#' {
				j++
			}
			c.classes = append(c.classes, s[i+1:j])
			i = j
		case '[':
			j := i + 1
			var quote byte
			for j < len(s) {
				ch := s[j]
				if quote != 0 {
					if ch == '\\' {
						j++
					} else if ch == quote {
						quote = 0
					}
				} else if ch == '"' || ch == '\'' {
					quote = ch
				} else if ch == ']' {
					break
				}
				j++
			}
			if j >= len(s) {
				return c, fmt.Errorf("analyzer: unterminated attribute in %q", s)
			}
			test, err := parseAttrTest(s[i+1 : j])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, test)
			i = j + 1
		default:
			return c, fmt.Errorf("analyzer: unsupported selector syntax at %q", s[i:])
		}
	}
	return c, nil
}

func parseAttrTest(s string) (attrTest, error) {
	eq := -1
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			quote = ch
		} else if ch == '=' {
			eq = i
			break
		}
	}
	if eq < 0 {
		return attrTest{key: strings.TrimSpace(s)}, nil
	}

	val := strings.TrimSpace(s[eq+1:])
	if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
		val = unescapeCSSString(val[1 : len(val)-1])
	}
	return attrTest{key: strings.TrimSpace(s[:eq]), val: val, hasVal: true}, nil
}

func unescapeCSSString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func matchesCompound(n *html.Node, c compound) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attrValue(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attrValue(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, t := range c.attrs {
		if !hasAttr(n, t.key) {
			return false
		}
		if t.hasVal && attrValue(n, t.key) != t.val {
			return false
		}
	}
	return true
}

func allMatching(root *html.Node, c compound) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if matchesCompound(n, c) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// related enumerates the nodes reachable from m via a combinator.
func related(m *html.Node, comb byte) []*html.Node {
	var out []*html.Node
	switch comb {
	case ' ':
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			walk(c, func(n *html.Node) bool {
				if n.Type == html.ElementNode {
					out = append(out, n)
				}
				return true
			})
		}
	case '>':
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
		}
	case '+':
		for s := m.NextSibling; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode {
				out = append(out, s)
				break
			}
		}
	case '~':
		for s := m.NextSibling; s != nil; s = s.NextSibling {
			if s.Type == html.ElementNode {
				out = append(out, s)
			}
		}
	}
	return out
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
