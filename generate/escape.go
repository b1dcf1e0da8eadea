package generate

import (
	"strings"
	"unicode"
)

// cssString escapes a value for embedding inside a double-quoted CSS
// attribute string: [attr="value"]. Backslashes and double quotes are the
// only characters that can break out of the literal.
func cssString(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

// isCSSIdent reports whether v is safe to use bare as an id or class name
// in a CSS selector (#v or .v) without escaping.
func isCSSIdent(v string) bool {
	if v == "" {
		return false
	}
	if v[0] >= '0' && v[0] <= '9' {
		return false
	}
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// idSelector renders an id as a CSS selector, falling back to the
// attribute form when the id is not a plain identifier.
func idSelector(id string) string {
	if isCSSIdent(id) {
		return "#" + id
	}
	return `[id="` + cssString(id) + `"]`
}

// xpathLiteral renders s as an XPath string literal. XPath 1.0 has no
// escape sequences, so a value containing both quote kinds must be rebuilt
// with concat() of alternating quoted fragments.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	var b strings.Builder
	b.WriteString("concat(")
	first := true
	for _, part := range strings.SplitAfter(s, "'") {
		quote := strings.HasSuffix(part, "'")
		if quote {
			part = strings.TrimSuffix(part, "'")
		}
		if part != "" {
			if !first {
				b.WriteString(", ")
			}
			// part contains no single quote by construction, so the
			// single-quoted form is always well-formed even when the
			// part contains double quotes.
			b.WriteString("'" + part + "'")
			first = false
		}
		if quote {
			if !first {
				b.WriteString(", ")
			}
			b.WriteString(`"'"`)
			first = false
		}
	}
	b.WriteString(")")
	return b.String()
}
