// Package selector derives stable CSS selectors for DOM elements and
// re-locates elements from stored selectors.
package selector

import (
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// uniqueAttrs are matched in priority order when an element has no id.
var uniqueAttrs = []string{"data-testid", "data-id", "aria-label", "name"}

// Compute derives a best-effort CSS selector for the element. It never
// fails and is deterministic for identical DOM structure. Priority:
// the element's own id, then the first present attribute from the
// unique-attribute list, then a structural ancestor path using
// nth-of-type ordinals only where same-tag siblings exist.
func Compute(el *html.Node) string {
	if el == nil || el.Type != html.ElementNode {
		return ""
	}

	if id := attr(el, "id"); id != "" {
		return "#" + escapeIdent(id)
	}

	for _, name := range uniqueAttrs {
		if val := attr(el, name); val != "" {
			return "[" + name + `="` + escapeAttrValue(val) + `"]`
		}
	}

	var path []string
	for current := el; current != nil && current.Type == html.ElementNode; current = parentElement(current) {
		if id := attr(current, "id"); id != "" {
			path = append([]string{"#" + escapeIdent(id)}, path...)
			break
		}

		tag := strings.ToLower(current.Data)
		if tag == "body" || tag == "html" {
			break
		}

		step := tag
		// The ordinal is emitted only when a same-tag sibling exists in
		// either direction, so sibling-free levels stay resilient to
		// later DOM insertions.
		if n, hasSiblings := ordinalAmongSameTag(current); hasSiblings {
			step += ":nth-of-type(" + strconv.Itoa(n) + ")"
		}
		path = append([]string{step}, path...)
	}

	return strings.Join(path, " > ")
}

// Resolve locates the first element matching selector under root.
// Invalid selectors and misses both yield nil: resolution failure is a
// tracking miss, not an error.
func Resolve(sel string, root *html.Node) *html.Node {
	if sel == "" || root == nil {
		return nil
	}

	matcher, err := cascadia.Parse(sel)
	if err != nil {
		return nil
	}

	return cascadia.Query(root, matcher)
}

// ResolveAll returns every element matching selector under root, or
// nil for invalid selectors.
func ResolveAll(sel string, root *html.Node) []*html.Node {
	if sel == "" || root == nil {
		return nil
	}

	matcher, err := cascadia.Parse(sel)
	if err != nil {
		return nil
	}

	return cascadia.QueryAll(root, matcher)
}

// ordinalAmongSameTag returns the 1-based position of el among its
// same-tag element siblings and whether any such sibling exists at all.
func ordinalAmongSameTag(el *html.Node) (int, bool) {
	n := 1
	hasSiblings := false

	for sib := el.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && strings.EqualFold(sib.Data, el.Data) {
			n++
			hasSiblings = true
		}
	}
	if !hasSiblings {
		for sib := el.NextSibling; sib != nil; sib = sib.NextSibling {
			if sib.Type == html.ElementNode && strings.EqualFold(sib.Data, el.Data) {
				hasSiblings = true
				break
			}
		}
	}

	return n, hasSiblings
}

func parentElement(el *html.Node) *html.Node {
	p := el.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return p
}

func attr(el *html.Node, name string) string {
	for _, a := range el.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// escapeIdent escapes a string for use as a CSS identifier, following
// the CSS.escape serialization rules closely enough for id values seen
// in the wild.
func escapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == 0:
			b.WriteRune('�')
		case r >= '0' && r <= '9' && i == 0:
			b.WriteString("\\3" + string(r) + " ")
		case r == '-' && i == 0 && len(s) == 1:
			b.WriteString("\\-")
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// escapeAttrValue escapes a string for use inside a double-quoted
// attribute selector.
func escapeAttrValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
