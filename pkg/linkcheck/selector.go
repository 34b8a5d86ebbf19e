package linkcheck

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// This file implements the minimal subset of CSS selector syntax the
// default fragment validator needs: a descendant-combinator chain of
// compound selectors, each an optional tag name followed by any number of
// #id, .class, and [attr] / [attr=value] / [attr="value"] simple selectors.
// Combinators other than descendant whitespace (">", "+", "~"), and
// pseudo-classes, are not supported and produce a parse error — the same
// class of failure the source's Jsoup-backed selector engine raises for
// syntax it rejects.

type attrMatch struct {
	name     string
	value    string
	hasValue bool
}

type compoundSelector struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type selector struct {
	compounds []compoundSelector // descendant chain, left to right
}

// parseSelector parses a CSS selector string (a single descendant chain).
func parseSelector(raw string) (*selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty selector")
	}
	fields := strings.Fields(raw)
	compounds := make([]compoundSelector, 0, len(fields))
	for _, field := range fields {
		compound, err := parseCompound(field)
		if err != nil {
			return nil, err
		}
		compounds = append(compounds, compound)
	}
	return &selector{compounds: compounds}, nil
}

func parseCompound(field string) (compoundSelector, error) {
	var compound compoundSelector
	i := 0
	n := len(field)

	if i < n && isNameStart(field[i]) {
		start := i
		for i < n && isNameChar(field[i]) {
			i++
		}
		compound.tag = strings.ToLower(field[start:i])
	}

	for i < n {
		switch field[i] {
		case '#':
			i++
			start := i
			for i < n && isNameChar(field[i]) {
				i++
			}
			if start == i {
				return compoundSelector{}, fmt.Errorf("invalid selector %q: empty id", field)
			}
			compound.id = field[start:i]
		case '.':
			i++
			start := i
			for i < n && isNameChar(field[i]) {
				i++
			}
			if start == i {
				return compoundSelector{}, fmt.Errorf("invalid selector %q: empty class", field)
			}
			compound.classes = append(compound.classes, field[start:i])
		case '[':
			end := strings.IndexByte(field[i:], ']')
			if end < 0 {
				return compoundSelector{}, fmt.Errorf("invalid selector %q: unterminated attribute selector", field)
			}
			attr, err := parseAttr(field[i+1 : i+end])
			if err != nil {
				return compoundSelector{}, fmt.Errorf("invalid selector %q: %w", field, err)
			}
			compound.attrs = append(compound.attrs, attr)
			i += end + 1
		default:
			return compoundSelector{}, fmt.Errorf("unsupported selector syntax %q at %q", field, field[i:])
		}
	}
	return compound, nil
}

func parseAttr(body string) (attrMatch, error) {
	eq := strings.IndexByte(body, '=')
	if eq < 0 {
		name := strings.TrimSpace(body)
		if name == "" {
			return attrMatch{}, fmt.Errorf("empty attribute name")
		}
		return attrMatch{name: name}, nil
	}
	name := strings.TrimSpace(body[:eq])
	value := strings.TrimSpace(body[eq+1:])
	value = strings.Trim(value, `"'`)
	if name == "" {
		return attrMatch{}, fmt.Errorf("empty attribute name")
	}
	return attrMatch{name: name, value: value, hasValue: true}, nil
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameChar(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9') || b == '-'
}

// selectAll returns up to limit elements matching sel's full descendant
// chain, in document order. limit <= 0 means unlimited.
func selectAll(doc *html.Node, sel *selector, limit int) []*html.Node {
	var matches []*html.Node
	walk(doc, func(node *html.Node) bool {
		if matchesChain(node, sel.compounds) {
			matches = append(matches, node)
			if limit > 0 && len(matches) >= limit {
				return false
			}
		}
		return true
	})
	return matches
}

func walk(node *html.Node, visit func(*html.Node) bool) bool {
	if node.Type == html.ElementNode {
		if !visit(node) {
			return false
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if !walk(child, visit) {
			return false
		}
	}
	return true
}

// matchesChain reports whether node matches the last compound in the chain
// and has ancestors matching every earlier compound, in order.
func matchesChain(node *html.Node, compounds []compoundSelector) bool {
	if len(compounds) == 0 {
		return false
	}
	last := compounds[len(compounds)-1]
	if !matchesCompound(node, last) {
		return false
	}
	remaining := compounds[:len(compounds)-1]
	ancestor := node.Parent
	for len(remaining) > 0 && ancestor != nil {
		if ancestor.Type == html.ElementNode && matchesCompound(ancestor, remaining[len(remaining)-1]) {
			remaining = remaining[:len(remaining)-1]
		}
		ancestor = ancestor.Parent
	}
	return len(remaining) == 0
}

func matchesCompound(node *html.Node, compound compoundSelector) bool {
	if node.Type != html.ElementNode {
		return false
	}
	if compound.tag != "" && !strings.EqualFold(node.Data, compound.tag) {
		return false
	}
	attrs := make(map[string]string, len(node.Attr))
	for _, attr := range node.Attr {
		attrs[attr.Key] = attr.Val
	}
	if compound.id != "" && attrs["id"] != compound.id {
		return false
	}
	if len(compound.classes) > 0 {
		classSet := make(map[string]bool)
		for _, class := range strings.Fields(attrs["class"]) {
			classSet[class] = true
		}
		for _, class := range compound.classes {
			if !classSet[class] {
				return false
			}
		}
	}
	for _, attr := range compound.attrs {
		value, present := attrs[attr.name]
		if !present {
			return false
		}
		if attr.hasValue && value != attr.value {
			return false
		}
	}
	return true
}
