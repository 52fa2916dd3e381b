// Package template holds the message templates and the placeholder grammar
// used to render them.
//
// A template body is plain text with placeholders in braces. A placeholder
// is either a variable reference:
//
//	{name}
//
// or a single-level conditional:
//
//	{orderId? ' №'+orderId : ''}
//
// A conditional substitutes its true expression when the named variable is
// present and non-empty, and its false expression otherwise. Expressions
// are one or more terms joined by '+', each term a single-quoted literal or
// a variable name. Nesting is not supported; '?' and ':' inside quotes are
// literal text. Malformed bodies are rejected when the registry is built,
// never at render time.
package template

import (
	"fmt"
	"strings"
)

// SyntaxError reports a malformed placeholder in a template body.
type SyntaxError struct {
	Key         string
	Placeholder string
	Reason      string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template %q: bad placeholder {%s}: %s", e.Key, e.Placeholder, e.Reason)
}

// Template is a parsed message template. Immutable after Parse.
type Template struct {
	Key         string
	Name        string
	Body        string
	Description string

	nodes []node
}

type node interface {
	render(b *strings.Builder, vars map[string]string)
}

type textNode string

func (t textNode) render(b *strings.Builder, _ map[string]string) {
	b.WriteString(string(t))
}

type varNode string

// Unknown variables render as the empty string.
func (v varNode) render(b *strings.Builder, vars map[string]string) {
	b.WriteString(vars[string(v)])
}

type condNode struct {
	variable  string
	whenTrue  []term
	whenFalse []term
}

func (c condNode) render(b *strings.Builder, vars map[string]string) {
	branch := c.whenFalse
	if vars[c.variable] != "" {
		branch = c.whenTrue
	}
	for _, t := range branch {
		if t.isVar {
			b.WriteString(vars[t.value])
		} else {
			b.WriteString(t.value)
		}
	}
}

type term struct {
	isVar bool
	value string
}

// Parse compiles a template body, rejecting malformed placeholders.
func Parse(key, name, body, description string) (*Template, error) {
	t := &Template{
		Key:         key,
		Name:        name,
		Body:        body,
		Description: description,
	}

	rest := body
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		if open > 0 {
			t.nodes = append(t.nodes, textNode(rest[:open]))
		}
		rest = rest[open+1:]

		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, &SyntaxError{Key: key, Placeholder: rest, Reason: "missing closing brace"}
		}

		n, err := parsePlaceholder(key, rest[:end])
		if err != nil {
			return nil, err
		}
		t.nodes = append(t.nodes, n)
		rest = rest[end+1:]
	}
	if rest != "" {
		t.nodes = append(t.nodes, textNode(rest))
	}
	return t, nil
}

func parsePlaceholder(key, ph string) (node, error) {
	q := indexOutsideQuotes(ph, '?')
	if q < 0 {
		name := strings.TrimSpace(ph)
		if !validVarName(name) {
			return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "invalid variable name"}
		}
		return varNode(name), nil
	}

	name := strings.TrimSpace(ph[:q])
	if !validVarName(name) {
		return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "invalid variable name before '?'"}
	}

	branches := ph[q+1:]
	c := indexOutsideQuotes(branches, ':')
	if c < 0 {
		return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "conditional without ':'"}
	}
	if idx := indexOutsideQuotes(branches, '?'); idx >= 0 {
		return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "nested conditionals are not supported"}
	}

	whenTrue, err := parseExpr(key, ph, branches[:c])
	if err != nil {
		return nil, err
	}
	whenFalse, err := parseExpr(key, ph, branches[c+1:])
	if err != nil {
		return nil, err
	}

	return condNode{variable: name, whenTrue: whenTrue, whenFalse: whenFalse}, nil
}

// parseExpr parses a branch expression: '+'-joined quoted literals and
// variable names.
func parseExpr(key, ph, expr string) ([]term, error) {
	var terms []term

	for _, part := range splitOutsideQuotes(expr, '+') {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "empty term in expression"}
		}
		if part[0] == '\'' {
			if len(part) < 2 || part[len(part)-1] != '\'' {
				return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: "unterminated string literal"}
			}
			terms = append(terms, term{value: part[1 : len(part)-1]})
			continue
		}
		if !validVarName(part) {
			return nil, &SyntaxError{Key: key, Placeholder: ph, Reason: fmt.Sprintf("invalid term %q", part)}
		}
		terms = append(terms, term{isVar: true, value: part})
	}
	return terms, nil
}

func validVarName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

func indexOutsideQuotes(s string, c byte) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == c && !inQuote:
			return i
		}
	}
	return -1
}

func splitOutsideQuotes(s string, c byte) []string {
	var parts []string
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == c && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// Render substitutes vars into the template. Variables referenced by the
// body but absent from vars render as the empty string.
func (t *Template) Render(vars map[string]string) string {
	var b strings.Builder
	for _, n := range t.nodes {
		n.render(&b, vars)
	}
	return b.String()
}

// Variables returns the deduplicated base variable names referenced by the
// template body, in first-appearance order.
func (t *Template) Variables() []string {
	var names []string
	seen := make(map[string]bool)

	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, n := range t.nodes {
		switch v := n.(type) {
		case varNode:
			add(string(v))
		case condNode:
			add(v.variable)
			for _, branch := range [][]term{v.whenTrue, v.whenFalse} {
				for _, tm := range branch {
					if tm.isVar {
						add(tm.value)
					}
				}
			}
		}
	}
	return names
}
