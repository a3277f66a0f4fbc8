// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package render

import (
	"html"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/webcrumbs/crumbhost/internal/sandbox"
)

// Limits bound serialization. Zero fields are unlimited.
type Limits struct {
	MaxNodes       int
	MaxMarkupBytes int
	MaxDepth       int
}

var (
	tagPattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)
	attrPattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:.-]*$`)
)

// voidElements never have children or a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// propAliases maps component prop names to HTML attribute names.
var propAliases = map[string]string{
	"className": "class",
	"htmlFor":   "for",
}

// reservedProps are consumed by the tree and never rendered.
var reservedProps = map[string]bool{
	"key":      true,
	"ref":      true,
	"children": true,
}

// ToString serializes node to HTML markup. A nil node yields "".
func ToString(node Node, limits Limits) (string, error) {
	w := &writer{limits: limits}
	if err := w.node(node, 0); err != nil {
		return "", err
	}
	return w.sb.String(), nil
}

type writer struct {
	sb     strings.Builder
	limits Limits
	nodes  int
}

func (w *writer) write(s string) error {
	if w.limits.MaxMarkupBytes > 0 && w.sb.Len()+len(s) > w.limits.MaxMarkupBytes {
		return errLimit(sandbox.LimitMarkup)
	}
	w.sb.WriteString(s)
	return nil
}

func (w *writer) count() error {
	w.nodes++
	if w.limits.MaxNodes > 0 && w.nodes > w.limits.MaxNodes {
		return errLimit(sandbox.LimitNodes)
	}
	return nil
}

func (w *writer) node(n Node, depth int) error {
	if w.limits.MaxDepth > 0 && depth > w.limits.MaxDepth {
		return errLimit(sandbox.LimitDepth)
	}

	switch v := n.(type) {
	case nil:
		return nil
	case Text:
		if err := w.count(); err != nil {
			return err
		}
		return w.write(html.EscapeString(string(v)))
	case Fragment:
		for _, c := range v {
			if err := w.node(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	case *Element:
		if v == nil {
			return nil
		}
		return w.element(v, depth)
	default:
		return errContract("unsupported node type %T", n)
	}
}

func (w *writer) element(el *Element, depth int) error {
	if !tagPattern.MatchString(el.Type) {
		return errContract("invalid element type %q", el.Type)
	}
	if err := w.count(); err != nil {
		return err
	}

	tag := strings.ToLower(el.Type)
	if err := w.write("<" + tag); err != nil {
		return err
	}
	attrs, err := attributes(el.Props)
	if err != nil {
		return err
	}
	if err := w.write(attrs); err != nil {
		return err
	}

	if voidElements[tag] {
		if len(el.Children) > 0 {
			return errContract("void element <%s> cannot have children", tag)
		}
		return w.write("/>")
	}

	if err := w.write(">"); err != nil {
		return err
	}
	for _, c := range el.Children {
		if err := w.node(c, depth+1); err != nil {
			return err
		}
	}
	return w.write("</" + tag + ">")
}

// attributes renders props as a sorted attribute list with a leading space.
func attributes(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "", nil
	}

	names := make([]string, 0, len(props))
	values := make(map[string]string, len(props))
	for key, raw := range props {
		if reservedProps[key] {
			continue
		}
		name := key
		if alias, ok := propAliases[key]; ok {
			name = alias
		}
		if !attrPattern.MatchString(name) {
			continue
		}

		var value string
		switch v := raw.(type) {
		case nil:
			continue
		case bool:
			if !v {
				continue
			}
		case string:
			value = v
		case map[string]any:
			if name != "style" {
				return "", errContract("prop %q must not be a table", key)
			}
			value = styleString(v)
		default:
			s, ok := scalarString(raw)
			if !ok {
				// Functions and other host values (e.g. event handlers) have no
				// markup form.
				continue
			}
			value = s
		}
		if _, dup := values[name]; !dup {
			names = append(names, name)
		}
		values[name] = value
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(" ")
		sb.WriteString(name)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(values[name]))
		sb.WriteString(`"`)
	}
	return sb.String(), nil
}

// styleString renders a style table as sorted "prop:value;" declarations
// with camelCase keys converted to kebab-case.
func styleString(style map[string]any) string {
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		var value string
		switch v := style[k].(type) {
		case string:
			value = v
		default:
			s, ok := scalarString(v)
			if !ok {
				continue
			}
			value = s
		}
		sb.WriteString(kebab(k))
		sb.WriteString(":")
		sb.WriteString(value)
		sb.WriteString(";")
	}
	return sb.String()
}

func scalarString(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return "", false
		}
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	default:
		return "", false
	}
}

func kebab(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('-')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
