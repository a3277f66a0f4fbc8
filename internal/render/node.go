// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

// Package render holds the component tree produced by plugin code and its
// serialization to HTML markup.
package render

// Node is one node of a component tree.
type Node interface {
	node()
}

// Text is a text node. It is HTML-escaped when serialized.
type Text string

// Fragment groups children without a wrapping element.
type Fragment []Node

// Element is a host element such as "div" or "button".
type Element struct {
	Type     string
	Props    map[string]any
	Children []Node
}

func (Text) node()     {}
func (Fragment) node() {}
func (*Element) node() {}

// NewElement creates an element. Nil children are dropped.
func NewElement(typ string, props map[string]any, children ...Node) *Element {
	el := &Element{Type: typ, Props: props}
	for _, c := range children {
		if c != nil {
			el.Children = append(el.Children, c)
		}
	}
	return el
}
