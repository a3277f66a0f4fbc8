// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package render_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webcrumbs/crumbhost/internal/render"
	"github.com/webcrumbs/crumbhost/internal/sandbox"
	"github.com/webcrumbs/crumbhost/pkg/errutil"
)

func TestToString(t *testing.T) {
	tests := []struct {
		name string
		node render.Node
		want string
	}{
		{
			name: "nil node",
			node: nil,
			want: "",
		},
		{
			name: "single element with text",
			node: render.NewElement("div", nil, render.Text("hello")),
			want: "<div>hello</div>",
		},
		{
			name: "text is escaped",
			node: render.NewElement("p", nil, render.Text(`<script>"x" & 'y'</script>`)),
			want: "<p>&lt;script&gt;&#34;x&#34; &amp; &#39;y&#39;&lt;/script&gt;</p>",
		},
		{
			name: "nested children keep order",
			node: render.NewElement("ul", nil,
				render.NewElement("li", nil, render.Text("a")),
				render.NewElement("li", nil, render.Text("b")),
			),
			want: "<ul><li>a</li><li>b</li></ul>",
		},
		{
			name: "fragment has no wrapper",
			node: render.Fragment{render.Text("a"), render.NewElement("b", nil)},
			want: "a<b></b>",
		},
		{
			name: "void element self closes",
			node: render.NewElement("br", nil),
			want: "<br/>",
		},
		{
			name: "tag is lowercased",
			node: render.NewElement("DIV", nil),
			want: "<div></div>",
		},
		{
			name: "attributes are sorted and aliased",
			node: render.NewElement("label", map[string]any{
				"id":        "x",
				"className": "big",
				"htmlFor":   "name",
			}),
			want: `<label class="big" for="name" id="x"></label>`,
		},
		{
			name: "boolean and nil attributes",
			node: render.NewElement("input", map[string]any{
				"disabled": true,
				"checked":  false,
				"value":    nil,
			}),
			want: `<input disabled=""/>`,
		},
		{
			name: "numbers and reserved props",
			node: render.NewElement("td", map[string]any{
				"colspan": float64(2),
				"width":   1.5,
				"key":     "k1",
				"ref":     "r",
			}),
			want: `<td colspan="2" width="1.5"></td>`,
		},
		{
			name: "attribute values are escaped",
			node: render.NewElement("a", map[string]any{"title": `"><script>`}),
			want: `<a title="&#34;&gt;&lt;script&gt;"></a>`,
		},
		{
			name: "style table",
			node: render.NewElement("div", map[string]any{
				"style": map[string]any{"fontSize": float64(12), "color": "red"},
			}),
			want: `<div style="color:red;font-size:12;"></div>`,
		},
		{
			name: "invalid attribute names are skipped",
			node: render.NewElement("div", map[string]any{`on click"`: "x", "data-id": "7"}),
			want: `<div data-id="7"></div>`,
		},
		{
			name: "host values without markup form are skipped",
			node: render.NewElement("button", map[string]any{"onClick": struct{}{}}, render.Text("Go")),
			want: `<button>Go</button>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := render.ToString(tt.node, render.Limits{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToString_ContractViolations(t *testing.T) {
	tests := []struct {
		name string
		node render.Node
	}{
		{"invalid tag", render.NewElement("div><script", nil)},
		{"empty tag", render.NewElement("", nil)},
		{"void element with children", render.NewElement("img", nil, render.Text("x"))},
		{"table prop other than style", render.NewElement("div", map[string]any{"data": map[string]any{}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := render.ToString(tt.node, render.Limits{})
			errutil.AssertErrorCode(t, err, sandbox.CodeContractViolation)
		})
	}
}

func TestToString_Limits(t *testing.T) {
	wide := make([]render.Node, 0, 20)
	for range 20 {
		wide = append(wide, render.NewElement("span", nil))
	}

	t.Run("node limit", func(t *testing.T) {
		_, err := render.ToString(render.NewElement("div", nil, wide...), render.Limits{MaxNodes: 10})
		errutil.AssertErrorCode(t, err, sandbox.CodeResourceExceeded)
		errutil.AssertErrorContext(t, err, "limit", sandbox.LimitNodes)
	})

	t.Run("markup limit", func(t *testing.T) {
		_, err := render.ToString(render.NewElement("p", nil, render.Text(strings.Repeat("x", 100))), render.Limits{MaxMarkupBytes: 50})
		errutil.AssertErrorCode(t, err, sandbox.CodeResourceExceeded)
		errutil.AssertErrorContext(t, err, "limit", sandbox.LimitMarkup)
	})

	t.Run("depth limit", func(t *testing.T) {
		var n render.Node = render.Text("leaf")
		for range 10 {
			n = render.NewElement("div", nil, n)
		}
		_, err := render.ToString(n, render.Limits{MaxDepth: 5})
		errutil.AssertErrorCode(t, err, sandbox.CodeResourceExceeded)
		errutil.AssertErrorContext(t, err, "limit", sandbox.LimitDepth)
	})

	t.Run("within limits", func(t *testing.T) {
		got, err := render.ToString(render.NewElement("div", nil, wide...), render.Limits{MaxNodes: 21, MaxMarkupBytes: 1024})
		require.NoError(t, err)
		assert.Equal(t, "<div>"+strings.Repeat("<span></span>", 20)+"</div>", got)
	})
}

func TestNewElement_DropsNilChildren(t *testing.T) {
	el := render.NewElement("div", nil, nil, render.Text("a"), nil)
	assert.Len(t, el.Children, 1)
}
