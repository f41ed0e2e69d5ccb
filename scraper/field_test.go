package scraper

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseNode(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Find("body").Children().First()
}

// TestResolve_Constant verifies constants ignore the node
func TestResolve_Constant(t *testing.T) {
	node := parseNode(t, `<div><a href="/x">X</a></div>`)

	v, err := Resolve(node, Constant("fixed"))
	require.NoError(t, err)
	assert.True(t, v.Resolved)
	assert.Equal(t, "fixed", v.Text)
}

// TestResolve_AttributeLastMatchWins verifies later pairs override earlier
// ones and missing pairs are skipped
func TestResolve_AttributeLastMatchWins(t *testing.T) {
	node := parseNode(t, `<div><a href="/a" data-x="1">A</a><img src="/i.jpg"></div>`)

	spec := Attribute(
		AttributeSelector{Selector: "a", Attribute: "href"},
		AttributeSelector{Selector: "img", Attribute: "src"},
		AttributeSelector{Selector: "span", Attribute: "title"},
	)
	v, err := Resolve(node, spec)
	require.NoError(t, err)
	assert.Equal(t, "/i.jpg", v.Text)
}

// TestResolve_AttributeMissing verifies a miss yields an unresolved value
// tagged with the field spec path
func TestResolve_AttributeMissing(t *testing.T) {
	node := parseNode(t, `<div><a>A</a></div>`)

	spec := Attribute(AttributeSelector{Selector: "a", Attribute: "href"}).WithPath("sites.s.blocks.b.story_url")
	v, err := Resolve(node, spec)
	require.NoError(t, err)
	assert.False(t, v.Resolved)
	assert.Equal(t, "sites.s.blocks.b.story_url", v.Path)
	assert.Equal(t, "", v.OrEmpty())
}

// TestResolve_AttributeEmptySelector verifies an empty selector reads the
// node itself
func TestResolve_AttributeEmptySelector(t *testing.T) {
	node := parseNode(t, `<a href="/self">self</a>`)

	v, err := Resolve(node, Attribute(AttributeSelector{Selector: "", Attribute: "href"}))
	require.NoError(t, err)
	assert.Equal(t, "/self", v.Text)
}

// TestResolve_InnerText verifies whitespace is collapsed
func TestResolve_InnerText(t *testing.T) {
	node := parseNode(t, "<div><h2>  Hello\n\t  <b>big</b>   world </h2></div>")

	v, err := Resolve(node, InnerText("h2"))
	require.NoError(t, err)
	assert.Equal(t, "Hello big world", v.Text)
}

// TestResolve_InnerTextEntities verifies entities are decoded exactly once
func TestResolve_InnerTextEntities(t *testing.T) {
	node := parseNode(t, `<div><p>Fish &amp;amp; Chips &lt;3</p></div>`)

	v, err := Resolve(node, InnerText("p"))
	require.NoError(t, err)
	assert.Equal(t, "Fish &amp; Chips <3", v.Text)
}

// TestResolve_InnerHTML verifies markup is returned as-is
func TestResolve_InnerHTML(t *testing.T) {
	node := parseNode(t, `<div><p>Hi <em>there</em></p></div>`)

	v, err := Resolve(node, InnerHTML("p"))
	require.NoError(t, err)
	assert.Equal(t, "Hi <em>there</em>", v.Text)
}

// TestResolve_ResponsiveImage verifies the last width is substituted
func TestResolve_ResponsiveImage(t *testing.T) {
	node := parseNode(t, `<div><img data-src="https://img.test/{width}/p.jpg" data-widths="[240,480,960]"></div>`)

	v, err := Resolve(node, ResponsiveImage("img"))
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/960/p.jpg", v.Text)
}

// TestResolve_ResponsiveImageMissing verifies a missing image is unresolved
func TestResolve_ResponsiveImageMissing(t *testing.T) {
	node := parseNode(t, `<div><span></span></div>`)

	v, err := Resolve(node, ResponsiveImage("img"))
	require.NoError(t, err)
	assert.False(t, v.Resolved)
}

// TestResolve_None verifies an unconfigured field is unresolved
func TestResolve_None(t *testing.T) {
	node := parseNode(t, `<div></div>`)

	v, err := Resolve(node, FieldSpec{Path: "p"})
	require.NoError(t, err)
	assert.False(t, v.Resolved)
	assert.Equal(t, "p", v.Path)
}

// TestResolve_UnknownKind verifies unknown kinds fail with a FieldError
func TestResolve_UnknownKind(t *testing.T) {
	node := parseNode(t, `<div></div>`)

	spec := FieldSpec{Kind: KindUnknown, RawKind: "xpath", Path: "sites.s.blocks.b.title"}
	_, err := Resolve(node, spec)
	require.Error(t, err)

	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "sites.s.blocks.b.title", fieldErr.Path)
	assert.True(t, errors.Is(err, ErrUnknownFieldKind))
}

// TestResolveOr_ReportsAndDegrades verifies a bad spec degrades to unresolved
func TestResolveOr_ReportsAndDegrades(t *testing.T) {
	node := parseNode(t, `<div></div>`)

	var reported error
	v := ResolveOr(node, FieldSpec{Kind: KindUnknown, RawKind: "xpath"}, func(err error) { reported = err })
	assert.False(t, v.Resolved)
	assert.ErrorIs(t, reported, ErrUnknownFieldKind)
}

// TestFirstOf verifies fallback chains skip unresolved and empty values
func TestFirstOf(t *testing.T) {
	assert.Equal(t, Found("a"), FirstOf(Found("a"), Found("b")))
	assert.Equal(t, Found("b"), FirstOf(Missing("x"), Found("b")))
	assert.Equal(t, Found("b"), FirstOf(Found(""), Found("b")))

	last := FirstOf(Missing("x"), Missing("y"))
	assert.False(t, last.Resolved)
	assert.Equal(t, "y", last.Path)

	assert.Equal(t, Value{}, FirstOf())
}

// TestCollapseWhitespace verifies trimming and folding
func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a\n\tb   c  "))
	assert.Equal(t, "", CollapseWhitespace(" \n "))
}
