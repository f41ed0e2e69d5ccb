package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Value is the result of resolving a field. An unresolved value carries the
// path of the field spec that produced it so callers can report which selector
// missed.
type Value struct {
	Text     string
	Resolved bool
	Path     string
}

// Found returns a resolved value.
func Found(text string) Value {
	return Value{Text: text, Resolved: true}
}

// Missing returns an unresolved value for the field spec at path.
func Missing(path string) Value {
	return Value{Path: path}
}

// Usable reports whether v is resolved and non-empty.
func (v Value) Usable() bool {
	return v.Resolved && v.Text != ""
}

// OrEmpty returns the text when resolved and "" otherwise.
func (v Value) OrEmpty() string {
	if !v.Resolved {
		return ""
	}
	return v.Text
}

func (v Value) String() string {
	if !v.Resolved {
		return "<unresolved:" + v.Path + ">"
	}
	return v.Text
}

// FirstOf returns the first usable value. If none is usable the last
// candidate is returned, so an all-miss chain stays unresolved.
func FirstOf(values ...Value) Value {
	for _, v := range values {
		if v.Usable() {
			return v
		}
	}
	if len(values) == 0 {
		return Value{}
	}
	return values[len(values)-1]
}

// Resolve evaluates spec against node. Selector misses produce an unresolved
// Value, not an error; only an unusable spec returns a *FieldError.
func Resolve(node *goquery.Selection, spec FieldSpec) (Value, error) {
	switch spec.Kind {
	case KindNone:
		return Missing(spec.Path), nil

	case KindConstant:
		return Found(spec.Value), nil

	case KindAttribute:
		result := Missing(spec.Path)
		// Later pairs override earlier ones.
		for _, pair := range spec.Attributes {
			sel := selectFirst(node, pair.Selector)
			if sel.Length() == 0 {
				continue
			}
			if v, ok := sel.Attr(pair.Attribute); ok {
				result = Found(v)
			}
		}
		return result, nil

	case KindInnerHTML:
		sel := selectFirst(node, spec.Value)
		if sel.Length() == 0 {
			return Missing(spec.Path), nil
		}
		html, err := sel.Html()
		if err != nil {
			return Missing(spec.Path), &FieldError{Path: spec.Path, Kind: spec.Kind.String(), Err: err}
		}
		return Found(html), nil

	case KindInnerText:
		sel := selectFirst(node, spec.Value)
		if sel.Length() == 0 {
			return Missing(spec.Path), nil
		}
		return Found(CollapseWhitespace(sel.Text())), nil

	case KindResponsiveImage:
		img := selectFirst(node, spec.Value)
		if img.Length() == 0 {
			return Missing(spec.Path), nil
		}
		return Found(responsiveImageURL(img)), nil

	default:
		return Missing(spec.Path), &FieldError{Path: spec.Path, Kind: spec.RawKind, Err: ErrUnknownFieldKind}
	}
}

// ResolveOr resolves spec and collapses a *FieldError into an unresolved
// value, passing the error to report. Used for optional fields where a bad
// spec must not abort the story.
func ResolveOr(node *goquery.Selection, spec FieldSpec, report func(error)) Value {
	v, err := Resolve(node, spec)
	if err != nil {
		if report != nil {
			report(err)
		}
		return Missing(spec.Path)
	}
	return v
}

// selectFirst returns the first match of selector under node, or node itself
// when selector is empty.
func selectFirst(node *goquery.Selection, selector string) *goquery.Selection {
	if strings.TrimSpace(selector) == "" {
		return node.First()
	}
	return node.Find(selector).First()
}

// responsiveImageURL substitutes the largest advertised width into the
// data-src template. data-widths looks like "[240,480,960]".
func responsiveImageURL(img *goquery.Selection) string {
	src := img.AttrOr("data-src", "")
	widths := strings.Trim(strings.TrimSpace(img.AttrOr("data-widths", "")), "[]")
	parts := strings.Split(widths, ",")
	width := strings.TrimSpace(parts[len(parts)-1])
	return strings.ReplaceAll(src, "{width}", width)
}

// CollapseWhitespace trims s and folds internal whitespace runs to a single
// space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
