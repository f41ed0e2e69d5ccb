package scraper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// FieldKind identifies which variant a FieldSpec holds.
type FieldKind int

const (
	// KindNone is the zero value: the field is not configured.
	KindNone FieldKind = iota
	KindConstant
	KindAttribute
	KindInnerHTML
	KindInnerText
	KindResponsiveImage
	// KindUnknown marks a kind name the decoder did not recognise. Resolving
	// it fails with a FieldError for that field only.
	KindUnknown
)

func (k FieldKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConstant:
		return "constant"
	case KindAttribute:
		return "attribute"
	case KindInnerHTML:
		return "inner_html"
	case KindInnerText:
		return "inner_text"
	case KindResponsiveImage:
		return "responsive_image"
	default:
		return "unknown"
	}
}

// AttributeSelector reads Attribute from the first node matched by Selector.
type AttributeSelector struct {
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"`
}

// FieldSpec describes how to derive one field value from a markup node. It
// is a tagged union: Kind selects which of Value or Attributes is meaningful.
//
// In YAML a field spec is a mapping with exactly one key naming the kind:
//
//	title: {inner_text: "h2 a"}
//	key:   {attribute: {href: "a"}}
//	image: {attribute: [{selector: img, attribute: src}, {selector: img, attribute: data-src}]}
//
// Kind names are matched case-insensitively with underscores ignored, so
// "InnerText" and "inner_text" are equivalent.
type FieldSpec struct {
	Kind FieldKind
	// Value is the literal for KindConstant and the selector for the
	// single-selector kinds.
	Value string
	// Attributes is used by KindAttribute, in configured order.
	Attributes []AttributeSelector
	// RawKind is the kind name as written in the configuration.
	RawKind string
	// Path locates the field spec in the configuration tree, e.g.
	// "sites.example.blocks.top.title".
	Path string
}

// Constant returns a spec that always resolves to v.
func Constant(v string) FieldSpec {
	return FieldSpec{Kind: KindConstant, Value: v}
}

// Attribute returns a spec reading attributes; the last match wins.
func Attribute(pairs ...AttributeSelector) FieldSpec {
	return FieldSpec{Kind: KindAttribute, Attributes: pairs}
}

// InnerHTML returns a spec reading the inner markup of selector.
func InnerHTML(selector string) FieldSpec {
	return FieldSpec{Kind: KindInnerHTML, Value: selector}
}

// InnerText returns a spec reading the normalised text of selector.
func InnerText(selector string) FieldSpec {
	return FieldSpec{Kind: KindInnerText, Value: selector}
}

// ResponsiveImage returns a spec reading a data-src/data-widths image.
func ResponsiveImage(selector string) FieldSpec {
	return FieldSpec{Kind: KindResponsiveImage, Value: selector}
}

// IsSet reports whether the field was configured at all.
func (f FieldSpec) IsSet() bool {
	return f.Kind != KindNone
}

// WithPath returns a copy of f located at path.
func (f FieldSpec) WithPath(path string) FieldSpec {
	f.Path = path
	return f
}

// selectors lists every selector the field spec evaluates.
func (f FieldSpec) selectors() []string {
	switch f.Kind {
	case KindAttribute:
		out := make([]string, 0, len(f.Attributes))
		for _, a := range f.Attributes {
			out = append(out, a.Selector)
		}
		return out
	case KindInnerHTML, KindInnerText, KindResponsiveImage:
		return []string{f.Value}
	}
	return nil
}

// UnmarshalYAML decodes the single-key mapping form of a field spec.
func (f *FieldSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: field spec must be a mapping with one kind key", node.Line)
	}
	if len(node.Content) != 2 {
		return fmt.Errorf("line %d: field spec must have exactly one kind key, found %d", node.Line, len(node.Content)/2)
	}

	keyNode, valueNode := node.Content[0], node.Content[1]
	spec := FieldSpec{RawKind: keyNode.Value}

	switch normalizeKind(keyNode.Value) {
	case "constant":
		spec.Kind = KindConstant
	case "attribute":
		spec.Kind = KindAttribute
	case "innerhtml":
		spec.Kind = KindInnerHTML
	case "innertext":
		spec.Kind = KindInnerText
	case "responsiveimage":
		spec.Kind = KindResponsiveImage
	default:
		spec.Kind = KindUnknown
		*f = spec
		return nil
	}

	if spec.Kind == KindAttribute {
		attrs, err := decodeAttributes(valueNode)
		if err != nil {
			return err
		}
		spec.Attributes = attrs
		*f = spec
		return nil
	}

	if valueNode.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: %s expects a string value", valueNode.Line, keyNode.Value)
	}
	spec.Value = valueNode.Value
	*f = spec
	return nil
}

// decodeAttributes accepts either an ordered mapping of attribute name to
// selector, or a sequence of {selector, attribute} mappings.
func decodeAttributes(node *yaml.Node) ([]AttributeSelector, error) {
	switch node.Kind {
	case yaml.MappingNode:
		attrs := make([]AttributeSelector, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			attrs = append(attrs, AttributeSelector{
				Attribute: node.Content[i].Value,
				Selector:  node.Content[i+1].Value,
			})
		}
		return attrs, nil
	case yaml.SequenceNode:
		var attrs []AttributeSelector
		if err := node.Decode(&attrs); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode attribute list: %w", node.Line, err)
		}
		return attrs, nil
	default:
		return nil, fmt.Errorf("line %d: attribute expects a mapping or a list", node.Line)
	}
}

func normalizeKind(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, "_", ""), "-", ""))
}

// Block sources.
const (
	SourceHTML = "html"
	SourceFeed = "feed"
)

// BlockSpec describes one listing region of a site. Blocks are independent
// and may live on different pages.
type BlockSpec struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Source        string `yaml:"source,omitempty"` // "html" (default) or "feed"
	BlockSelector string `yaml:"block_selector"`
	StorySelector string `yaml:"story_selector"`
	KeyRegExp     string `yaml:"key_regexp"`

	Key         FieldSpec `yaml:"key"`
	StoryURL    FieldSpec `yaml:"story_url"`
	ImageURL    FieldSpec `yaml:"image_url"`
	Title       FieldSpec `yaml:"title"`
	Description FieldSpec `yaml:"description"`

	InsideImageURL     FieldSpec `yaml:"inside_image_url"`
	InsideTitle        FieldSpec `yaml:"inside_title"`
	InsideDescription  FieldSpec `yaml:"inside_description"`
	InsideLede         FieldSpec `yaml:"inside_lede"`
	InsideTagsSelector string    `yaml:"inside_tags_selector"`

	// Invalid holds the *ConfigError found when the block was compiled as
	// part of a site. An invalid block is never scanned; its siblings are.
	Invalid error `yaml:"-"`

	keyPattern *regexp.Regexp
}

// IsFeed reports whether the block reads an RSS/Atom document.
func (b *BlockSpec) IsFeed() bool {
	return strings.EqualFold(b.Source, SourceFeed)
}

// HasDetail reports whether any field requires fetching the story page.
func (b *BlockSpec) HasDetail() bool {
	return b.InsideImageURL.IsSet() || b.InsideTitle.IsSet() ||
		b.InsideDescription.IsSet() || b.InsideLede.IsSet() ||
		b.InsideTagsSelector != ""
}

// MatchKey applies the key expression to s. The first capture group is the
// key; an expression without groups yields the whole match.
func (b *BlockSpec) MatchKey(s string) (string, bool) {
	re := b.keyPattern
	if re == nil {
		var err error
		re, err = regexp.Compile(b.KeyRegExp)
		if err != nil {
			return "", false
		}
		b.keyPattern = re
	}

	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	if len(m) > 1 {
		return m[1], true
	}
	return m[0], true
}

// Compile validates the block, compiles its key expression and stamps every
// field spec with its configuration path.
func (b *BlockSpec) Compile(path string) error {
	if b.Name == "" {
		return &ConfigError{Path: path, Err: ErrMissingKey, Key: "name"}
	}
	if b.URL == "" {
		return &ConfigError{Path: path, Err: ErrMissingKey, Key: "url"}
	}
	if b.Source != "" && !strings.EqualFold(b.Source, SourceHTML) && !b.IsFeed() {
		return &ConfigError{Path: path + ".source", Err: fmt.Errorf("unsupported source %q", b.Source)}
	}
	if !b.IsFeed() {
		if b.BlockSelector == "" {
			return &ConfigError{Path: path, Err: ErrMissingKey, Key: "block_selector"}
		}
		if b.StorySelector == "" {
			return &ConfigError{Path: path, Err: ErrMissingKey, Key: "story_selector"}
		}
		if !b.StoryURL.IsSet() {
			return &ConfigError{Path: path, Err: ErrMissingKey, Key: "story_url"}
		}
		if !b.Key.IsSet() {
			return &ConfigError{Path: path, Err: ErrMissingKey, Key: "key"}
		}
	}
	if b.KeyRegExp == "" {
		return &ConfigError{Path: path, Err: ErrMissingKey, Key: "key_regexp"}
	}

	re, err := regexp.Compile(b.KeyRegExp)
	if err != nil {
		return &ConfigError{Path: path + ".key_regexp", Err: err}
	}
	b.keyPattern = re

	fields := []struct {
		name string
		spec *FieldSpec
	}{
		{"key", &b.Key},
		{"story_url", &b.StoryURL},
		{"image_url", &b.ImageURL},
		{"title", &b.Title},
		{"description", &b.Description},
		{"inside_image_url", &b.InsideImageURL},
		{"inside_title", &b.InsideTitle},
		{"inside_description", &b.InsideDescription},
		{"inside_lede", &b.InsideLede},
	}
	for _, f := range fields {
		fieldPath := path + "." + f.name
		*f.spec = f.spec.WithPath(fieldPath)
		for _, sel := range f.spec.selectors() {
			if err := checkSelector(sel); err != nil {
				return &ConfigError{Path: fieldPath, Err: err}
			}
		}
	}

	for key, sel := range map[string]string{
		"block_selector":       b.BlockSelector,
		"story_selector":       b.StorySelector,
		"inside_tags_selector": b.InsideTagsSelector,
	} {
		if err := checkSelector(sel); err != nil {
			return &ConfigError{Path: path + "." + key, Err: err}
		}
	}

	return nil
}

// checkSelector rejects selectors cascadia cannot parse. goquery treats
// those as matching nothing, which would hide typos as selector misses.
func checkSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return nil
	}
	if _, err := cascadia.Compile(sel); err != nil {
		return fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	return nil
}

// DefaultTimePeriod is the summary window used when a site sets none.
const DefaultTimePeriod = 24 * time.Hour

// SummarySpec holds per-site digest settings.
type SummarySpec struct {
	TimePeriodS    int64    `yaml:"time_period_s"`
	OutputHTMLFile string   `yaml:"output_html_file"`
	MaximumScore   *float64 `yaml:"maximum_score"`
	Format         string   `yaml:"format"` // text (default), html, table or json
}

// Window returns the summary window length.
func (s SummarySpec) Window() time.Duration {
	if s.TimePeriodS <= 0 {
		return DefaultTimePeriod
	}
	return time.Duration(s.TimePeriodS) * time.Second
}

// ScoreCeiling returns the maximum score; negative disables the filter.
func (s SummarySpec) ScoreCeiling() float64 {
	if s.MaximumScore == nil {
		return -1
	}
	return *s.MaximumScore
}

// SiteSpec is a named site with its ordered blocks.
type SiteSpec struct {
	Name    string      `yaml:"name"`
	Blocks  []BlockSpec `yaml:"blocks"`
	Summary SummarySpec `yaml:"summary"`
}

// Compile validates the site and all of its blocks. Only site-level
// problems are returned; a block that fails to compile is marked Invalid
// and the rest of the site stays usable.
func (s *SiteSpec) Compile(path string) error {
	if s.Name == "" {
		return &ConfigError{Path: path, Err: ErrMissingKey, Key: "name"}
	}
	sitePath := path + "." + s.Name

	seen := make(map[string]bool, len(s.Blocks))
	for i := range s.Blocks {
		block := &s.Blocks[i]
		blockPath := fmt.Sprintf("%s.blocks.%s", sitePath, blockLabel(block, i))
		block.Invalid = block.Compile(blockPath)
		if block.Invalid != nil {
			continue
		}
		if seen[block.Name] {
			block.Invalid = &ConfigError{Path: blockPath, Err: errors.New("duplicate block name")}
			continue
		}
		seen[block.Name] = true
	}

	switch strings.ToLower(s.Summary.Format) {
	case "", "text", "html", "table", "json":
	default:
		return &ConfigError{Path: sitePath + ".summary.format", Err: fmt.Errorf("unsupported format %q", s.Summary.Format)}
	}

	return nil
}

// Problems returns the errors of every invalid block, in block order.
func (s *SiteSpec) Problems() []error {
	var errs []error
	for i := range s.Blocks {
		if s.Blocks[i].Invalid != nil {
			errs = append(errs, s.Blocks[i].Invalid)
		}
	}
	return errs
}

// Block returns the named block.
func (s *SiteSpec) Block(name string) (*BlockSpec, bool) {
	for i := range s.Blocks {
		if s.Blocks[i].Name == name {
			return &s.Blocks[i], true
		}
	}
	return nil, false
}

func blockLabel(b *BlockSpec, i int) string {
	if b.Name != "" {
		return b.Name
	}
	return fmt.Sprintf("%d", i)
}
