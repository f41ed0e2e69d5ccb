package discovery

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pevans/newsdigest/scraper"
	"github.com/pevans/newsdigest/stories"
	"go.uber.org/zap"
)

// Outcome classifies a finished block scan.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeSkipped is recoverable: the page had no matching block or rows.
	OutcomeSkipped
	// OutcomeFailed aborts the block: nothing of it is persisted.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Stamp identifies the site scan a block belongs to. Every row of one site
// scan shares the same timestamp.
type Stamp struct {
	Site      string
	ScanID    uuid.UUID
	ScannedAt time.Time
}

// BlockResult holds the rows extracted from one block.
type BlockResult struct {
	Block     string
	Outcome   Outcome
	Err       error
	Stories   []stories.Story
	Tags      []stories.Tag
	StoryTags []stories.StoryTag
}

// DocumentFetcher retrieves and parses story detail pages.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, uri string) (*goquery.Document, error)
}

// Extractor turns listing pages into story rows.
type Extractor struct {
	pages  DocumentFetcher
	logger *zap.Logger
}

// NewExtractor creates an Extractor that follows detail links through pages.
func NewExtractor(pages DocumentFetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{pages: pages, logger: logger}
}

// candidate is a listing row before key matching. HTML and feed blocks both
// reduce to these.
type candidate struct {
	key         scraper.Value
	url         scraper.Value
	image       scraper.Value
	title       scraper.Value
	description scraper.Value
}

// ExtractBlock extracts the stories of block from doc. Rows of every element
// matching the block selector are taken in document order. base is the
// block's page URL, against which story, image and tag links are resolved.
func (e *Extractor) ExtractBlock(ctx context.Context, stamp Stamp, base *url.URL, doc *goquery.Document, block *scraper.BlockSpec) BlockResult {
	result := BlockResult{Block: block.Name}

	root := doc.Find(block.BlockSelector)
	if root.Length() == 0 {
		result.Outcome = OutcomeSkipped
		result.Err = &SelectorMissError{Block: block.Name, Key: "block_selector", Selector: block.BlockSelector}
		return result
	}

	rows := root.Find(block.StorySelector)
	if rows.Length() == 0 {
		result.Outcome = OutcomeSkipped
		result.Err = &SelectorMissError{Block: block.Name, Key: "story_selector", Selector: block.StorySelector}
		return result
	}

	log := e.blockLogger(stamp, block)
	report := func(err error) {
		log.Warn("field configuration error", zap.Error(err))
	}

	candidates := make([]candidate, 0, rows.Length())
	for i := range rows.Nodes {
		row := rows.Eq(i)

		key, err := scraper.Resolve(row, block.Key)
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("failed to resolve story key: %w", err)
			return result
		}

		candidates = append(candidates, candidate{
			key:         key,
			url:         scraper.ResolveOr(row, block.StoryURL, report),
			image:       scraper.ResolveOr(row, block.ImageURL, report),
			title:       scraper.ResolveOr(row, block.Title, report),
			description: scraper.ResolveOr(row, block.Description, report),
		})
	}

	return e.process(ctx, stamp, base, block, candidates)
}

// process applies key matching, de-duplication, positions, detail pages and
// tags to candidates in order.
func (e *Extractor) process(ctx context.Context, stamp Stamp, base *url.URL, block *scraper.BlockSpec, candidates []candidate) BlockResult {
	result := BlockResult{Block: block.Name}
	log := e.blockLogger(stamp, block)
	report := func(err error) {
		log.Warn("field configuration error", zap.Error(err))
	}

	seen := make(map[string]bool, len(candidates))
	position := 0

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return failed(block.Name, err)
		}

		if !c.key.Usable() {
			log.Warn("no match for story key", zap.Int("row", i+1), zap.String("field", c.key.Path))
			continue
		}
		key, ok := block.MatchKey(c.key.Text)
		if !ok {
			log.Warn("story key does not match key_regexp", zap.Int("row", i+1), zap.String("value", c.key.Text))
			continue
		}

		storyURL := resolveURL(base, c.url)
		if !storyURL.Usable() {
			log.Warn("story url not found", zap.Int("row", i+1), zap.String("key", key))
			continue
		}

		if seen[key] {
			continue
		}
		seen[key] = true
		position++

		image := resolveURL(base, c.image)
		title := c.title
		description := c.description

		if block.HasDetail() {
			detail, err := e.pages.FetchDocument(ctx, storyURL.Text)
			if err != nil {
				return failed(block.Name, fmt.Errorf("failed to fetch story %s: %w", storyURL.Text, err))
			}

			page := detail.Selection
			storyBase, _ := url.Parse(storyURL.Text)

			image = scraper.FirstOf(resolveURL(storyBase, scraper.ResolveOr(page, block.InsideImageURL, report)), image)
			title = scraper.FirstOf(scraper.ResolveOr(page, block.InsideTitle, report), title)
			description = scraper.FirstOf(
				scraper.ResolveOr(page, block.InsideLede, report),
				scraper.ResolveOr(page, block.InsideDescription, report),
				description,
			)

			if block.InsideTagsSelector != "" {
				detail.Find(block.InsideTagsSelector).Each(func(_ int, a *goquery.Selection) {
					href, ok := a.Attr("href")
					if !ok {
						return
					}
					tagURL := resolveURL(base, scraper.Found(href))
					if !tagURL.Usable() {
						return
					}
					result.Tags = append(result.Tags, stories.Tag{
						URL:   tagURL.Text,
						Title: scraper.CollapseWhitespace(a.Text()),
					})
					result.StoryTags = append(result.StoryTags, stories.StoryTag{
						ScannedAt: stamp.ScannedAt,
						Story:     storyURL.Text,
						Tag:       tagURL.Text,
					})
				})
			}
		}

		story := stories.Story{
			ScannedAt:   stamp.ScannedAt,
			ScanID:      stamp.ScanID,
			Site:        stamp.Site,
			Block:       block.Name,
			Position:    position,
			Key:         key,
			URL:         storyURL.Text,
			ImageURL:    optional(image),
			Title:       optional(title),
			Description: optional(description),
		}
		log.Debug("collected story",
			zap.String("key", key),
			zap.Int("position", position),
			zap.String("url", story.URL),
			zap.Stringer("title", title),
		)
		result.Stories = append(result.Stories, story)
	}

	result.Outcome = OutcomeOK
	return result
}

func (e *Extractor) blockLogger(stamp Stamp, block *scraper.BlockSpec) *zap.Logger {
	return e.logger.With(zap.String("site", stamp.Site), zap.String("block", block.Name))
}

func failed(block string, err error) BlockResult {
	return BlockResult{Block: block, Outcome: OutcomeFailed, Err: err}
}

// resolveURL joins a resolved, non-empty value against base. Values that do
// not parse as URLs become unresolved.
func resolveURL(base *url.URL, v scraper.Value) scraper.Value {
	if !v.Usable() || base == nil {
		return v
	}
	ref, err := url.Parse(v.Text)
	if err != nil {
		return scraper.Missing(v.Path)
	}
	return scraper.Found(base.ResolveReference(ref).String())
}

// optional maps unresolved values to NULL.
func optional(v scraper.Value) *string {
	if !v.Resolved {
		return nil
	}
	text := v.Text
	return &text
}
