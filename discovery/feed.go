package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pevans/newsdigest/scraper"
)

// ParseFeed parses an RSS or Atom document. gofeed detects the format.
func ParseFeed(body []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// ExtractFeed extracts the stories of a feed block. Items are rows in feed
// order; the key is matched against the item GUID, or its link when the
// GUID is empty.
func (e *Extractor) ExtractFeed(ctx context.Context, stamp Stamp, base *url.URL, feed *gofeed.Feed, block *scraper.BlockSpec) BlockResult {
	if len(feed.Items) == 0 {
		return BlockResult{
			Block:   block.Name,
			Outcome: OutcomeSkipped,
			Err:     &SelectorMissError{Block: block.Name, Key: "feed items", Selector: block.URL},
		}
	}

	path := func(field string) string {
		return fmt.Sprintf("%s.%s.feed.%s", stamp.Site, block.Name, field)
	}

	candidates := make([]candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		keySource := item.GUID
		if keySource == "" {
			keySource = item.Link
		}

		candidates = append(candidates, candidate{
			key:         feedValue(keySource, path("guid")),
			url:         feedValue(item.Link, path("link")),
			image:       feedValue(feedImage(item), path("image")),
			title:       feedValue(scraper.CollapseWhitespace(item.Title), path("title")),
			description: feedValue(stripMarkup(item.Description), path("description")),
		})
	}

	return e.process(ctx, stamp, base, block, candidates)
}

func feedValue(text, path string) scraper.Value {
	if text == "" {
		return scraper.Missing(path)
	}
	return scraper.Found(text)
}

// feedImage returns the item image, else the first image enclosure.
func feedImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// stripMarkup reduces an HTML fragment to collapsed text.
func stripMarkup(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return scraper.CollapseWhitespace(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return scraper.CollapseWhitespace(fragment)
	}
	return scraper.CollapseWhitespace(doc.Text())
}
