package discovery

import (
	"context"
	"testing"

	"github.com/pevans/newsdigest/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>News</title>
  <item>
    <title>First &amp; foremost</title>
    <link>https://news.test/story/1</link>
    <guid>https://news.test/story/1</guid>
    <description>&lt;p&gt;Hello   &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description>
    <enclosure url="https://img.test/1.jpg" type="image/jpeg" length="0"/>
  </item>
  <item>
    <title>Second</title>
    <link>https://news.test/story/2</link>
  </item>
  <item>
    <title>Repeat</title>
    <link>https://news.test/story/1?utm=rss</link>
  </item>
  <item>
    <title>Elsewhere</title>
    <link>https://news.test/about</link>
  </item>
</channel>
</rss>`

func feedBlock(t *testing.T) *scraper.BlockSpec {
	t.Helper()
	block := &scraper.BlockSpec{
		Name:      "rss",
		URL:       "https://news.test/rss.xml",
		Source:    scraper.SourceFeed,
		KeyRegExp: `/story/(\d+)`,
	}
	require.NoError(t, block.Compile("sites.news.blocks.rss"))
	return block
}

// TestParseFeed_Invalid verifies malformed documents are rejected
func TestParseFeed_Invalid(t *testing.T) {
	_, err := ParseFeed([]byte("not a feed"))
	assert.Error(t, err)
}

// TestExtractFeed verifies feed items become positioned, de-duplicated
// stories
func TestExtractFeed(t *testing.T) {
	feed, err := ParseFeed([]byte(testRSS))
	require.NoError(t, err)

	e := NewExtractor(&mockPages{}, nil)
	block := feedBlock(t)
	result := e.ExtractFeed(context.Background(), testStamp, mustURL(t, block.URL), feed, block)

	require.Equal(t, OutcomeOK, result.Outcome)
	require.Len(t, result.Stories, 2)

	first := result.Stories[0]
	assert.Equal(t, "1", first.Key)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "First & foremost", *first.Title)
	assert.Equal(t, "Hello world", *first.Description, "markup is stripped")
	assert.Equal(t, "https://img.test/1.jpg", *first.ImageURL)

	second := result.Stories[1]
	assert.Equal(t, "2", second.Key, "link is used when guid is empty")
	assert.Equal(t, 2, second.Position)
	assert.Nil(t, second.ImageURL)
	assert.Nil(t, second.Description)
}

// TestExtractFeed_Empty verifies an empty feed skips the block
func TestExtractFeed_Empty(t *testing.T) {
	feed, err := ParseFeed([]byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`))
	require.NoError(t, err)

	e := NewExtractor(&mockPages{}, nil)
	block := feedBlock(t)
	result := e.ExtractFeed(context.Background(), testStamp, mustURL(t, block.URL), feed, block)

	assert.Equal(t, OutcomeSkipped, result.Outcome)
}

// TestStripMarkup verifies plain text passes through collapsed
func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "a b", stripMarkup(" a \n b "))
	assert.Equal(t, "x & y", stripMarkup("<div>x &amp; y</div>"))
}
