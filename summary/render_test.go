package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/newsdigest/scraper"
	"github.com/pevans/newsdigest/stories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDigest() *Digest {
	return &Digest{
		Site:  "news",
		Start: windowStart,
		End:   windowEnd,
		Blocks: []BlockDigest{
			{Name: "top", Stories: []RankedStory{
				{Key: "1", URL: "https://news.test/story/1", Title: "Fish & Chips", Description: "Tasty", ImageURL: "https://img.test/1.jpg", Score: 0.5, Sum: 2, Count: 2, Tags: []string{"Food"}},
				{Key: "2", URL: "https://news.test/story/2", Title: "", Score: 1.5, Sum: 3, Count: 1, Tags: []string{}},
			}},
			{Name: "sport", Stories: []RankedStory{}},
		},
	}
}

// TestRenderText verifies the console layout
func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, sampleDigest()))

	want := "news from 2024-03-01 00:00:00Z until 2024-03-02 00:00:00Z:\n" +
		"  top:\n" +
		"    https://news.test/story/1 Fish & Chips (0.5, 2/2)\n" +
		"    https://news.test/story/2  (1.5, 3/1)\n" +
		"  sport:\n"
	assert.Equal(t, want, buf.String())
}

// TestRenderHTML verifies the page structure, escaping and score comment
func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, sampleDigest()))
	page := buf.String()

	assert.True(t, strings.HasPrefix(page, "<!doctype html>"))
	assert.Contains(t, page, "<title>2024-03-02 news Daily News Feed</title>")
	assert.Contains(t, page, "<h4>top</h4>")
	assert.Contains(t, page, "<h4>sport</h4>")
	assert.Contains(t, page, "<!-- score=0.5, sum=2, count=2 -->")
	assert.Contains(t, page, `<a href="https://news.test/story/1">Fish &amp; Chips</a>`)
	assert.Contains(t, page, `<span class="badge badge-dark">Food</span>`)
	assert.Contains(t, page, `<img class="ml-3" src="https://img.test/1.jpg">`)
	assert.Contains(t, page, `<a href="https://news.test/story/2">https://news.test/story/2</a>`, "empty title falls back to the url")
	assert.Contains(t, page, "<p>news from 2024-03-01 00:00:00Z until 2024-03-02 00:00:00Z</p>")
	assert.Equal(t, 1, strings.Count(page, "<img "), "stories without images have no img tag")
}

// TestRenderJSON verifies the digest encodes as JSON
func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, sampleDigest()))

	var decoded Digest
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "news", decoded.Site)
	require.Len(t, decoded.Blocks, 2)
	assert.Equal(t, 0.5, decoded.Blocks[0].Stories[0].Score)
}

// TestRenderTable verifies a table is written per block
func TestRenderTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderTable(&buf, sampleDigest()))
	out := buf.String()

	assert.Contains(t, out, "Fish & Chips")
	assert.Contains(t, out, "0.500")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "sport")
}

// TestRender_UnknownFormat verifies unknown formats are rejected
func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, sampleDigest(), "pdf")
	assert.Error(t, err)
}

func createTestStore(t *testing.T) *stories.Store {
	t.Helper()
	store, err := stories.Open(stories.TypeSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStore(t *testing.T, store *stories.Store) {
	t.Helper()
	ctx := context.Background()
	for hour, keys := range map[int][]string{1: {"1", "2"}, 2: {"2", "1"}, 3: {"1"}} {
		at := windowStart.Add(time.Duration(hour) * time.Hour)
		scanID := uuid.New()
		var rows []stories.Story
		for i, key := range keys {
			title := "Story " + key
			rows = append(rows, stories.Story{
				ScannedAt: at, ScanID: scanID, Site: "news", Block: "top",
				Position: i + 1, Key: key, URL: "https://news.test/story/" + key, Title: &title,
			})
		}
		require.NoError(t, store.SaveBlock(ctx, rows, nil, nil))
	}
	require.NoError(t, store.SaveBlock(ctx, nil,
		[]stories.Tag{{URL: "https://news.test/t/uk", Title: "UK"}},
		[]stories.StoryTag{{ScannedAt: windowStart.Add(time.Hour), Story: "https://news.test/story/1", Tag: "https://news.test/t/uk"}},
	))
}

func testSite(output string) *scraper.SiteSpec {
	return &scraper.SiteSpec{
		Name:    "news",
		Blocks:  []scraper.BlockSpec{{Name: "top"}, {Name: "sport"}},
		Summary: scraper.SummarySpec{TimePeriodS: 86400, OutputHTMLFile: output},
	}
}

// TestSummariser_Build verifies a digest is built from stored rows
func TestSummariser_Build(t *testing.T) {
	store := createTestStore(t)
	seedStore(t, store)

	digest, err := NewSummariser(store, nil).Build(context.Background(), testSite(""), windowEnd)
	require.NoError(t, err)

	assert.Equal(t, windowStart, digest.Start)
	require.Len(t, digest.Blocks, 2)
	top := digest.Blocks[0].Stories
	require.Len(t, top, 2)

	// "1": positions 1,2,1 -> 4/3/3; "2": positions 2,1 -> 3/2/2
	assert.Equal(t, "1", top[0].Key)
	assert.InDelta(t, 4.0/9.0, top[0].Score, 1e-9)
	assert.Equal(t, []string{"UK"}, top[0].Tags)
	assert.Equal(t, "2", top[1].Key)
	assert.Equal(t, 0.75, top[1].Score)

	assert.Empty(t, digest.Blocks[1].Stories)
}

// TestSummariser_WriteText verifies stdout output without an output file
func TestSummariser_WriteText(t *testing.T) {
	store := createTestStore(t)
	seedStore(t, store)

	var out bytes.Buffer
	require.NoError(t, NewSummariser(store, nil).Write(context.Background(), testSite(""), windowEnd, &out))

	assert.True(t, strings.HasPrefix(out.String(), "news from 2024-03-01 00:00:00Z until 2024-03-02 00:00:00Z:\n"))
	assert.Contains(t, out.String(), "    https://news.test/story/2 Story 2 (0.75, 3/2)\n")
}

// TestSummariser_WriteHTMLFile verifies the HTML file is written and
// confirmed
func TestSummariser_WriteHTMLFile(t *testing.T) {
	store := createTestStore(t)
	seedStore(t, store)

	path := filepath.Join(t.TempDir(), "out", "news.html")
	var out bytes.Buffer
	require.NoError(t, NewSummariser(store, nil).Write(context.Background(), testSite(path), windowEnd, &out))

	assert.Equal(t, "Written summary to <"+path+">\n", out.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Story 1")
	assert.Contains(t, string(data), `<span class="badge badge-dark">UK</span>`)
}
