package summary

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pevans/newsdigest/stories"
)

// StoryReader is the read side of the story log.
type StoryReader interface {
	StoriesInWindow(ctx context.Context, site, block string, start, end time.Time, fn func(stories.Story) error) error
	TagTitlesForStory(ctx context.Context, storyURL string) ([]string, error)
}

// RankedStory is one story key aggregated over a window.
type RankedStory struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Score       float64   `json:"score"`
	Sum         int       `json:"sum"`
	Count       int       `json:"count"`
	LastSeen    time.Time `json:"last_seen"`
	Tags        []string  `json:"tags"`
}

// Ranker aggregates positional observations into scores.
type Ranker struct {
	reader StoryReader
}

// NewRanker creates a Ranker over reader.
func NewRanker(reader StoryReader) *Ranker {
	return &Ranker{reader: reader}
}

type group struct {
	sum   int
	count int
	rep   stories.Story
}

// Rank returns the stories of one block seen strictly between start and
// end, ordered by ascending score with ties broken by key. The score is
// sum(position)/count/count, so frequent stories near the top score lowest.
// A non-negative maximumScore drops stories scoring above it.
func (r *Ranker) Rank(ctx context.Context, site, block string, start, end time.Time, maximumScore float64) ([]RankedStory, error) {
	groups := make(map[string]*group)

	err := r.reader.StoriesInWindow(ctx, site, block, start, end, func(s stories.Story) error {
		g, ok := groups[s.Key]
		if !ok {
			groups[s.Key] = &group{sum: s.Position, count: 1, rep: s}
			return nil
		}
		g.sum += s.Position
		g.count++
		if newerRow(s, g.rep) {
			g.rep = s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stories: %w", err)
	}

	ranked := make([]RankedStory, 0, len(groups))
	for key, g := range groups {
		score := float64(g.sum) / float64(g.count) / float64(g.count)
		if maximumScore >= 0 && score > maximumScore {
			continue
		}
		ranked = append(ranked, RankedStory{
			Key:         key,
			URL:         g.rep.URL,
			Title:       deref(g.rep.Title),
			Description: deref(g.rep.Description),
			ImageURL:    deref(g.rep.ImageURL),
			Score:       score,
			Sum:         g.sum,
			Count:       g.count,
			LastSeen:    g.rep.ScannedAt,
		})
	}

	slices.SortFunc(ranked, func(a, b RankedStory) int {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	// Tags are read after the window iteration so the reader's rows are
	// closed before further queries.
	for i := range ranked {
		tags, err := r.reader.TagTitlesForStory(ctx, ranked[i].URL)
		if err != nil {
			return nil, fmt.Errorf("failed to read tags for %s: %w", ranked[i].URL, err)
		}
		if tags == nil {
			tags = []string{}
		}
		ranked[i].Tags = tags
	}

	return ranked, nil
}

// newerRow reports whether a should represent its group instead of b: the
// latest scan wins, then the better position.
func newerRow(a, b stories.Story) bool {
	if !a.ScannedAt.Equal(b.ScannedAt) {
		return a.ScannedAt.After(b.ScannedAt)
	}
	return a.Position < b.Position
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
