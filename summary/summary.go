package summary

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pevans/newsdigest/scraper"
	"go.uber.org/zap"
)

// Summariser builds and writes digests for configured sites.
type Summariser struct {
	ranker *Ranker
	logger *zap.Logger
}

// NewSummariser creates a Summariser reading from reader.
func NewSummariser(reader StoryReader, logger *zap.Logger) *Summariser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summariser{ranker: NewRanker(reader), logger: logger}
}

// Build ranks every block of site over the configured window ending at end.
func (s *Summariser) Build(ctx context.Context, site *scraper.SiteSpec, end time.Time) (*Digest, error) {
	return s.BuildWindow(ctx, site, end.Add(-site.Summary.Window()), end)
}

// BuildWindow ranks every block of site between start and end (both
// exclusive), in configured block order.
func (s *Summariser) BuildWindow(ctx context.Context, site *scraper.SiteSpec, start, end time.Time) (*Digest, error) {
	digest := &Digest{
		Site:   site.Name,
		Start:  start.UTC(),
		End:    end.UTC(),
		Blocks: make([]BlockDigest, 0, len(site.Blocks)),
	}

	ceiling := site.Summary.ScoreCeiling()
	for _, block := range site.Blocks {
		ranked, err := s.ranker.Rank(ctx, site.Name, block.Name, start, end, ceiling)
		if err != nil {
			return nil, fmt.Errorf("failed to rank block %s: %w", block.Name, err)
		}
		digest.Blocks = append(digest.Blocks, BlockDigest{Name: block.Name, Stories: ranked})
	}

	return digest, nil
}

// Write builds the digest for site and emits it. With an output file
// configured the HTML page is written there and a confirmation line goes to
// out; otherwise the configured format is written to out.
func (s *Summariser) Write(ctx context.Context, site *scraper.SiteSpec, end time.Time, out io.Writer) error {
	digest, err := s.Build(ctx, site, end)
	if err != nil {
		return err
	}

	path := site.Summary.OutputHTMLFile
	if path == "" {
		return Render(out, digest, site.Summary.Format)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	if err := RenderHTML(f, digest); err != nil {
		f.Close()
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close summary file: %w", err)
	}

	s.logger.Info("summary written", zap.String("site", site.Name), zap.String("path", path))
	fmt.Fprintf(out, "Written summary to <%s>\n", path)
	return nil
}
