package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/pevans/newsdigest/scraper"
	"github.com/pevans/newsdigest/stories"
	"go.uber.org/zap"
)

// PageFetcher retrieves pages for the scanner.
type PageFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
	FetchDocument(ctx context.Context, uri string) (*goquery.Document, error)
}

// StoryWriter persists scan output.
type StoryWriter interface {
	SaveBlock(ctx context.Context, rows []stories.Story, tags []stories.Tag, links []stories.StoryTag) error
	RecordScan(ctx context.Context, scan stories.Scan) error
}

// ScanReport describes one site scan.
type ScanReport struct {
	Scan   stories.Scan
	Blocks []BlockResult
}

// Scanner drives extraction for whole sites: blocks in configured order,
// one page at a time, each block persisted atomically.
type Scanner struct {
	pages     PageFetcher
	extractor *Extractor
	store     StoryWriter
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewScanner creates a Scanner.
func NewScanner(pages PageFetcher, store StoryWriter, metrics *Metrics, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		pages:     pages,
		extractor: NewExtractor(pages, logger),
		store:     store,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ScanAll scans sites sequentially. A site that fails structurally stops
// the run; its error is returned with the reports collected so far.
func (s *Scanner) ScanAll(ctx context.Context, sites []scraper.SiteSpec) ([]*ScanReport, error) {
	reports := make([]*ScanReport, 0, len(sites))
	for i := range sites {
		report, err := s.ScanSite(ctx, &sites[i])
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("failed to scan site %s: %w", sites[i].Name, err)
		}
	}
	return reports, nil
}

// ScanSite scans every block of site under one timestamp. Skipped and
// failed blocks are logged and counted; only persistence failures and
// cancellation end the scan early.
func (s *Scanner) ScanSite(ctx context.Context, site *scraper.SiteSpec) (*ScanReport, error) {
	stamp := Stamp{
		Site:      site.Name,
		ScanID:    uuid.New(),
		ScannedAt: s.now().UTC(),
	}
	log := s.logger.With(zap.String("site", site.Name), zap.String("scan_id", stamp.ScanID.String()))
	log.Info("processing site", zap.Int("blocks", len(site.Blocks)))

	report := &ScanReport{
		Scan: stories.Scan{
			ID:        stamp.ScanID,
			Site:      site.Name,
			StartedAt: stamp.ScannedAt,
		},
	}

	for i := range site.Blocks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		block := &site.Blocks[i]
		result := s.scanBlock(ctx, stamp, block)
		report.Blocks = append(report.Blocks, result)
		s.metrics.IncBlock(site.Name, result.Outcome)

		blockLog := log.With(zap.String("block", block.Name))
		switch result.Outcome {
		case OutcomeOK:
			if err := s.store.SaveBlock(ctx, result.Stories, result.Tags, result.StoryTags); err != nil {
				s.metrics.IncError(err)
				return report, fmt.Errorf("failed to persist block %s: %w", block.Name, err)
			}
			report.Scan.Stories += len(result.Stories)
			report.Scan.Tags += len(result.StoryTags)
			s.metrics.AddStories(site.Name, len(result.Stories))
			blockLog.Info("collected stories",
				zap.Int("stories", len(result.Stories)),
				zap.Int("tags", len(result.StoryTags)),
			)
		case OutcomeSkipped:
			report.Scan.BlocksSkipped++
			s.metrics.IncError(result.Err)
			blockLog.Warn("block skipped", zap.Error(result.Err))
		case OutcomeFailed:
			report.Scan.BlocksFailed++
			s.metrics.IncError(result.Err)
			if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
				return report, result.Err
			}
			blockLog.Error("block failed", zap.Error(result.Err))
		}
	}

	report.Scan.FinishedAt = s.now().UTC()
	if err := s.store.RecordScan(ctx, report.Scan); err != nil {
		return report, fmt.Errorf("failed to record scan: %w", err)
	}
	s.metrics.SetLastScan(site.Name, report.Scan.FinishedAt)

	log.Info("site scan finished",
		zap.Int("stories", report.Scan.Stories),
		zap.Int("tags", report.Scan.Tags),
		zap.Int("blocks_skipped", report.Scan.BlocksSkipped),
		zap.Int("blocks_failed", report.Scan.BlocksFailed),
	)
	return report, nil
}

// scanBlock fetches the block's page and extracts it. Invalid blocks, fetch
// failures and parse failures fail the block.
func (s *Scanner) scanBlock(ctx context.Context, stamp Stamp, block *scraper.BlockSpec) BlockResult {
	if block.Invalid != nil {
		return failed(block.Name, block.Invalid)
	}

	base, err := url.Parse(block.URL)
	if err != nil {
		return failed(block.Name, fmt.Errorf("failed to parse block url: %w", err))
	}

	if block.IsFeed() {
		body, err := s.pages.Fetch(ctx, block.URL)
		if err != nil {
			return failed(block.Name, err)
		}
		feed, err := ParseFeed(body)
		if err != nil {
			return failed(block.Name, err)
		}
		return s.extractor.ExtractFeed(ctx, stamp, base, feed, block)
	}

	doc, err := s.pages.FetchDocument(ctx, block.URL)
	if err != nil {
		return failed(block.Name, err)
	}
	return s.extractor.ExtractBlock(ctx, stamp, base, doc, block)
}
