package newsdigest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pevans/newsdigest/config"
	"github.com/pevans/newsdigest/discovery"
	"github.com/pevans/newsdigest/scraper"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SiteScanner scans configured sites.
type SiteScanner interface {
	ScanAll(ctx context.Context, sites []scraper.SiteSpec) ([]*discovery.ScanReport, error)
}

// DigestWriter writes a site's digest to its configured output.
type DigestWriter interface {
	Write(ctx context.Context, site *scraper.SiteSpec, end time.Time, out io.Writer) error
}

// Service is the long-running daemon: it scans every site on the fetch
// schedule and writes digests on the optional summary schedule.
type Service struct {
	cfg        *config.Config
	scanner    SiteScanner
	summariser DigestWriter
	logger     *zap.Logger
	out        io.Writer
	now        func() time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewService creates a Service. Digest text output goes to stdout.
func NewService(cfg *config.Config, scanner SiteScanner, summariser DigestWriter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		scanner:    scanner,
		summariser: summariser,
		logger:     logger,
		out:        os.Stdout,
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
}

// Run schedules the jobs and blocks until ctx is cancelled or Stop is
// called. Running jobs are waited for before Run returns.
func (s *Service) Run(ctx context.Context) error {
	cronLog := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(cronLog))

	// One wrapped job instance is shared by the schedule and the startup
	// scan so the two never overlap.
	scanJob := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).
		Then(cron.FuncJob(func() { s.ScanNow(ctx) }))

	if _, err := c.AddJob(s.cfg.Serve.FetchSchedule, scanJob); err != nil {
		return fmt.Errorf("failed to schedule scans %q: %w", s.cfg.Serve.FetchSchedule, err)
	}

	if spec := s.cfg.Serve.SummarySchedule; spec != "" {
		summaryJob := cron.NewChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)).
			Then(cron.FuncJob(func() { s.SummariseNow(ctx) }))
		if _, err := c.AddJob(spec, summaryJob); err != nil {
			return fmt.Errorf("failed to schedule summaries %q: %w", spec, err)
		}
	}

	s.logger.Info("service starting",
		zap.Int("sites", len(s.cfg.Sites)),
		zap.String("fetch_schedule", s.cfg.Serve.FetchSchedule),
		zap.String("summary_schedule", s.cfg.Serve.SummarySchedule),
	)

	c.Start()
	if s.cfg.Serve.ScanOnStart {
		go scanJob.Run()
	}

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("service stopping (context cancelled)")
		err = ctx.Err()
	case <-s.stopChan:
		s.logger.Info("service stopping")
	}

	<-c.Stop().Done()
	return err
}

// Stop signals Run to return. It is safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// ScanNow scans every configured site once.
func (s *Service) ScanNow(ctx context.Context) {
	reports, err := s.scanner.ScanAll(ctx, s.cfg.Sites)
	if err != nil {
		s.logger.Error("scan failed", zap.Error(err))
		return
	}
	s.logger.Info("scan finished", zap.Int("sites", len(reports)))
}

// SummariseNow writes the digest of every configured site for the window
// ending now. A failing site does not stop the others.
func (s *Service) SummariseNow(ctx context.Context) {
	end := s.now()
	for i := range s.cfg.Sites {
		site := &s.cfg.Sites[i]
		if err := s.summariser.Write(ctx, site, end, s.out); err != nil {
			s.logger.Error("summary failed", zap.String("site", site.Name), zap.Error(err))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
