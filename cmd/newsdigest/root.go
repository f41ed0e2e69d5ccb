package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/joho/godotenv"
	"github.com/pevans/newsdigest/config"
	"github.com/pevans/newsdigest/discovery"
	"github.com/pevans/newsdigest/logger"
	"github.com/pevans/newsdigest/stories"
	"github.com/pevans/newsdigest/summary"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	fetch      bool
	summary    bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "newsdigest",
		Short: "Scrape news sites and summarise their front pages",
		Long: `newsdigest scans the story listings of configured news sites, records
where each story appeared, and ranks the stories seen over a time window
into a digest.

Run with --fetch to scan, --summary to write digests, or both.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is normal.
			_ = godotenv.Load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.fetch && !opts.summary {
				return cmd.Help()
			}
			return runOnce(cmd.Context(), opts, v, cmd.OutOrStdout())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "configuration file")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVarP(&opts.fetch, "fetch", "f", false, "scan every site and store the stories")
	cmd.Flags().BoolVarP(&opts.summary, "summary", "s", false, "write the digest of every site")

	cmd.AddCommand(newServeCmd(opts, v), newVersionCmd())
	return cmd
}

// app holds the components shared by the one-shot run and the daemon.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *stories.Store
	metrics    *discovery.Metrics
	scanner    *discovery.Scanner
	summariser *summary.Summariser
}

func newApp(opts *options, v *viper.Viper) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(v)
	if opts.debug {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, err
	}

	store, err := stories.Open(cfg.Storage.Type, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}

	metrics := discovery.NewMetrics()
	fetcher, err := discovery.NewFetcher(cfg.FetcherConfig(),
		discovery.WithMetrics(metrics),
		discovery.WithLogger(log),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	log.Debug("configuration loaded",
		zap.String("path", opts.configPath),
		zap.String("storage", cfg.Storage.Type),
		zap.Int("sites", len(cfg.Sites)),
	)
	for _, problem := range cfg.Problems() {
		log.Warn("invalid block will be skipped", zap.Error(problem))
	}

	return &app{
		cfg:        cfg,
		logger:     log,
		store:      store,
		metrics:    metrics,
		scanner:    discovery.NewScanner(fetcher, store, metrics, log),
		summariser: summary.NewSummariser(store, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// runOnce performs the requested phases in order: fetch, then summary.
func runOnce(ctx context.Context, opts *options, v *viper.Viper, out io.Writer) error {
	a, err := newApp(opts, v)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.fetch {
		if _, err := a.scanner.ScanAll(ctx, a.cfg.Sites); err != nil {
			return err
		}
	}

	if opts.summary {
		end := time.Now()
		for i := range a.cfg.Sites {
			site := &a.cfg.Sites[i]
			if err := a.summariser.Write(ctx, site, end, out); err != nil {
				return fmt.Errorf("failed to summarise site %s: %w", site.Name, err)
			}
		}
	}

	return nil
}
