package main

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/pevans/newsdigest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(opts *options, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled scans and serve digests over HTTP",
		Long: `serve runs until interrupted. Sites are scanned on serve.fetch_schedule,
digests are written on serve.summary_schedule when set, and the HTTP API
serves digests computed on demand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, v)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default :8080)")
	cmd.Flags().Bool("scan-on-start", false, "scan every site immediately")
	_ = v.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("serve.scan_on_start", cmd.Flags().Lookup("scan-on-start"))

	return cmd
}

func runServe(ctx context.Context, opts *options, v *viper.Viper) error {
	a, err := newApp(opts, v)
	if err != nil {
		return err
	}
	defer a.Close()

	if !opts.debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc := newsdigest.NewService(a.cfg, a.scanner, a.summariser, a.logger)
	api := newsdigest.NewAPIServer(a.cfg, a.summariser, a.store, a.metrics, a.logger)

	errCh := make(chan error, 2)
	go func() { errCh <- api.ListenAndServe(ctx, a.cfg.Serve.Addr) }()
	go func() { errCh <- svc.Run(ctx) }()

	// Whichever side stops first takes the other down with it.
	first := <-errCh
	cancel()
	second := <-errCh

	for _, err := range []error{first, second} {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}
