package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-auction-deals/config"
	"github.com/aluiziolira/go-auction-deals/metrics"
	"github.com/aluiziolira/go-auction-deals/notify"
	"github.com/aluiziolira/go-auction-deals/pipeline"
	"github.com/aluiziolira/go-auction-deals/query"
	"github.com/aluiziolira/go-auction-deals/refresh"
	"github.com/aluiziolira/go-auction-deals/scraper"
	"github.com/aluiziolira/go-auction-deals/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		noDigest bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the listings API with scheduled refreshes and the daily digest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd, func(cfg *config.Config) {
				if cmd.Flags().Changed("addr") {
					cfg.ListenAddr = addr
				}
				if cmd.Flags().Changed("interval") {
					cfg.RefreshInterval = interval
				}
				if noDigest {
					cfg.DigestRecipients = nil
				}
			})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default :8080)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Scheduled refresh interval (default 20m)")
	cmd.Flags().BoolVar(&noDigest, "no-digest", false, "Disable the email digest")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()

	extractor, err := scraper.BuildExtractor(cfg, m)
	if err != nil {
		return err
	}
	builder := pipeline.NewBuilder(cfg, m)
	coord := refresh.NewCoordinator(ctx, cfg, extractor, builder, refresh.WithMetrics(m))
	engine := query.NewEngine(coord, cfg, query.WithMetrics(m))

	slog.Info("starting deal scout",
		slog.String("target", cfg.TargetURL),
		slog.Any("extractors", cfg.Extractors),
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Duration("stale_after", cfg.StaleAfter),
	)

	go coord.Run(ctx, cfg.RefreshInterval, cfg.RefreshOnStart)

	if cfg.DigestEnabled() {
		digest := notify.NewDigest(coord, notify.NewEmailNotifier(cfg), cfg, m)
		scheduler, err := notify.NewScheduler(cfg.DigestSchedule, digest, cfg.RefreshTimeout+time.Minute)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	} else {
		slog.Info("digest disabled, no recipients configured")
	}

	return server.New(coord, engine, m).ListenAndServe(ctx, cfg.ListenAddr)
}
