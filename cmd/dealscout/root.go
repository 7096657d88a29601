package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-auction-deals/config"
)

type rootOptions struct {
	configFile string
	envFile    string
	verbose    bool
	target     string
	extractors []string
	maxPages   int
	parallel   int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "dealscout",
		Short:         "dealscout watches a car auction site and ranks the best deals.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "JSON5 config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading SCOUT_* variables")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&opts.target, "target", "", "Auction results URL to extract")
	flags.StringSliceVar(&opts.extractors, "extractors", nil, "Extractor chain, tried in order (html, api, browser)")
	flags.IntVar(&opts.maxPages, "pages", 0, "Maximum result pages to crawl")
	flags.IntVar(&opts.parallel, "parallel", 0, "Concurrent requests per crawl")

	cmd.AddCommand(newServeCmd(opts), newScanCmd(opts))
	return cmd
}

// load builds the configuration: defaults, then the config file, then the
// dotenv file and environment, then flags set on the command line.
func (o *rootOptions) load(cmd *cobra.Command, apply func(*config.Config)) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if o.configFile != "" {
		if err := cfg.LoadFile(o.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if flags.Changed("target") {
		cfg.TargetURL = o.target
	}
	if flags.Changed("extractors") {
		cfg.Extractors = o.extractors
	}
	if flags.Changed("pages") {
		cfg.MaxPages = o.maxPages
	}
	if flags.Changed("parallel") {
		cfg.Parallelism = o.parallel
	}
	if apply != nil {
		apply(cfg)
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
