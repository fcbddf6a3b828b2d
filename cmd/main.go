package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"newsletter/internal/app"
	"newsletter/internal/config"
	"newsletter/internal/db"
	"newsletter/internal/fetcher"
	"newsletter/internal/keywords"
	"newsletter/internal/logger"
	"newsletter/internal/metrics"
	"newsletter/internal/server"
	urlqueue "newsletter/internal/url_queue"
)

const metricsNamespace = "newsletter"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "newsletter",
		Short:         "Collect news articles and rank their keywords",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(newServeCmd(), newIngestCmd(), newKeywordsCmd(), newExtractCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig falls back to the defaults when the default config file is absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadConfig(configPath)
}

func newProfile(cfg config.KeywordsConfig) (*keywords.Profile, error) {
	return keywords.NewProfile(
		keywords.WithStrategy(keywords.Strategy(cfg.Strategy)),
		keywords.WithMinLength(cfg.MinLength),
		keywords.WithCap(cfg.Cap),
		keywords.WithExtraStopWords(cfg.ExtraStopWords...),
	)
}

type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	store   db.Store
	svc     *app.Service
	metrics *metrics.Observer
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.log.Error("failed to close store", "error", err)
	}
}

func bootstrap(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	profile, err := newProfile(cfg.Keywords)
	if err != nil {
		return nil, err
	}
	log.Debug("keyword profile", "strategy", profile.Strategy(), "min_length", profile.MinLength(), "cap", profile.Cap())

	var obs *metrics.Observer
	if cfg.Metrics.Enabled {
		obs, err = metrics.NewObserver(metricsNamespace, prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	store, err := db.Open(cmd.Context(), cfg.DB, log)
	if err != nil {
		return nil, err
	}

	svc := app.NewService(store, fetcher.New(cfg.Fetcher, log), profile, log, app.WithMetrics(obs))
	return &runtime{cfg: cfg, log: log, store: store, svc: svc, metrics: obs}, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			srv := server.New(rt.svc, rt.cfg, rt.log, server.WithMetrics(rt.metrics, prometheus.DefaultGatherer))
			return srv.Run(cmd.Context())
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		sitemap string
		include []string
		exclude []string
		workers int
		maxURLs int
	)

	cmd := &cobra.Command{
		Use:   "ingest [urls...]",
		Short: "Fetch and store a batch of articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			urls := args
			if sitemap != "" {
				client := &http.Client{Timeout: rt.cfg.Fetcher.Timeout()}
				found, err := urlqueue.ParseSitemap(cmd.Context(), client, sitemap)
				if err != nil {
					return err
				}
				for _, u := range found {
					if urlqueue.URLShouldBeFollowed(u, include, exclude) {
						urls = append(urls, u)
					}
				}
				rt.log.Info("sitemap parsed", "sitemap", sitemap, "found", len(found), "selected", len(urls)-len(args))
			}
			if len(urls) == 0 {
				return errors.New("no urls to ingest")
			}

			opts := app.BatchOptions{
				Workers: rt.cfg.Ingest.Workers,
				Delay:   rt.cfg.Ingest.Delay(),
				MaxURLs: rt.cfg.Ingest.MaxURLs,
			}
			if workers > 0 {
				opts.Workers = workers
			}
			if maxURLs > 0 {
				opts.MaxURLs = maxURLs
			}

			summary := rt.svc.IngestAll(cmd.Context(), urls, opts)
			printSummary(cmd.OutOrStdout(), summary)
			if summary.Added == 0 && summary.Failed > 0 {
				return fmt.Errorf("%d urls failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sitemap, "sitemap", "", "sitemap or sitemap index to read article urls from")
	cmd.Flags().StringSliceVar(&include, "include", nil, "only ingest sitemap urls matching one of these patterns")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "skip sitemap urls matching one of these patterns")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent fetchers (default from config)")
	cmd.Flags().IntVar(&maxURLs, "max-urls", 0, "maximum number of urls taken from the batch (default from config)")
	return cmd
}

func printSummary(w io.Writer, summary *app.IngestSummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSEQ\tKEYWORDS\tURL\tERROR")
	for _, r := range summary.Results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", r.Status, r.Seq, r.Keywords, r.URL, r.Error)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "added %d, skipped %d, failed %d\n", summary.Added, summary.Skipped, summary.Failed)
}

func newKeywordsCmd() *cobra.Command {
	var days, limit int

	cmd := &cobra.Command{
		Use:   "keywords",
		Short: "Print the top keywords of the recent window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if limit == 0 {
				limit = rt.cfg.Keywords.Cap
			}
			ranked, err := rt.svc.TopKeywords(cmd.Context(), days, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tKEYWORD\tFREQUENCY\tARTICLES")
			for i, kw := range ranked {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", i+1, kw.Keyword, kw.TotalFrequency, len(kw.RelatedArticles))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&days, "days", app.DefaultWindowDays, "window size in days")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of keywords (default keywords.cap)")
	return cmd
}

// extract runs the keyword extractor on stdin without touching the store.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Print the keywords of text read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			profile, err := newProfile(cfg.Keywords)
			if err != nil {
				return err
			}

			text, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			for _, kw := range profile.Extract(string(text)) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", kw.Keyword, kw.Frequency)
			}
			return nil
		},
	}
}
