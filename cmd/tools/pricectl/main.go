// pricectl runs searches and price estimates against the configured sources
// without starting the HTTP server.
//
// Usage:
//
//	pricectl search "cimento portland" --region SP
//	pricectl prices "cimento portland" --format json
//	pricectl health
//	pricectl cache invalidate --source sinapi
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"compras-aggregator/internal/app"
	"compras-aggregator/internal/common/config"
	"compras-aggregator/internal/models"
	"compras-aggregator/internal/normalize"
	"compras-aggregator/internal/pricing"
	"compras-aggregator/internal/search"
	"compras-aggregator/internal/sources"
)

var version = "dev"

func main() {
	cliApp := &cli.App{
		Name:    "pricectl",
		Usage:   "Query Brazilian procurement and price-reference sources",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a config file (defaults to configs/config.yaml)",
				EnvVars: []string{"PRICECTL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"PRICECTL_LOG_LEVEL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Overall deadline for the command",
			},
		},
		Commands: []*cli.Command{
			searchCommand(),
			pricesCommand(),
			healthCommand(),
			cacheCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadEngine(c *cli.Context) (*app.App, context.Context, context.CancelFunc, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Logging.Level = c.String("log-level")
	cfg.Logging.Format = "console"

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	engine, err := app.Build(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return engine, ctx, cancel, nil
}

func searchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "region", Aliases: []string{"r"}, Usage: "Two-letter state code (UF)"},
		&cli.StringFlag{Name: "from", Usage: "Start date (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "to", Usage: "End date (YYYY-MM-DD)"},
		&cli.IntFlag{Name: "max", Usage: "Maximum results per source"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "Output format (table, json)"},
	}
}

func searchOptions(c *cli.Context) (search.Options, error) {
	opts := search.Options{
		Region:       strings.ToUpper(c.String("region")),
		MaxPerSource: c.Int("max"),
	}
	if raw := c.String("from"); raw != "" {
		t, err := normalize.ParseDate(raw)
		if err != nil {
			return opts, err
		}
		opts.DateRange.From = t
	}
	if raw := c.String("to"); raw != "" {
		t, err := normalize.ParseDate(raw)
		if err != nil {
			return opts, err
		}
		opts.DateRange.To = t
	}
	return opts, nil
}

func queryArg(c *cli.Context) (string, error) {
	q := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if q == "" {
		return "", fmt.Errorf("a search query is required")
	}
	return q, nil
}

// =============================================================================
// SEARCH COMMAND
// =============================================================================

func searchCommand() *cli.Command {
	flags := append(searchFlags(),
		&cli.BoolFlag{Name: "prices", Usage: "Also query the price-reference tables"},
		&cli.BoolFlag{Name: "no-fallback", Usage: "Never fall back to web search"},
	)
	return &cli.Command{
		Name:      "search",
		Usage:     "Search contracts across all enabled sources",
		ArgsUsage: "QUERY",
		Flags:     flags,
		Action:    runSearch,
	}
}

func runSearch(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	opts, err := searchOptions(c)
	if err != nil {
		return err
	}
	opts.IncludePriceSources = c.Bool("prices")
	if c.Bool("no-fallback") {
		off := false
		opts.EnableFallback = &off
	}

	engine, ctx, cancel, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	res := engine.Orchestrator.Search(ctx, query, opts)
	if c.String("format") == "json" {
		return writeJSON(os.Stdout, res)
	}
	printSearch(os.Stdout, res)
	return nil
}

func printSearch(out io.Writer, res *search.Result) {
	fmt.Fprintf(out, "%s (%s, %dms)\n\n", res.StatusMessage, res.Status, res.DurationMs)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTATUS\tRESULTS\tLATENCY\tERROR")
	for _, s := range res.SourceStatuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%dms\t%s\n", s.Source, s.Status, s.ResultCount, s.LatencyMs, s.Error)
	}
	w.Flush()

	if len(res.Contracts) == 0 {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tRELEVANCE\tVALUE\tORGAN\tOBJECT")
	for _, ct := range res.Contracts {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\t%s\n",
			ct.Source, ct.Relevance, normalize.FormatBRL(ct.TotalValue),
			shorten(ct.ContractingOrg.Name, 30), shorten(ct.Object, 60))
	}
	w.Flush()
}

// =============================================================================
// PRICES COMMAND
// =============================================================================

func pricesCommand() *cli.Command {
	flags := append(searchFlags(),
		&cli.Float64Flag{Name: "outlier-threshold", Usage: "Z-score above which a price is an outlier"},
		&cli.Float64Flag{Name: "band", Usage: "Minimum min/max price ratio within a group"},
		&cli.BoolFlag{Name: "keep-outliers", Usage: "Do not exclude outliers"},
	)
	return &cli.Command{
		Name:      "prices",
		Usage:     "Estimate reference prices from the price tables",
		ArgsUsage: "QUERY",
		Flags:     flags,
		Action:    runPrices,
	}
}

func runPrices(c *cli.Context) error {
	query, err := queryArg(c)
	if err != nil {
		return err
	}
	opts, err := searchOptions(c)
	if err != nil {
		return err
	}
	opts.IncludePriceSources = true
	off := false
	opts.EnableFallback = &off

	engine, ctx, cancel, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	res := engine.Orchestrator.Search(ctx, query, opts)

	aggOpts := &pricing.Options{
		OutlierThreshold: c.Float64("outlier-threshold"),
		SimilarityBand:   c.Float64("band"),
	}
	if c.Bool("keep-outliers") {
		keep := false
		aggOpts.ExcludeOutliers = &keep
	}
	agg := engine.Aggregator.Aggregate(query, res.PriceLists(), aggOpts)

	if c.String("format") == "json" {
		return writeJSON(os.Stdout, agg)
	}
	printPrices(os.Stdout, agg)
	return nil
}

func printPrices(out io.Writer, agg *pricing.Result) {
	fmt.Fprintf(out, "%d prices analyzed from %d sources, overall confidence %s\n",
		agg.TotalPricesAnalyzed, len(agg.SourcesConsulted), agg.OverallConfidence)
	fmt.Fprintf(out, "%s\n\n", agg.MethodologySummary)
	if len(agg.Aggregations) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DESCRIPTION\tUNIT\tMEDIAN\tAVERAGE\tMIN\tMAX\tSOURCES\tOUTLIERS\tCONFIDENCE")
	for _, a := range agg.Aggregations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			shorten(a.Description, 50), a.Unit,
			normalize.FormatBRL(a.MedianPrice), normalize.FormatBRL(a.AveragePrice),
			normalize.FormatBRL(a.MinPrice), normalize.FormatBRL(a.MaxPrice),
			a.SourceCount, a.OutlierCount, a.Confidence)
	}
	w.Flush()
}

// =============================================================================
// HEALTH COMMAND
// =============================================================================

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Probe every enabled source",
		Action: runHealth,
	}
}

func runHealth(c *cli.Context) error {
	engine, ctx, cancel, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	adapters := engine.Orchestrator.Adapters()
	reports := make([]sources.Health, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			reports[i] = a.HealthCheck(ctx)
			return nil
		})
	}
	_ = g.Wait()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tHEALTHY\tLATENCY\tCIRCUIT\tERROR")
	unhealthy := 0
	for _, h := range reports {
		if !h.Healthy {
			unhealthy++
		}
		fmt.Fprintf(w, "%s\t%t\t%dms\t%s\t%s\n", h.Source, h.Healthy, h.LatencyMs, h.CircuitState, h.Error)
	}
	w.Flush()

	if unhealthy > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d sources unhealthy", unhealthy, len(reports)), 2)
	}
	return nil
}

// =============================================================================
// CACHE COMMAND
// =============================================================================

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or invalidate the response cache",
		Subcommands: []*cli.Command{
			{
				Name:  "invalidate",
				Usage: "Drop every cached response of a source",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "Source id (pncp, comprasgov, sinapi, sicro, web_search)"},
				},
				Action: runInvalidate,
			},
			{
				Name:  "stats",
				Usage: "Print cache availability",
				Action: func(c *cli.Context) error {
					engine, ctx, cancel, err := loadEngine(c)
					if err != nil {
						return err
					}
					defer cancel()
					defer engine.Close()
					_ = engine.Cache.Ping(ctx)
					return writeJSON(os.Stdout, engine.Cache.GetStats())
				},
			},
		},
	}
}

func runInvalidate(c *cli.Context) error {
	id, err := models.ParseSourceID(c.String("source"))
	if err != nil {
		return err
	}
	engine, ctx, cancel, err := loadEngine(c)
	if err != nil {
		return err
	}
	defer cancel()
	defer engine.Close()

	if !engine.Cache.IsAvailable() {
		return fmt.Errorf("redis is unavailable; nothing to invalidate")
	}
	n := engine.Cache.InvalidateSource(ctx, id)
	fmt.Printf("Removed %d cached entries for %s\n", n, id)
	return nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shorten(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
