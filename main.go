package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmmfcoutinho/idealista-web-scraper/billing"
	"github.com/jmmfcoutinho/idealista-web-scraper/config"
	"github.com/jmmfcoutinho/idealista-web-scraper/fetch"
	"github.com/jmmfcoutinho/idealista-web-scraper/services"
	"github.com/jmmfcoutinho/idealista-web-scraper/storage"
	"github.com/jmmfcoutinho/idealista-web-scraper/utils"
)

const usage = `Usage: idealista-scraper <command> [flags]

Commands:
  prescrape       Populate districts and concelhos from the homepage
  scrape          Crawl search result pages and upsert listing cards
  scrape-details  Visit listing pages and enrich stored listings
  export          Export listings to CSV
  balance         Check the Bright Data account balance

Run 'idealista-scraper <command> -h' for command flags.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "prescrape":
		err = cmdPrescrape(os.Args[2:])
	case "scrape":
		err = cmdScrape(os.Args[2:])
	case "scrape-details":
		err = cmdScrapeDetails(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "balance":
		err = cmdBalance(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// commonFlags are shared by the crawl commands.
type commonFlags struct {
	configPath  string
	verbose     bool
	dryRun      bool
	useAsync    bool
	concurrency int
	trackCost   bool
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Path to the YAML crawl plan")
	fs.BoolVar(&c.verbose, "verbose", false, "Enable debug logging")
	fs.BoolVar(&c.dryRun, "dry-run", false, "Print the resolved configuration and exit")
	fs.BoolVar(&c.useAsync, "async", false, "Fetch pages concurrently")
	fs.IntVar(&c.concurrency, "concurrency", services.DefaultConcurrency,
		"Concurrent browser sessions, 1-20 (only with -async)")
	fs.BoolVar(&c.trackCost, "track-cost", false, "Report estimated bandwidth cost after the run")
	return c
}

func (c *commonFlags) validate(logger *zap.SugaredLogger) error {
	if c.useAsync && (c.concurrency < 1 || c.concurrency > 20) {
		return fmt.Errorf("concurrency must be between 1 and 20, got %d", c.concurrency)
	}
	if !c.useAsync && c.concurrency != services.DefaultConcurrency {
		logger.Warn("-concurrency has no effect without -async")
	}
	return nil
}

// crawlEnv is the assembled runtime for one crawl command.
type crawlEnv struct {
	logger  *zap.SugaredLogger
	store   storage.Store
	client  fetch.Client
	tracker *billing.BandwidthTracker
}

func (e *crawlEnv) close() {
	_ = e.client.Close()
	_ = e.store.Close()
	_ = e.logger.Sync()
}

// buildCrawlEnv connects the database, runs migrations and starts the
// browser client.
func buildCrawlEnv(logger *zap.SugaredLogger, runCfg *config.RunConfig) (*crawlEnv, error) {
	envCfg := config.Load()

	store, err := storage.NewPostgres(envCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	tracker := billing.NewBandwidthTracker(runCfg.Scraping.PricePerGB)
	client, err := fetch.NewBrowserClient(fetch.Options{
		BrightDataUser: envCfg.BrightDataBrowserUser,
		BrightDataPass: envCfg.BrightDataBrowserPass,
		ChromeBin:      envCfg.ChromeBin,
		Delay:          time.Duration(runCfg.Scraping.DelaySeconds * float64(time.Second)),
		MaxRetries:     runCfg.Scraping.MaxRetries,
	}, logger, tracker)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("start browser client: %w", err)
	}

	return &crawlEnv{logger: logger, store: store, client: client, tracker: tracker}, nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	logger, err := utils.NewLogger(verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func cmdPrescrape(args []string) error {
	fs := flag.NewFlagSet("prescrape", flag.ExitOnError)
	common := registerCommon(fs)
	_ = fs.Parse(args)

	logger, err := newLogger(common.verbose)
	if err != nil {
		return err
	}
	if err := common.validate(logger); err != nil {
		return err
	}

	runCfg, err := config.LoadRunConfig(common.configPath)
	if err != nil {
		return err
	}

	if common.dryRun {
		logger.Infow("[DRY RUN] Would scrape districts and concelhos from the homepage",
			"mode", modeName(common.useAsync), "concurrency", common.concurrency)
		return nil
	}

	env, err := buildCrawlEnv(logger, runCfg)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	if common.useAsync {
		_, err = services.NewConcurrentPreScraper(env.client, env.store, common.concurrency, logger).Run(ctx)
	} else {
		_, err = services.NewPreScraper(env.client, env.store, logger).Run(ctx)
	}
	reportCost(common, env.tracker)
	return err
}

func cmdScrape(args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	common := registerCommon(fs)
	var (
		operation string
		districts stringList
		concelhos stringList
		maxPages  int
	)
	fs.StringVar(&operation, "operation", "", "Override operation: comprar, arrendar or both")
	fs.Var(&districts, "district", "District slug to crawl (repeatable)")
	fs.Var(&concelhos, "concelho", "Concelho slug to crawl (repeatable)")
	fs.IntVar(&maxPages, "max-pages", 0, "Maximum pages per search")
	_ = fs.Parse(args)

	logger, err := newLogger(common.verbose)
	if err != nil {
		return err
	}
	if err := common.validate(logger); err != nil {
		return err
	}

	runCfg, err := config.LoadRunConfig(common.configPath)
	if err != nil {
		return err
	}
	if operation != "" {
		runCfg.Operation = operation
	}
	if locations := append(append(stringList{}, districts...), concelhos...); len(locations) > 0 {
		runCfg.Locations = locations
	}
	if maxPages > 0 {
		runCfg.Scraping.MaxPages = maxPages
	}
	if len(runCfg.Locations) == 0 {
		return fmt.Errorf("no locations configured; use -district, -concelho or a config file")
	}

	if common.dryRun {
		logger.Infow("[DRY RUN] Would scrape listings",
			"locations", runCfg.Locations,
			"operation", runCfg.Operation,
			"property_types", runCfg.PropertyTypes,
			"max_pages", runCfg.Scraping.MaxPages,
			"mode", modeName(common.useAsync),
			"concurrency", common.concurrency)
		return nil
	}

	env, err := buildCrawlEnv(logger, runCfg)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	if common.useAsync {
		_, err = services.NewConcurrentListingsScraper(env.client, env.store, runCfg, common.concurrency, logger).Run(ctx)
	} else {
		_, err = services.NewListingsScraper(env.client, env.store, runCfg, logger).Run(ctx)
	}
	reportCost(common, env.tracker)
	return err
}

func cmdScrapeDetails(args []string) error {
	fs := flag.NewFlagSet("scrape-details", flag.ExitOnError)
	common := registerCommon(fs)
	var limit int
	fs.IntVar(&limit, "limit", 0, "Maximum number of listings to process (0 = no limit)")
	_ = fs.Parse(args)

	logger, err := newLogger(common.verbose)
	if err != nil {
		return err
	}
	if err := common.validate(logger); err != nil {
		return err
	}

	runCfg, err := config.LoadRunConfig(common.configPath)
	if err != nil {
		return err
	}
	if limit == 0 {
		limit = runCfg.MaxListings
	}

	if common.dryRun {
		logger.Infow("[DRY RUN] Would scrape listing details",
			"limit", limit, "mode", modeName(common.useAsync), "concurrency", common.concurrency)
		return nil
	}

	env, err := buildCrawlEnv(logger, runCfg)
	if err != nil {
		return err
	}
	defer env.close()

	ctx := context.Background()
	if common.useAsync {
		_, err = services.NewConcurrentDetailsScraper(env.client, env.store, limit, common.concurrency, logger).Run(ctx)
	} else {
		_, err = services.NewDetailsScraper(env.client, env.store, limit, logger).Run(ctx)
	}
	reportCost(common, env.tracker)
	return err
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		configPath string
		verbose    bool
		output     string
		districts  stringList
		concelhos  stringList
		operation  string
		since      string
		activeOnly bool
	)
	fs.StringVar(&configPath, "config", "", "Path to the YAML crawl plan")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	fs.StringVar(&output, "output", "listings.csv", "Output CSV path")
	fs.Var(&districts, "district", "Filter by district slug (repeatable)")
	fs.Var(&concelhos, "concelho", "Filter by concelho slug (repeatable)")
	fs.StringVar(&operation, "operation", "", "Filter by operation: comprar or arrendar")
	fs.StringVar(&since, "since", "", "Only listings seen since this date (YYYY-MM-DD)")
	fs.BoolVar(&activeOnly, "active-only", true, "Only export active listings")
	_ = fs.Parse(args)

	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	filters := storage.ExportFilters{
		Districts:  districts,
		Concelhos:  concelhos,
		Operation:  operation,
		ActiveOnly: activeOnly,
	}
	if since != "" {
		ts, err := time.Parse("2006-01-02", since)
		if err != nil {
			return fmt.Errorf("invalid -since date %q, use YYYY-MM-DD", since)
		}
		filters.Since = &ts
	}

	envCfg := config.Load()
	store, err := storage.NewPostgres(envCfg.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()

	rows, err := store.ListListingsForExport(context.Background(), filters)
	if err != nil {
		return fmt.Errorf("read listings: %w", err)
	}

	count, err := storage.WriteListingsCSV(output, rows)
	if err != nil {
		return err
	}
	logger.Infow("Export completed", "listings", count, "path", output)

	insights := services.NewInsightService(logger)
	insights.Print(insights.Generate(rows))
	return nil
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	_ = fs.Parse(args)
	_ = verbose

	envCfg := config.Load()
	if envCfg.BrightDataAPIKey == "" {
		return fmt.Errorf("BRIGHTDATA_API_KEY is not set")
	}

	balance, err := billing.GetBalance(envCfg.BrightDataAPIKey)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	fmt.Printf("   Balance:       $%.2f\n", balance.Balance)
	fmt.Printf("   Pending costs: $%.2f\n", balance.PendingCosts)
	fmt.Printf("   Available:     $%.2f\n", balance.Available())
	return nil
}

func reportCost(common *commonFlags, tracker *billing.BandwidthTracker) {
	if common.trackCost {
		fmt.Printf("\n💰 %s\n", tracker.Summary())
	}
}

func modeName(useAsync bool) string {
	if useAsync {
		return "async"
	}
	return "sync"
}
