package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/breakingnews/internal/classifier"
	"reddot-watch/breakingnews/internal/collector"
	"reddot-watch/breakingnews/internal/config"
	"reddot-watch/breakingnews/internal/database"
	"reddot-watch/breakingnews/internal/discovery"
	"reddot-watch/breakingnews/internal/health"
	importsources "reddot-watch/breakingnews/internal/import"
	"reddot-watch/breakingnews/internal/pipeline"
	"reddot-watch/breakingnews/internal/registry"
	"reddot-watch/breakingnews/internal/report"
	"reddot-watch/breakingnews/internal/seencache"
	"reddot-watch/breakingnews/internal/server"
	"reddot-watch/breakingnews/internal/server/api"
	"reddot-watch/breakingnews/internal/storage"
)

const usage = `Usage: breakingnews [command] [options]
Commands: import, seed, start, server, health, report, export, clear, migrate

For command-specific options, use: breakingnews [command] -h`

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// command is one subcommand: its flag set and what it runs once parsed.
type command struct {
	flags *flag.FlagSet
	run   func(ctx context.Context, cfg *config.Config) error
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Println(usage)
		os.Exit(0)
	}

	cfg, err := config.Load(config.PathFromArgs(os.Args[2:]))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	cmd, ok := commands(cfg)[name]
	if !ok {
		log.Error().Str("command", name).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	logLevel := cfg.LogLevel.String()
	cmd.flags.StringVar(&logLevel, "log-level", logLevel,
		"Log level: debug, info, warn, error (env: BREAKING_LOG_LEVEL)")
	cmd.flags.String("config", config.PathFromArgs(os.Args[2:]),
		"Path to a YAML configuration file (env: BREAKING_CONFIG)")
	cmd.flags.Parse(os.Args[2:])

	// Handle log level parsing separately since it needs conversion
	if level, err := zerolog.ParseLevel(logLevel); err == nil && logLevel != "" {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = cmd.run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Str("command", name).Msg("Command failed")
		os.Exit(1)
	}
}

func commands(cfg *config.Config) map[string]command {
	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCmd.StringVar(&cfg.SourcesCSVPath, "csv", cfg.SourcesCSVPath,
		"Path to the sources CSV file, downloaded when missing (env: BREAKING_CSV_PATH)")
	dbFlag(importCmd, cfg)
	var reset bool
	importCmd.BoolVar(&reset, "reset", false, "Delete the existing database before importing")

	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	dbFlag(seedCmd, cfg)

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	dbFlag(startCmd, cfg)
	pipelineFlags(startCmd, cfg)
	startCmd.DurationVar(&cfg.Interval, "interval", cfg.Interval,
		"Interval between pipeline runs, 0 for one-shot mode (env: BREAKING_INTERVAL)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	dbFlag(serverCmd, cfg)
	pipelineFlags(serverCmd, cfg)
	serverCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost,
		"Host to bind the server to (env: BREAKING_HOST)")
	serverCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort,
		"Port to listen on (env: BREAKING_PORT)")
	serverCmd.StringVar(&cfg.APIKey, "api-key", cfg.APIKey,
		"API key required on /v1 routes, empty disables auth (env: BREAKING_API_KEY)")

	healthCmd := flag.NewFlagSet("health", flag.ExitOnError)
	dbFlag(healthCmd, cfg)

	reportCmd := flag.NewFlagSet("report", flag.ExitOnError)
	dbFlag(reportCmd, cfg)
	var runCount int
	reportCmd.IntVar(&runCount, "runs", 5, "Number of recent pipeline runs to show")

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	dbFlag(exportCmd, cfg)
	var exportPath string
	var exportLimit int
	exportCmd.StringVar(&exportPath, "out", "", "Output .docx path (default breaking_<timestamp>.docx)")
	exportCmd.IntVar(&exportLimit, "limit", 100, "Maximum number of articles to export")

	clearCmd := flag.NewFlagSet("clear", flag.ExitOnError)
	dbFlag(clearCmd, cfg)
	var assumeYes bool
	clearCmd.BoolVar(&assumeYes, "yes", false, "Do not ask for confirmation")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbFlag(migrateCmd, cfg)
	var down int
	migrateCmd.IntVar(&down, "down", 0, "Roll back the last n migrations instead of applying pending ones")

	return map[string]command{
		"import": {importCmd, func(ctx context.Context, cfg *config.Config) error {
			return runImport(ctx, cfg, reset)
		}},
		"seed":   {seedCmd, runSeed},
		"start":  {startCmd, runStart},
		"server": {serverCmd, runServer},
		"health": {healthCmd, runHealth},
		"report": {reportCmd, func(ctx context.Context, cfg *config.Config) error {
			return runReport(ctx, cfg, runCount)
		}},
		"export": {exportCmd, func(ctx context.Context, cfg *config.Config) error {
			return runExport(ctx, cfg, exportPath, exportLimit)
		}},
		"clear": {clearCmd, func(ctx context.Context, cfg *config.Config) error {
			return runClear(ctx, cfg, assumeYes)
		}},
		"migrate": {migrateCmd, func(ctx context.Context, cfg *config.Config) error {
			return runMigrate(cfg, down)
		}},
	}
}

func dbFlag(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath,
		"Path to the SQLite database file (env: BREAKING_DB_PATH)")
}

func pipelineFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount,
		"Number of concurrent source fetches, 0 for no limit (env: BREAKING_WORKER_COUNT)")
	fs.IntVar(&cfg.RetentionDays, "retention", cfg.RetentionDays,
		"Number of days to retain published articles (env: BREAKING_RETENTION_DAYS)")
	fs.IntVar(&cfg.MinHealth, "min-health", cfg.MinHealth,
		"Minimum health score of collected sources (env: BREAKING_MIN_HEALTH)")
	fs.StringVar(&cfg.FeedReader, "reader", cfg.FeedReader,
		"Feed reader: gofeed or feedfetcher (env: BREAKING_FEED_READER)")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr,
		"Redis address for the seen cache, empty keeps it in memory (env: BREAKING_REDIS_ADDR)")
}

// openDB opens the database. Read-only connections skip migrations and need
// an existing file.
func openDB(cfg *config.Config, readOnly bool) (*database.DB, error) {
	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = readOnly
	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// runImport adds the sources of a CSV file to the registry. Rows whose URL is
// already registered are reported and skipped. With reset the database is
// deleted first, after confirmation.
func runImport(ctx context.Context, cfg *config.Config, reset bool) error {
	if _, err := os.Stat(cfg.DBPath); err == nil && reset {
		fmt.Printf("Database %s already exists. All sources and articles will be lost.\n", cfg.DBPath)
		if !confirm("Delete and recreate?") {
			log.Info().Msg("Operation canceled by user")
			return fmt.Errorf("operation canceled by user")
		}

		if err := database.DeleteDB(cfg.DBPath); err != nil {
			log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to delete existing database")
			return fmt.Errorf("failed to delete existing database: %w", err)
		}
		log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	importer := importsources.NewImporter(registry.New(db), config.RemoteSourcesURL)
	res, err := importer.ImportSources(ctx, cfg.SourcesCSVPath)
	if err != nil {
		return err
	}
	for _, msg := range res.Errors {
		log.Warn().Msg(msg)
	}
	log.Info().
		Int("total", res.Total).
		Int("imported", res.Imported).
		Int("errors", len(res.Errors)).
		Msg("Import finished")
	return nil
}

func runSeed(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := newDiscoverer(cfg, registry.New(db)).Seed(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("added", res.Added).Int("skipped", res.Skipped).Msg("Seed sources loaded")
	return nil
}

func newDiscoverer(cfg *config.Config, reg *registry.Registry) *discovery.Discoverer {
	return discovery.New(reg, discovery.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
	})
}

// newPipeline wires the collector, classifier and seen cache into an
// orchestrator. The returned func releases the seen cache.
func newPipeline(ctx context.Context, cfg *config.Config, db *database.DB, reg *registry.Registry) (*pipeline.Orchestrator, func(), error) {
	reader, err := collector.NewReader(cfg.FeedReader, collector.ReaderConfig{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		MaxItems:  collector.DefaultMaxItems,
		MaxAge:    cfg.Retention(),
	})
	if err != nil {
		return nil, nil, err
	}
	col := collector.New(reader, collector.NewExtractor(cfg.UserAgent, cfg.FetchTimeout), reg, collector.Config{
		Workers: cfg.WorkerCount,
		Timeout: cfg.FetchTimeout,
	})

	cls := classifier.New(classifier.Config{
		Endpoint: cfg.ClassifierEndpoint,
		Model:    cfg.ClassifierModel,
		APIKey:   cfg.ClassifierAPIKey,
	})

	var seen seencache.Cache = seencache.NewMemory(cfg.SeenTTL)
	release := func() {}
	if cfg.RedisAddr != "" {
		rc, err := seencache.NewRedis(ctx, cfg.RedisAddr, cfg.SeenTTL)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, using in-memory seen cache")
		} else {
			seen = rc
			release = func() {
				if err := rc.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close redis client")
				}
			}
		}
	}

	orch := pipeline.New(reg, col, cls, storage.NewArticleRepository(db), storage.NewRunRepository(db), seen, pipeline.Config{
		MinHealth:  cfg.MinHealth,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
		Retention:  cfg.Retention(),
	})
	return orch, release, nil
}

// runStart executes the pipeline either once or periodically based on
// configuration. Every cycle is followed by a health pass over the registry.
func runStart(ctx context.Context, cfg *config.Config) error {
	if cfg.Interval <= 0 {
		log.Info().Msg("Running in one-shot mode")
	} else {
		log.Info().Dur("interval", cfg.Interval).Msg("Running in periodic mode")
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(db)
	orch, release, err := newPipeline(ctx, cfg, db, reg)
	if err != nil {
		return err
	}
	defer release()
	monitor := health.New(reg)

	if err := runCycle(ctx, orch, monitor); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Pipeline canceled by shutdown signal")
			return nil
		}
		if cfg.Interval <= 0 {
			return err
		}
		log.Error().Err(err).Msg("Pipeline cycle failed")
	}

	if cfg.Interval <= 0 {
		log.Info().Msg("One-shot run completed, exiting")
		return nil
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info().Time("next_run", time.Now().Add(cfg.Interval)).Msg("Waiting for next pipeline cycle")

	for {
		select {
		case <-ticker.C:
			log.Info().Msg("Starting scheduled pipeline cycle")

			if err := runCycle(ctx, orch, monitor); err != nil {
				if errors.Is(err, context.Canceled) {
					log.Info().Msg("Pipeline canceled by shutdown signal")
					return nil
				}
				// Continue to the next cycle rather than exiting
				log.Error().Err(err).Msg("Pipeline cycle failed")
			}

			log.Info().Time("next_run", time.Now().Add(cfg.Interval)).Msg("Waiting for next pipeline cycle")

		case <-ctx.Done():
			log.Info().Msg("Shutting down periodic processing")
			return nil
		}
	}
}

func runCycle(ctx context.Context, orch *pipeline.Orchestrator, monitor *health.Monitor) error {
	run, err := orch.Run(ctx)
	log.Info().
		Str("run_id", run.ID).
		Int("collected", run.Collected).
		Int("deduplicated", run.Deduplicated).
		Int("processed", run.Processed).
		Int("saved", run.Saved).
		Int("failed", run.Failed).
		Int64("purged", run.Purged).
		Dur("duration", run.Duration()).
		Msg("Pipeline cycle finished")
	if err != nil {
		return err
	}
	return monitor.Run(ctx)
}

// runServer starts the HTTP API. The server owns a pipeline so that
// POST /v1/scrape can trigger runs.
func runServer(ctx context.Context, cfg *config.Config) error {
	log.Debug().Msg("Starting server with debug logging enabled")

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(db)
	orch, release, err := newPipeline(ctx, cfg, db, reg)
	if err != nil {
		return err
	}
	defer release()

	h := api.NewHandler(api.Deps{
		Articles:  storage.NewArticleRepository(db),
		Runs:      storage.NewRunRepository(db),
		Sources:   reg,
		Health:    health.New(reg),
		Discovery: newDiscoverer(cfg, reg),
		Pipeline:  orch,
		DB:        db,
		Context:   ctx,
	})
	return server.RunServer(ctx, server.NewHandler(h, cfg.APIKey, log.Logger), cfg.ListenAddr(), log.Logger)
}

func runHealth(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	monitor := health.New(registry.New(db))
	if err := monitor.Run(ctx); err != nil {
		return err
	}
	rep, err := monitor.Report(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("total", rep.Total).
		Int("active", rep.Active).
		Float64("avg_health", rep.AvgHealth).
		Int("poor", rep.Distribution.Poor).
		Msg("Health pass finished")
	return nil
}

func runReport(ctx context.Context, cfg *config.Config, runCount int) error {
	db, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New(db)
	rep, err := health.New(reg).Report(ctx)
	if err != nil {
		return err
	}
	sources, err := reg.List(ctx, false, 0)
	if err != nil {
		return err
	}
	runs, err := storage.NewRunRepository(db).Recent(ctx, runCount)
	if err != nil {
		return err
	}

	fmt.Print(report.RenderTerminal(report.Snapshot{
		Health:      rep,
		Sources:     sources,
		Runs:        runs,
		GeneratedAt: time.Now(),
	}, report.TerminalWidth(os.Stdout)))
	return nil
}

func runExport(ctx context.Context, cfg *config.Config, path string, limit int) error {
	db, err := openDB(cfg, true)
	if err != nil {
		return err
	}
	defer db.Close()

	articles, err := storage.NewArticleRepository(db).List(ctx, limit, nil, nil)
	if err != nil {
		return err
	}

	now := time.Now()
	if path == "" {
		path = report.DigestFilename(now)
	}
	if err := report.ExportDocx(path, articles, now); err != nil {
		return err
	}
	log.Info().Str("path", path).Int("articles", len(articles)).Msg("Digest exported")
	return nil
}

// runClear deletes every published article after asking for confirmation.
func runClear(ctx context.Context, cfg *config.Config, assumeYes bool) error {
	if !assumeYes {
		fmt.Printf("All published articles in %s will be deleted.\n", cfg.DBPath)
		if !confirm("Continue?") {
			log.Info().Msg("Operation canceled by user")
			return nil
		}
	}

	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := storage.NewArticleRepository(db).DeleteAll(ctx)
	if err != nil {
		return err
	}
	log.Info().Int64("deleted", n).Msg("Articles cleared")
	return nil
}

// runMigrate applies pending migrations, or rolls back the last down ones.
func runMigrate(cfg *config.Config, down int) error {
	db, err := openDB(cfg, false)
	if err != nil {
		return err
	}
	defer db.Close()

	if down > 0 {
		if err := db.Rollback(down); err != nil {
			return err
		}
		log.Info().Int("count", down).Msg("Migrations rolled back")
	}
	return nil
}

func confirm(question string) bool {
	fmt.Printf("%s (y/N): ", question)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.ToLower(strings.TrimSpace(answer)) == "y"
}
