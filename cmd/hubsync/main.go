package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/unihub/hubsync/internal/application/offline"
	"github.com/unihub/hubsync/internal/domain/community"
	"github.com/unihub/hubsync/internal/infrastructure/config"
	"github.com/unihub/hubsync/internal/infrastructure/gateway"
	"github.com/unihub/hubsync/internal/infrastructure/logger"
	"github.com/unihub/hubsync/internal/infrastructure/persistence"
	"github.com/unihub/hubsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		configPath string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (default: search ./config.toml, ./config, $HOME/.hubsync)")
	flag.StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, args); err != nil {
		log.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
		stop()
		_ = logger.Sync(log)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, base *zap.Logger, args []string) error {
	providers, err := telemetry.Setup(ctx, cfg.Telemetry, base)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			base.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	log := providers.Logger(base, cfg.Telemetry.ServiceName, level)

	registry := persistence.NewRegistry(log)
	defer func() {
		if err := registry.Close(); err != nil {
			log.Error("Error closing store", zap.Error(err))
		}
	}()
	store, err := registry.Open(&cfg.Store)
	if err != nil {
		return err
	}
	if err := providers.InstrumentStore(store.DB()); err != nil {
		return fmt.Errorf("instrument store: %w", err)
	}

	var client *gateway.Client
	if cfg.Remote.BaseURL != "" {
		client = gateway.NewClient(&cfg.Remote, gateway.WithLogger(log))
	}

	svc, err := offline.NewService(cfg, store, client, log, providers.Metrics)
	if err != nil {
		return err
	}

	switch args[0] {
	case "ingest":
		if len(args) < 2 {
			return fmt.Errorf("usage: hubsync ingest <bundle.json>")
		}
		return ingest(ctx, svc, args[1])
	case "fetch-bundle":
		report, err := svc.Login(ctx)
		if err != nil {
			return err
		}
		return printReport(report)
	case "resolve":
		if len(args) < 2 {
			return fmt.Errorf("usage: hubsync resolve <dataset>")
		}
		return resolve(ctx, svc, community.DatasetKey(args[1]))
	case "sync-check":
		return printJSON(svc.Tracker().CheckRemote(ctx))
	case "meta":
		return printJSON(svc.Status(ctx))
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func ingest(ctx context.Context, svc *offline.Service, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	report, err := svc.Import(ctx, f)
	if err != nil {
		return err
	}
	return printReport(report)
}

func resolve(ctx context.Context, svc *offline.Service, key community.DatasetKey) error {
	r := svc.Resolver()
	switch key {
	case community.KeyHousing:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Housing))
	case community.KeyRestaurants:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Restaurants))
	case community.KeyVideos:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Videos))
	case community.KeyPosts:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Posts))
	case community.KeyAnnouncements:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Announcements))
	case community.KeyResources:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Resources))
	case community.KeyScamGroups:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.ScamGroups))
	case community.KeyCommunityGroups:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.CommunityGroups))
	case community.KeyHealthInsurance:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.HealthInsurance))
	case community.KeyLawyers:
		return printJSON(offline.ResolveDetailed(ctx, r, offline.Lawyers))
	}
	return fmt.Errorf("unknown dataset %q", key)
}

type tableLine struct {
	Dataset string `json:"dataset"`
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

func printReport(report *offline.IngestReport) error {
	lines := make([]tableLine, 0, len(report.Tables))
	for key, res := range report.Tables {
		line := tableLine{Dataset: key.String(), Rows: res.Rows}
		if res.Err != nil {
			line.Error = res.Err.Error()
		}
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Dataset < lines[j].Dataset })

	skipped := make([]string, 0, len(report.Skipped))
	for _, key := range report.Skipped {
		skipped = append(skipped, key.String())
	}
	return printJSON(map[string]any{
		"university": report.University,
		"tables":     lines,
		"skipped":    skipped,
		"elapsed":    report.Duration.String(),
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: hubsync [flags] <command> [args]

Commands:
  ingest <bundle.json>   Ingest a university bundle file into the local store
  fetch-bundle           Download the university bundle from the backend and ingest it
  resolve <dataset>      Resolve a dataset (local, then remote, then defaults)
  sync-check             Ask the backend which datasets are stale
  meta                   Print the local sync metadata, pending refreshes and store stats

Flags:
`)
	flag.PrintDefaults()
}
