// Command dray runs an unattended research-to-delivery pipeline against
// UI-only hosted applications: submit a research query, wait out its
// uncertain completion, export the result, retrieve the artifact and deliver
// it to a destination surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/drayhq/dray/internal/journal"
	"github.com/drayhq/dray/internal/logging"
	"github.com/drayhq/dray/internal/mission"
	"github.com/drayhq/dray/internal/pipeline"
	"github.com/drayhq/dray/internal/schedule"
	"github.com/drayhq/dray/internal/surface"
)

const artifactExt = ".epub"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "schedule":
		return cmdSchedule(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "history":
		return cmdHistory(args[1:])
	case "version":
		printVersion()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: dray <command> [flags]

commands:
  run       -mission <file>              execute one run
  schedule  -mission <file> -cron <expr> run the mission on a cron cadence
  validate  -mission <file>              validate a mission file
  history   [-limit n]                   list past runs
  version                                print the version
`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// buildOrchestrator wires one orchestrator from the config and mission.
func buildOrchestrator(cfg Config, m *mission.Mission, jrnl journal.Journal, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	pollCfg, err := m.PollConfig()
	if err != nil {
		return nil, err
	}

	downloadDir := cfg.DownloadDir
	if m.DownloadDir != "" {
		downloadDir = m.DownloadDir
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	params := pipeline.Params{
		Query:       m.Query,
		Model:       m.Model,
		ResearchURL: m.ResearchURL,
		DeliverURL:  m.DestinationURL,
		DownloadDir: downloadDir,
		ArtifactExt: artifactExt,
		Poll:        pollCfg,
	}

	open := func(ctx context.Context) (pipeline.Session, error) {
		return surface.OpenSession(surface.SessionOptions{
			ProfileDir:  cfg.ProfileDir,
			DownloadDir: downloadDir,
			Headless:    cfg.Headless,
		}, logger)
	}

	return pipeline.New(params, pipeline.DefaultOptions(), open, jrnl, logger), nil
}

func openJournal(ctx context.Context, cfg Config, logger *slog.Logger) (journal.Journal, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	jrnl, err := journal.Open("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := jrnl.Migrate(ctx); err != nil {
		_ = jrnl.Close()
		return nil, err
	}
	logger.Debug("journal ready", "path", cfg.DBPath)
	return jrnl, nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	missionPath := fs.String("mission", "", "path to the mission file")
	_ = fs.Parse(args)

	if *missionPath == "" {
		fmt.Fprintln(os.Stderr, "run: -mission is required")
		return 2
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := mission.Load(*missionPath)
	if err != nil {
		logger.Error("invalid mission", "error", err.Error())
		return 1
	}

	jrnl, err := openJournal(ctx, cfg, logger)
	if err != nil {
		logger.Error("open journal", "error", err.Error())
		return 1
	}
	defer jrnl.Close()

	orch, err := buildOrchestrator(cfg, m, jrnl, logger)
	if err != nil {
		logger.Error("wire pipeline", "error", err.Error())
		return 1
	}

	if err := orch.Run(ctx); err != nil {
		return 1
	}
	return 0
}

func cmdSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	missionPath := fs.String("mission", "", "path to the mission file")
	cronExpr := fs.String("cron", "", "five-field cron expression")
	_ = fs.Parse(args)

	if *missionPath == "" || *cronExpr == "" {
		fmt.Fprintln(os.Stderr, "schedule: -mission and -cron are required")
		return 2
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := mission.Load(*missionPath)
	if err != nil {
		logger.Error("invalid mission", "error", err.Error())
		return 1
	}

	jrnl, err := openJournal(ctx, cfg, logger)
	if err != nil {
		logger.Error("open journal", "error", err.Error())
		return 1
	}
	defer jrnl.Close()

	orch, err := buildOrchestrator(cfg, m, jrnl, logger)
	if err != nil {
		logger.Error("wire pipeline", "error", err.Error())
		return 1
	}

	sched, err := schedule.NewScheduler(*cronExpr, orch,
		schedule.NewBreaker(schedule.DefaultBreakerConfig()), logger)
	if err != nil {
		logger.Error("invalid schedule", "error", err.Error())
		return 1
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("start scheduler", "error", err.Error())
		return 1
	}

	<-ctx.Done()
	if err := sched.Stop(); err != nil {
		logger.Error("stop scheduler", "error", err.Error())
		return 1
	}
	return 0
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	missionPath := fs.String("mission", "", "path to the mission file")
	_ = fs.Parse(args)

	if *missionPath == "" {
		fmt.Fprintln(os.Stderr, "validate: -mission is required")
		return 2
	}

	m, err := mission.Load(*missionPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %s\n", err.Error())
		return 1
	}
	if _, err := m.PollConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %s\n", err.Error())
		return 1
	}
	fmt.Printf("valid: %q (model %s)\n", m.Query, m.Model)
	return 0
}

func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	_ = fs.Parse(args)

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	jrnl, err := openJournal(ctx, cfg, logger)
	if err != nil {
		logger.Error("open journal", "error", err.Error())
		return 1
	}
	defer jrnl.Close()

	runs, err := jrnl.ListRuns(ctx, *limit)
	if err != nil {
		logger.Error("list runs", "error", err.Error())
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return 0
	}

	for _, r := range runs {
		line := []string{
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Status,
			r.Stage,
			r.Query,
		}
		if r.ArtifactPath != "" {
			line = append(line, r.ArtifactPath)
		}
		if r.Error != "" {
			line = append(line, r.Error)
		}
		fmt.Println(strings.Join(line, "  "))
	}
	return 0
}
