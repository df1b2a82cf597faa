// Package main is the operator entry point for the experiment engine: it
// brings up backend servers, connects the routed client, submits
// experiment footprints and inspects the run journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/backend"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/config"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/microscope"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/probe"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `Usage: microscopectl <command> [flags]

Commands:
  run      bring up backends, connect and submit an experiment footprint
  status   probe the configured backend endpoints
  history  list journaled experiment runs

Run 'microscopectl <command> -h' for command flags.

Exit codes for run: 0 success, 1 operational failure, 2 usage,
3 rejected by constraints, 4 aborted during execution.
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("microscopectl %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		os.Exit(cmdRun(args[1:]))
	case "status":
		os.Exit(cmdStatus(args[1:]))
	case "history":
		os.Exit(cmdHistory(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// cmdRun drives one experiment end to end: backend bring-up, client
// connect, footprint submission and teardown.
func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration YAML")
	footprint := fs.String("footprint", "", "experiment footprint JSON file (- for stdin)")
	mode := fs.String("mode", "", "run mode override (mock or real)")
	host := fs.String("host", "", "central server host override")
	port := fs.Int("port", 0, "central server port override")
	keep := fs.Bool("keep-servers", false, "leave spawned backends running on exit")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args)

	logger := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration invalid", slog.Any("error", err))
		return 1
	}
	raw, err := readFootprint(*footprint)
	if err != nil {
		logger.Error("footprint unreadable", slog.Any("error", err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := microscope.NewSession(cfg, logger)
	if !*keep {
		defer func() { fmt.Println(sess.CloseMicroscope()) }()
	}

	report, err := sess.StartServers(ctx, domain.RunMode(*mode))
	if err != nil {
		logger.Error("backend bring-up failed", slog.Any("error", err))
		return 1
	}
	fmt.Println(report)

	summary, err := sess.ConnectClient(ctx, *host, *port)
	if err != nil {
		logger.Error("connect failed", slog.Any("error", err))
		return 1
	}
	fmt.Println(summary)

	if err := sess.OpenJournal(); err != nil {
		logger.Warn("journal unavailable, run will not be recorded", slog.Any("error", err))
	}

	result, err := sess.SubmitExperiment(ctx, raw)
	if result != "" {
		fmt.Println(result)
	}
	if err != nil {
		if engErr, ok := err.(*domain.EngineError); ok {
			switch engErr.Code {
			case domain.ErrConstraintViolation.Code:
				return 3
			case domain.ErrActionFailure.Code:
				return 4
			}
		}
		logger.Error("submission failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// cmdStatus probes every configured backend endpoint and reports which
// ones answer.
func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration YAML")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args)

	logger := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration invalid", slog.Any("error", err))
		return 1
	}

	descriptors := backend.Descriptors(cfg)
	down := 0
	for _, name := range backend.DefaultModules() {
		desc := descriptors[name]
		state := "down"
		if probe.WaitForPort(desc.Host, desc.Port, probe.ShortTimeout) {
			state = "listening"
		} else {
			down++
		}
		fmt.Printf("%-8s %s:%-5d %s\n", name, desc.Host, desc.Port, state)
	}
	if down > 0 {
		return 1
	}
	return 0
}

// cmdHistory lists journaled runs, newest first.
func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration YAML")
	limit := fs.Int("limit", 10, "maximum runs to list")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	fs.Parse(args)

	logger := newLogger(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("configuration invalid", slog.Any("error", err))
		return 1
	}

	sess := microscope.NewSession(cfg, logger)
	if err := sess.OpenJournal(); err != nil {
		logger.Error("journal open failed", slog.Any("error", err))
		return 1
	}
	defer sess.CloseMicroscope()

	runs, err := sess.RecentRuns(context.Background(), *limit)
	if err != nil {
		logger.Error("journal query failed", slog.Any("error", err))
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No journaled runs.")
		return 0
	}
	for _, run := range runs {
		verdict := "failed"
		if run.Success {
			verdict = "ok"
		}
		fmt.Printf("%s  %-20s %-10s %-6s reward=%-8v %s\n",
			time.Unix(run.StartedAt, 0).Format("2006-01-02 15:04:05"),
			run.ExperimentID, run.Phase, verdict, run.Reward, run.Description)
	}
	return 0
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))
}

// loadConfig resolves configuration: the explicit flag, the
// MICROSCOPE_CONFIG variable, a config.yaml next to the executable or in
// the working directory, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("MICROSCOPE_CONFIG")
	}
	if path == "" {
		path = discoverConfig()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func readFootprint(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("--footprint is required (a JSON file, or - for stdin)")
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
