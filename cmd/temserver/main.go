// Package main is the simulated instrument backend. The process serves a
// single module (central, as or ceos) over the JSON-line wire protocol;
// the process supervisor spawns one temserver per module in mock mode.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/sim"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	module := flag.String("module", "as", "module to serve (central, as or ceos)")
	host := flag.String("host", "127.0.0.1", "listen host")
	port := flag.Int("port", 0, "listen port (0 picks an ephemeral port)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("temserver %s (commit=%s, built=%s)\n", version, commit, date)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.TimeOnly}))

	name, err := moduleName(*module)
	if err != nil {
		logger.Error("invalid module flag", slog.Any("error", err))
		os.Exit(2)
	}
	handler, err := sim.NewModule(name)
	if err != nil {
		logger.Error("module construction failed", slog.Any("error", err))
		os.Exit(1)
	}

	srv := sim.NewServer(name, handler, logger)
	bound, err := srv.Listen(*host, *port)
	if err != nil {
		logger.Error("listen failed", slog.Any("error", err))
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down", slog.String("module", string(name)))
		srv.Close()
	}()

	logger.Info("temserver ready",
		slog.String("module", string(name)), slog.String("host", *host), slog.Int("port", bound))
	if err := srv.Serve(); err != nil {
		logger.Error("serve failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func moduleName(s string) (domain.ModuleName, error) {
	switch strings.ToLower(s) {
	case "central":
		return domain.ModuleCentral, nil
	case "as":
		return domain.ModuleAS, nil
	case "ceos":
		return domain.ModuleCeos, nil
	default:
		return "", fmt.Errorf("unknown module %q (want central, as or ceos)", s)
	}
}
