// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

// terra-orchestrator runs the sandbox orchestration service.
//
// Usage:
//
//	terra-orchestrator serve [--config path]
//	terra-orchestrator version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/terragon-labs/orchestra/lib/config"
	"github.com/terragon-labs/orchestra/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("TERRAGON_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = serveCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Println(version.Full())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func serveCmd(args []string, logger *slog.Logger) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to orchestrator.yaml (overrides TERRAGON_CONFIG)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchestrator, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	return orchestrator.serve(ctx)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `terra-orchestrator - sandbox orchestration service

Usage:
  terra-orchestrator serve [--config path]
  terra-orchestrator version

Environment:
  TERRAGON_CONFIG  path to orchestrator.yaml (or use --config)
  TERRAGON_DEBUG   enable debug logging when set
`)
}
