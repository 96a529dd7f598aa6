// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/lib/config"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath  string
	database    string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("hostwatchd", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default $"+config.EnvVar+")")
	flags.StringVar(&opts.database, "database", "", "history database, overriding the configuration")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			flags.SetOutput(os.Stderr)
			flags.PrintDefaults()
			return opts, process.Usagef("help requested")
		}
		return opts, process.Usagef("%v", err)
	}
	if flags.NArg() > 0 {
		return opts, process.Usagef("unexpected argument %q", flags.Arg(0))
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		version.Print(os.Stdout, "hostwatchd")
		return nil
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return err
	}
	if opts.database != "" {
		cfg.Database = opts.database
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return process.Usagef("%v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("hostwatchd starting",
		"version", version.Short(),
		"database", cfg.Database,
		"interval", cfg.Interval,
		"sources", cfg.Sources,
	)
	return runDaemon(ctx, cfg, logger)
}
