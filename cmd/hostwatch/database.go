// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/lib/config"
	"github.com/hostwatch/hostwatch/lib/history"
)

// databaseFlags locate the history database.
type databaseFlags struct {
	configPath string
	database   string
}

func (f *databaseFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "configuration file naming the database (default $"+config.EnvVar+")")
	flags.StringVarP(&f.database, "database", "d", "", "history database file")
}

// open opens an existing database with the ladder stored in it.
func (f *databaseFlags) open(ctx context.Context) (*history.Store, error) {
	path := f.database
	if path == "" {
		cfg, err := config.Resolve(f.configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.Database
	}
	if path == "" {
		return nil, fmt.Errorf("no database configured; pass --database")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("history database: %w", err)
	}

	backend, err := history.OpenSQLite(history.SQLiteConfig{Path: path, PoolSize: 2})
	if err != nil {
		return nil, err
	}
	store, err := history.NewStore(ctx, history.Config{Backend: backend})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return store, nil
}
