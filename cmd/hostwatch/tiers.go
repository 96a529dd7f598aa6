// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/sample"
)

func (app *application) tiersCommand() *cli.Command {
	var (
		db     databaseFlags
		entity string
		utc    bool
	)
	return &cli.Command{
		Name:    "tiers",
		Summary: "Show the resolution ladder",
		Description: `Show the tiers stored in the database, finest first.

With --entity, also show how far each tier has been compacted for that
entity: records before the watermark live only in the next tier.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("tiers", pflag.ContinueOnError)
			db.register(flags)
			flags.StringVarP(&entity, "entity", "e", "", "show compaction watermarks for this entity")
			flags.BoolVar(&utc, "utc", false, "print times in UTC")
			return flags
		},
		Run: func([]string) error {
			var key sample.Key
			if entity != "" {
				var err error
				if key, err = sample.ParseKey(entity); err != nil {
					return process.Usagef("--entity: %v", err)
				}
			}

			ctx := context.Background()
			store, err := db.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			tiers := store.Tiers()
			var watermarks []time.Time
			if !key.IsZero() {
				if watermarks, err = store.Watermarks(ctx, key); err != nil {
					return err
				}
			}

			writer := tabwriter.NewWriter(app.stdout, 0, 0, 2, ' ', 0)
			header := "NAME\tINTERVAL\tSPAN\tAGGREGATION\tOVERRIDES"
			if watermarks != nil {
				header += "\tWATERMARK"
			}
			fmt.Fprintln(writer, header)
			for i, tier := range tiers {
				aggregation := tier.Aggregation
				if aggregation == "" {
					aggregation = history.Mean
				}
				line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s",
					tier.Name, tier.Interval, tier.Span, aggregation, formatOverrides(tier.Overrides))
				if watermarks != nil {
					mark := "-"
					if i < len(watermarks) {
						mark = formatTime(watermarks[i], utc)
					}
					line += "\t" + mark
				}
				fmt.Fprintln(writer, line)
			}
			return writer.Flush()
		},
	}
}

func formatOverrides(overrides map[string]history.Aggregation) string {
	if len(overrides) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(overrides))
	for counter, aggregation := range overrides {
		parts = append(parts, counter+"="+string(aggregation))
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}
