// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/sample"
)

func (app *application) queryCommand() *cli.Command {
	var (
		db        databaseFlags
		from, to  string
		maxPoints int
		tier      string
		counters  []string
		utc       bool
	)
	return &cli.Command{
		Name:    "query",
		Summary: "Print an entity's rate history",
		Description: `Print the rate records of one entity whose start lies in [--from, --to].

With --max-points the coarsest tier that still gives that many points
is chosen, and runs of records are merged so no more than that many are
printed. --tier forces a tier by name.`,
		Usage: "hostwatch query ENTITY [flags]",
		Examples: []cli.Example{
			{Description: "Last ten minutes of one CPU", Command: "hostwatch query cpu/cpu0 --from -10m"},
			{Description: "A day of disk reads, about 200 points", Command: "hostwatch query disk/sda --from -24h --max-points 200 --counter reads"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("query", pflag.ContinueOnError)
			db.register(flags)
			flags.StringVar(&from, "from", "-1h", "start of the range")
			flags.StringVar(&to, "to", "now", "end of the range")
			flags.IntVarP(&maxPoints, "max-points", "n", 0, "merge records so at most this many are printed (0 = all)")
			flags.StringVar(&tier, "tier", "", "read this tier instead of choosing one")
			flags.StringSliceVarP(&counters, "counter", "c", nil, "only print these counters")
			flags.BoolVar(&utc, "utc", false, "print times in UTC")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return process.Usagef("query takes exactly one entity, like cpu/cpu0")
			}
			key, err := sample.ParseKey(args[0])
			if err != nil {
				return process.Usagef("%v", err)
			}
			now := app.now()
			start, err := parseTime(from, now)
			if err != nil {
				return process.Usagef("--from: %v", err)
			}
			end, err := parseTime(to, now)
			if err != nil {
				return process.Usagef("--to: %v", err)
			}

			ctx := context.Background()
			store, err := db.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Query(ctx, history.Request{
				Key:       key,
				From:      start,
				To:        end,
				MaxPoints: maxPoints,
				Tier:      tier,
			})
			if err != nil {
				return err
			}
			collected, err := history.Collect(records)
			if err != nil {
				return err
			}
			if len(collected) == 0 {
				fmt.Fprintf(app.stderr, "no records for %s in range\n", key)
				return nil
			}
			return app.printRecords(collected, counters, utc)
		},
	}
}

// printRecords writes one row per record with a column per counter.
func (app *application) printRecords(records []sample.RateRecord, only []string, utc bool) error {
	names := only
	if len(names) == 0 {
		seen := make(map[string]bool)
		for _, record := range records {
			for name := range record.Rates {
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		slices.Sort(names)
	}

	writer := tabwriter.NewWriter(app.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := append([]string{"START", "END", "SAMPLES"}, upper(names)...)
	fmt.Fprintln(writer, strings.Join(header, "\t")+"\t")
	for _, record := range records {
		row := []string{formatTime(record.Start, utc), formatTime(record.End, utc), strconv.Itoa(record.Samples)}
		for _, name := range names {
			value, ok := record.Rates[name]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, formatRate(value))
		}
		fmt.Fprintln(writer, strings.Join(row, "\t")+"\t")
	}
	return writer.Flush()
}

func upper(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.ToUpper(name)
	}
	return out
}

// formatRate keeps two decimals below 1000 and none above.
func formatRate(value float64) string {
	if value >= 1000 {
		return strconv.FormatFloat(value, 'f', 0, 64)
	}
	return strconv.FormatFloat(value, 'f', 2, 64)
}
