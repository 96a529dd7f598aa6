// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
)

func (app *application) entitiesCommand() *cli.Command {
	var (
		db    databaseFlags
		class string
		tag   string
		utc   bool
	)
	return &cli.Command{
		Name:    "entities",
		Summary: "List recorded entities",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("entities", pflag.ContinueOnError)
			db.register(flags)
			flags.StringVar(&class, "class", "", "only this class (cpu, disk, nic, sched)")
			flags.StringVar(&tag, "tag", "", "only entities with this tag")
			flags.BoolVar(&utc, "utc", false, "print times in UTC")
			return flags
		},
		Run: func([]string) error {
			ctx := context.Background()
			store, err := db.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			entities, err := store.Entities(ctx)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(app.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "ENTITY\tTAG\tFIRST SEEN")
			for _, entity := range entities {
				if class != "" && entity.Key.Class != class {
					continue
				}
				if tag != "" && entity.Tag != tag {
					continue
				}
				entityTag := entity.Tag
				if entityTag == "" {
					entityTag = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", entity.Key, entityTag, formatTime(entity.FirstSeen, utc))
			}
			return writer.Flush()
		},
	}
}
