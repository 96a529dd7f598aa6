// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
	"github.com/hostwatch/hostwatch/lib/export"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/sample"
)

func (app *application) exportCommand() *cli.Command {
	var (
		db          databaseFlags
		output      string
		from, to    string
		tier        string
		entities    []string
		compression string
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Write history to a compressed archive",
		Description: `Write the records of one tier to a self-verifying archive.

Every frame of the archive is checksummed; "hostwatch inspect" verifies
an archive and summarizes it. Without --output the archive goes to
stdout, which must not be a terminal.`,
		Examples: []cli.Example{
			{Description: "Last day of raw records for every entity", Command: "hostwatch export --from -24h -o day.hwx"},
			{Description: "Hourly history of two disks", Command: "hostwatch export --tier hour --entity disk/sda,disk/sdb -o disks.hwx"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("export", pflag.ContinueOnError)
			db.register(flags)
			flags.StringVarP(&output, "output", "o", "", "archive file (default stdout)")
			flags.StringVar(&from, "from", "", "start of the range (default: everything retained)")
			flags.StringVar(&to, "to", "now", "end of the range")
			flags.StringVar(&tier, "tier", "", "tier to export (default: the finest)")
			flags.StringSliceVar(&entities, "entity", nil, "only these entities (default: all)")
			flags.StringVar(&compression, "compression", "zstd", "frame compression: none, lz4 or zstd")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return process.Usagef("unexpected argument %q", args[0])
			}
			codec, err := export.ParseCompression(compression)
			if err != nil {
				return process.Usagef("%v", err)
			}
			now := app.now()
			opts := export.Options{
				Tier:        tier,
				Compression: codec,
				Now:         now,
			}
			if from != "" {
				if opts.From, err = parseTime(from, now); err != nil {
					return process.Usagef("--from: %v", err)
				}
			}
			if opts.To, err = parseTime(to, now); err != nil {
				return process.Usagef("--to: %v", err)
			}
			for _, text := range entities {
				key, err := sample.ParseKey(text)
				if err != nil {
					return process.Usagef("--entity: %v", err)
				}
				opts.Keys = append(opts.Keys, key)
			}
			if host, err := os.Hostname(); err == nil {
				opts.Host = host
			}
			if output == "" && app.interactive() {
				return process.Usagef("refusing to write an archive to a terminal; pass --output")
			}

			ctx := context.Background()
			store, err := db.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if output == "" {
				summary, err := export.Export(ctx, store, app.stdout, opts)
				if err != nil {
					return err
				}
				app.reportExport(summary, "stdout")
				return nil
			}
			return app.exportToFile(output, func(w io.Writer) (export.Summary, error) {
				return export.Export(ctx, store, w, opts)
			})
		},
	}
}

// exportToFile writes through a temporary file renamed into place, so a
// failed export never leaves a partial archive at path.
func (app *application) exportToFile(path string, write func(io.Writer) (export.Summary, error)) (err error) {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			temporary.Close()
			os.Remove(temporary.Name())
		}
	}()

	buffered := bufio.NewWriter(temporary)
	summary, err := write(buffered)
	if err != nil {
		return err
	}
	if err = buffered.Flush(); err != nil {
		return err
	}
	if err = temporary.Sync(); err != nil {
		return err
	}
	if err = temporary.Close(); err != nil {
		return err
	}
	if err = os.Rename(temporary.Name(), path); err != nil {
		return err
	}
	app.reportExport(summary, path)
	return nil
}

func (app *application) reportExport(summary export.Summary, destination string) {
	fmt.Fprintf(app.stderr, "exported %d records of %d entities (%d bytes) to %s\n",
		summary.Records, summary.Entities, summary.Bytes, destination)
}

func (app *application) inspectCommand() *cli.Command {
	var utc bool
	return &cli.Command{
		Name:    "inspect",
		Summary: "Verify and summarize an archive",
		Usage:   "hostwatch inspect FILE [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flags.BoolVar(&utc, "utc", false, "print times in UTC")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return process.Usagef("inspect takes exactly one archive file")
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			reader, err := export.NewReader(bufio.NewReader(file))
			if err != nil {
				return err
			}
			header := reader.Header()

			counts := make(map[string]int)
			var total int
			for record, err := range reader.Records() {
				if err != nil {
					if errors.Is(err, export.ErrCorrupt) || errors.Is(err, export.ErrTruncated) {
						return fmt.Errorf("%s: %w", args[0], err)
					}
					return err
				}
				counts[record.Key.String()]++
				total++
			}

			host := header.Host
			if host == "" {
				host = "-"
			}
			fmt.Fprintf(app.stdout, "host:     %s\n", host)
			fmt.Fprintf(app.stdout, "created:  %s\n", formatTime(header.Created, utc))
			fmt.Fprintf(app.stdout, "tier:     %s\n", header.Tier)
			fmt.Fprintf(app.stdout, "range:    %s .. %s\n", formatTime(header.From, utc), formatTime(header.To, utc))
			fmt.Fprintf(app.stdout, "records:  %d (verified)\n\n", total)

			writer := tabwriter.NewWriter(app.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "ENTITY\tTAG\tRECORDS")
			for _, entity := range header.Entities {
				tag := entity.Tag
				if tag == "" {
					tag = "-"
				}
				fmt.Fprintf(writer, "%s\t%s\t%d\n", entity.Key, tag, counts[entity.Key])
			}
			return writer.Flush()
		},
	}
}
