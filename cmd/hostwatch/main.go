// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/version"
)

func main() {
	app := &application{
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
		interactive: func() bool {
			return term.IsTerminal(int(os.Stdout.Fd()))
		},
	}
	if err := app.root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// application carries the process surroundings so commands can run
// against buffers in tests.
type application struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// interactive reports whether stdout is a terminal.
	interactive func() bool
}

func (app *application) root() *cli.Command {
	return &cli.Command{
		Name:        "hostwatch",
		Summary:     "Inspect recorded host activity",
		Description: "Inspect CPU, disk and network rate history recorded by hostwatchd.",
		HelpOutput:  app.stderr,
		Subcommands: []*cli.Command{
			app.entitiesCommand(),
			app.queryCommand(),
			app.tiersCommand(),
			app.liveCommand(),
			app.exportCommand(),
			app.inspectCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					version.Print(app.stdout, "hostwatch")
					return nil
				},
			},
		},
	}
}
