// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"

	"github.com/hostwatch/hostwatch/cmd/hostwatch/cli"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/sample"
)

func (app *application) liveCommand() *cli.Command {
	var (
		db       databaseFlags
		class    string
		interval time.Duration
		once     bool
	)
	return &cli.Command{
		Name:    "live",
		Summary: "Watch the latest rates",
		Description: `Show the most recent record of every entity, refreshed while the daemon
records. Keys: arrows or j/k move, r refreshes, q quits.

When stdout is not a terminal, or with --once, one table is printed and
the command exits.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("live", pflag.ContinueOnError)
			db.register(flags)
			flags.StringVar(&class, "class", "", "only this class (cpu, disk, nic, sched)")
			flags.DurationVar(&interval, "interval", time.Second, "refresh period")
			flags.BoolVar(&once, "once", false, "print one table and exit")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return process.Usagef("unexpected argument %q", args[0])
			}
			if interval <= 0 {
				return process.Usagef("--interval must be positive")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			store, err := db.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			fetch := func(ctx context.Context) ([]liveRow, error) {
				return latestRows(ctx, store, class)
			}
			if once || !app.interactive() {
				rows, err := fetch(ctx)
				if err != nil {
					return err
				}
				return app.printLatest(rows)
			}

			model := newLiveModel(ctx, fetch, interval, app.now)
			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// liveRow is one entity's latest record with its tag.
type liveRow struct {
	Key    sample.Key
	Tag    string
	Record sample.RateRecord
}

// latestRows joins LatestAll with entity tags, keeping only class when
// set.
func latestRows(ctx context.Context, store *history.Store, class string) ([]liveRow, error) {
	entities, err := store.Entities(ctx)
	if err != nil {
		return nil, err
	}
	tags := make(map[sample.Key]string, len(entities))
	for _, entity := range entities {
		tags[entity.Key] = entity.Tag
	}

	records, err := store.LatestAll(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]liveRow, 0, len(records))
	for _, record := range records {
		if class != "" && record.Key.Class != class {
			continue
		}
		rows = append(rows, liveRow{Key: record.Key, Tag: tags[record.Key], Record: record})
	}
	return rows, nil
}

// summarizeRates renders "name value" pairs in name order.
func summarizeRates(rates map[string]float64) string {
	var builder strings.Builder
	for i, name := range (sample.RateRecord{Rates: rates}).Names() {
		if i > 0 {
			builder.WriteString("  ")
		}
		fmt.Fprintf(&builder, "%s %s", name, formatRate(rates[name]))
	}
	return builder.String()
}

func (app *application) printLatest(rows []liveRow) error {
	now := app.now()
	writer := tabwriter.NewWriter(app.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "ENTITY\tTAG\tAGE\tRATES")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", row.Key, orDash(row.Tag), age(now, row.Record.End), summarizeRates(row.Record.Rates))
	}
	return writer.Flush()
}

func orDash(text string) string {
	if text == "" {
		return "-"
	}
	return text
}

// age is the time since end, rounded to seconds.
func age(now, end time.Time) string {
	if end.After(now) {
		return "0s"
	}
	return now.Sub(end).Round(time.Second).String()
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// refreshMsg carries the result of one fetch.
type refreshMsg struct {
	rows []liveRow
	err  error
	at   time.Time
}

// pollMsg asks for the next fetch.
type pollMsg time.Time

// liveModel is the bubbletea model of the live view.
type liveModel struct {
	ctx      context.Context
	fetch    func(context.Context) ([]liveRow, error)
	interval time.Duration
	now      func() time.Time

	table   table.Model
	rows    []liveRow
	err     error
	updated time.Time
	width   int
}

func newLiveModel(ctx context.Context, fetch func(context.Context) ([]liveRow, error), interval time.Duration, now func() time.Time) liveModel {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	grid := table.New(
		table.WithColumns(liveColumns(100)),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	grid.SetStyles(styles)

	return liveModel{
		ctx:      ctx,
		fetch:    fetch,
		interval: interval,
		now:      now,
		table:    grid,
		width:    100,
	}
}

// liveColumns sizes the columns for a terminal width; the rates column
// takes what is left.
func liveColumns(width int) []table.Column {
	const entity, tag, ageWidth = 18, 14, 6
	rates := max(width-entity-tag-ageWidth-8, 20)
	return []table.Column{
		{Title: "ENTITY", Width: entity},
		{Title: "TAG", Width: tag},
		{Title: "AGE", Width: ageWidth},
		{Title: "RATES", Width: rates},
	}
}

func (m liveModel) refresh() tea.Cmd {
	return func() tea.Msg {
		rows, err := m.fetch(m.ctx)
		return refreshMsg{rows: rows, err: err, at: m.now()}
	}
}

func (m liveModel) Init() tea.Cmd {
	return m.refresh()
}

func (m liveModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch message.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = message.Width
		m.table.SetColumns(liveColumns(message.Width))
		m.table.SetHeight(max(message.Height-4, 3))
		m.table.SetRows(m.tableRows())
		return m, nil

	case refreshMsg:
		m.err = message.err
		if message.err == nil {
			m.rows = message.rows
			m.updated = message.at
			m.table.SetRows(m.tableRows())
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return pollMsg(t) })

	case pollMsg:
		return m, m.refresh()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(message)
	return m, cmd
}

func (m liveModel) tableRows() []table.Row {
	rows := make([]table.Row, len(m.rows))
	for i, row := range m.rows {
		rows[i] = table.Row{
			row.Key.String(),
			orDash(row.Tag),
			age(m.updated, row.Record.End),
			summarizeRates(row.Record.Rates),
		}
	}
	return rows
}

func (m liveModel) View() string {
	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render("refresh failed: " + m.err.Error())
	case m.updated.IsZero():
		status = statusStyle.Render("loading...")
	default:
		status = statusStyle.Render("updated " + m.updated.Format(time.TimeOnly) + "  q quit  r refresh")
	}

	var builder strings.Builder
	builder.WriteString(m.fit(titleStyle.Render(fmt.Sprintf("hostwatch live  %d entities", len(m.rows)))))
	builder.WriteString("\n")
	builder.WriteString(m.table.View())
	builder.WriteString("\n")
	builder.WriteString(m.fit(status))
	return builder.String()
}

// fit truncates a styled line to the terminal width.
func (m liveModel) fit(line string) string {
	if m.width <= 0 || ansi.StringWidth(line) <= m.width {
		return line
	}
	return ansi.Truncate(line, m.width, "…")
}
