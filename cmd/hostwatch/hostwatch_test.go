// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/process"
	"github.com/hostwatch/hostwatch/lib/sample"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	cpu0 = sample.Key{Class: "cpu", ID: "cpu0"}
	sda  = sample.Key{Class: "disk", ID: "sda"}
)

// fixtureDatabase records 120 seconds of cpu0 and sda, compacts once
// (moving the first minute into the minute tier), and returns the
// database path.
func fixtureDatabase(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	backend, err := history.OpenSQLite(history.SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	store, err := history.NewStore(ctx, history.Config{
		Backend: backend,
		Tiers: []history.Tier{
			{Name: "raw", Interval: time.Second, Span: time.Minute},
			{Name: "minute", Interval: time.Minute, Span: time.Hour, Overrides: map[string]history.Aggregation{"in_flight": history.Max}},
		},
		Clock: clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	for _, entity := range []history.EntityInfo{
		{Key: cpu0, Tag: "cpu", FirstSeen: epoch},
		{Key: sda, Tag: "disk", FirstSeen: epoch},
	} {
		if err := store.Register(ctx, entity); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	appendRecords := func(key sample.Key, count int, rates func(int) map[string]float64) {
		for i := range count {
			err := store.Append(ctx, sample.RateRecord{
				Key:     key,
				Start:   epoch.Add(time.Duration(i) * time.Second),
				End:     epoch.Add(time.Duration(i+1) * time.Second),
				Rates:   rates(i),
				Samples: 1,
			})
			if err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
	}
	appendRecords(cpu0, 120, func(i int) map[string]float64 {
		return map[string]float64{"user": float64(i), "system": 1}
	})
	appendRecords(sda, 120, func(int) map[string]float64 {
		return map[string]float64{"reads": 10, "in_flight": 2}
	})
	if _, err := store.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	return path
}

type testApp struct {
	*application
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp() testApp {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	return testApp{
		application: &application{
			stdout:      stdout,
			stderr:      stderr,
			now:         func() time.Time { return epoch.Add(2 * time.Minute) },
			interactive: func() bool { return false },
		},
		stdout: stdout,
		stderr: stderr,
	}
}

func (app testApp) run(t *testing.T, args ...string) string {
	t.Helper()
	app.stdout.Reset()
	if err := app.root().Execute(args); err != nil {
		t.Fatalf("hostwatch %s: %v", strings.Join(args, " "), err)
	}
	return app.stdout.String()
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestEntitiesCommand(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()

	output := app.run(t, "entities", "-d", database, "--utc")
	lines := nonEmptyLines(output)
	if len(lines) != 3 {
		t.Fatalf("entities output:\n%s", output)
	}
	if !strings.HasPrefix(lines[1], "cpu/cpu0") || !strings.Contains(lines[1], "2026-03-01T12:00:00Z") {
		t.Errorf("cpu line = %q", lines[1])
	}

	output = app.run(t, "entities", "-d", database, "--class", "disk")
	if lines := nonEmptyLines(output); len(lines) != 2 || !strings.HasPrefix(lines[1], "disk/sda") {
		t.Errorf("filtered entities output:\n%s", output)
	}
}

func TestQueryCommand(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()

	// Raw records of the second minute survive compaction.
	output := app.run(t, "query", "cpu/cpu0", "-d", database, "--utc",
		"--from", "2026-03-01T12:01:00Z", "--to", "2026-03-01T12:01:59Z")
	lines := nonEmptyLines(output)
	if len(lines) != 61 {
		t.Fatalf("query printed %d lines, want header + 60:\n%s", len(lines), output)
	}
	for _, column := range []string{"START", "SAMPLES", "SYSTEM", "USER"} {
		if !strings.Contains(lines[0], column) {
			t.Errorf("header %q lacks %s", lines[0], column)
		}
	}
	if fields := strings.Fields(lines[1]); fields[0] != "2026-03-01T12:01:00Z" || fields[len(fields)-1] != "60.00" {
		t.Errorf("first row = %q", lines[1])
	}

	// The first minute only exists in the minute tier.
	output = app.run(t, "query", "cpu/cpu0", "-d", database, "--utc", "--tier", "minute",
		"--from", "2026-03-01T12:00:00Z", "--counter", "user")
	lines = nonEmptyLines(output)
	if len(lines) != 2 {
		t.Fatalf("minute query output:\n%s", output)
	}
	if fields := strings.Fields(lines[1]); fields[2] != "60" || fields[3] != "29.50" {
		t.Errorf("minute row = %q, want 60 samples with mean 29.50", lines[1])
	}

	output = app.run(t, "query", "cpu/cpu0", "-d", database, "--from", "2026-03-01T12:01:00Z", "-n", "10")
	if lines := nonEmptyLines(output); len(lines) != 11 {
		t.Errorf("max-points query printed %d lines, want 11", len(lines))
	}
}

func TestQueryUsageErrors(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()

	for _, args := range [][]string{
		{"query", "-d", database},
		{"query", "cpu0", "-d", database},
		{"query", "cpu/cpu0", "-d", database, "--from", "yesterday"},
	} {
		err := app.root().Execute(args)
		if process.ExitCode(err) != 2 {
			t.Errorf("hostwatch %v error = %v, want a usage error", args, err)
		}
	}

	err := app.root().Execute([]string{"query", "cpu/cpu0", "-d", filepath.Join(t.TempDir(), "missing.db")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing database error = %v, want ErrNotExist", err)
	}
}

func TestTiersCommand(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()

	output := app.run(t, "tiers", "-d", database)
	lines := nonEmptyLines(output)
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "raw") || !strings.Contains(lines[2], "in_flight=max") {
		t.Fatalf("tiers output:\n%s", output)
	}

	output = app.run(t, "tiers", "-d", database, "--entity", "cpu/cpu0", "--utc")
	lines = nonEmptyLines(output)
	if !strings.Contains(lines[0], "WATERMARK") || !strings.Contains(lines[1], "2026-03-01T12:01:00Z") {
		t.Errorf("tiers with watermarks:\n%s", output)
	}
}

func TestExportAndInspect(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()
	archive := filepath.Join(t.TempDir(), "out.hwx")

	app.run(t, "export", "-d", database, "-o", archive, "--compression", "lz4")
	if !strings.Contains(app.stderr.String(), "exported 120 records of 2 entities") {
		t.Errorf("export report = %q", app.stderr.String())
	}

	output := app.run(t, "inspect", archive, "--utc")
	if !strings.Contains(output, "records:  120 (verified)") || !strings.Contains(output, "tier:     raw") {
		t.Errorf("inspect output:\n%s", output)
	}
	if !strings.Contains(output, "disk/sda") {
		t.Errorf("inspect output lacks disk/sda:\n%s", output)
	}

	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	truncated := filepath.Join(t.TempDir(), "truncated.hwx")
	if err := os.WriteFile(truncated, data[:len(data)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	if err := app.root().Execute([]string{"inspect", truncated}); err == nil {
		t.Error("inspect accepted a truncated archive")
	}
}

func TestExportRefusesTerminal(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()
	app.interactive = func() bool { return true }

	err := app.root().Execute([]string{"export", "-d", database})
	if process.ExitCode(err) != 2 {
		t.Errorf("export to terminal error = %v, want a usage error", err)
	}
}

func TestLiveOnce(t *testing.T) {
	database := fixtureDatabase(t)
	app := newTestApp()

	output := app.run(t, "live", "-d", database, "--once")
	lines := nonEmptyLines(output)
	if len(lines) != 3 {
		t.Fatalf("live output:\n%s", output)
	}
	if !strings.Contains(lines[1], "user 119.00") || !strings.Contains(lines[1], " 0s ") {
		t.Errorf("cpu0 line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "disk/sda") || !strings.Contains(lines[2], "reads 10.00") {
		t.Errorf("sda line = %q", lines[2])
	}
}

func TestLiveModel(t *testing.T) {
	fetched := []liveRow{{
		Key: cpu0,
		Tag: "cpu",
		Record: sample.RateRecord{
			Key:   cpu0,
			Start: epoch,
			End:   epoch.Add(time.Second),
			Rates: map[string]float64{"user": 12.5},
		},
	}}
	fetch := func(context.Context) ([]liveRow, error) { return fetched, nil }
	now := func() time.Time { return epoch.Add(3 * time.Second) }

	model := newLiveModel(context.Background(), fetch, time.Second, now)
	if !strings.Contains(model.View(), "loading") {
		t.Errorf("initial view lacks loading status:\n%s", model.View())
	}

	message := model.Init()()
	updated, cmd := model.Update(message)
	if cmd == nil {
		t.Error("refresh did not schedule the next poll")
	}
	view := updated.View()
	for _, want := range []string{"cpu/cpu0", "user 12.50", "1 entities"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}

	failed, _ := updated.Update(refreshMsg{err: errors.New("database is locked"), at: now()})
	if !strings.Contains(failed.View(), "refresh failed: database is locked") {
		t.Errorf("view lacks error:\n%s", failed.View())
	}
	if !strings.Contains(failed.View(), "cpu/cpu0") {
		t.Error("failed refresh discarded the previous rows")
	}

	narrow, _ := failed.Update(tea.WindowSizeMsg{Width: 24, Height: 10})
	lines := strings.Split(narrow.View(), "\n")
	if status := lines[len(lines)-1]; ansi.StringWidth(status) > 24 {
		t.Errorf("status line %q is wider than the terminal", ansi.Strip(status))
	}

	_, cmd = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		text    string
		want    time.Time
		wantErr bool
	}{
		{"now", now, false},
		{"", now, false},
		{"-90m", now.Add(-90 * time.Minute), false},
		{"+1h", now.Add(time.Hour), false},
		{"2026-02-28T23:00:00Z", time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC), false},
		{"2026-02-28 06:30:00", time.Date(2026, 2, 28, 6, 30, 0, 0, time.UTC), false},
		{"2026-02-28", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), false},
		{"-ten minutes", time.Time{}, true},
		{"yesterday", time.Time{}, true},
	}
	for _, test := range tests {
		got, err := parseTime(test.text, now)
		if (err != nil) != test.wantErr {
			t.Errorf("parseTime(%q) error = %v", test.text, err)
			continue
		}
		if !got.Equal(test.want) {
			t.Errorf("parseTime(%q) = %v, want %v", test.text, got, test.want)
		}
	}
}
