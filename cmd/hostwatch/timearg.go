// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"
	"time"
)

// parseTime accepts "now", a signed duration relative to now ("-90m"),
// RFC 3339, or a local "2006-01-02 15:04:05" or "2006-01-02".
func parseTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "now" {
		return now, nil
	}
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
		offset, err := time.ParseDuration(text)
		if err != nil {
			return time.Time{}, fmt.Errorf("time %q: %w", text, err)
		}
		return now.Add(offset), nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return parsed, nil
	}
	for _, layout := range []string{time.DateTime, time.DateOnly} {
		if parsed, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q: want now, -DURATION, RFC 3339 or YYYY-MM-DD[ HH:MM:SS]", text)
}

// formatTime renders t for tables.
func formatTime(t time.Time, utc bool) string {
	if t.IsZero() {
		return "-"
	}
	if utc {
		return t.UTC().Format(time.RFC3339)
	}
	return t.Local().Format(time.DateTime)
}
