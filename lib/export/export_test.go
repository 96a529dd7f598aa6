// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package export_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hostwatch/hostwatch/lib/clock"
	"github.com/hostwatch/hostwatch/lib/export"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	cpu0 = sample.Key{Class: "cpu", ID: "cpu0"}
	sda  = sample.Key{Class: "disk", ID: "sda"}
)

func newStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.NewStore(context.Background(), history.Config{
		Backend: history.NewMemoryBackend(),
		Tiers: []history.Tier{
			{Name: "raw", Interval: time.Second, Span: time.Hour},
			{Name: "minute", Interval: time.Minute, Span: 24 * time.Hour},
		},
		Clock: clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func fill(t *testing.T, store *history.Store, key sample.Key, count int) {
	t.Helper()
	ctx := context.Background()
	if err := store.Register(ctx, history.EntityInfo{Key: key, Tag: key.Class, FirstSeen: epoch}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := range count {
		record := sample.RateRecord{
			Key:     key,
			Start:   epoch.Add(time.Duration(i) * time.Second),
			End:     epoch.Add(time.Duration(i+1) * time.Second),
			Rates:   map[string]float64{"busy": float64(i % 7), "idle": 100 - float64(i%7)},
			Samples: 1,
		}
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func readAll(t *testing.T, data []byte) (export.Header, []sample.RateRecord) {
	t.Helper()
	reader, err := export.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	records, err := history.Collect(reader.Records())
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	return reader.Header(), records
}

func TestExportRoundTrip(t *testing.T) {
	store := newStore(t)
	fill(t, store, cpu0, 300)
	fill(t, store, sda, 50)

	for _, compression := range []export.Compression{export.CompressionNone, export.CompressionLZ4, export.CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var buffer bytes.Buffer
			summary, err := export.Export(context.Background(), store, &buffer, export.Options{
				Host:        "node1",
				Compression: compression,
				BatchSize:   64,
				Now:         epoch.Add(time.Hour),
			})
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if summary.Entities != 2 || summary.Records != 350 {
				t.Errorf("summary = %+v, want 2 entities and 350 records", summary)
			}
			if summary.Bytes != int64(buffer.Len()) {
				t.Errorf("summary bytes = %d, buffer holds %d", summary.Bytes, buffer.Len())
			}

			header, records := readAll(t, buffer.Bytes())
			if header.Host != "node1" || header.Tier != "raw" || header.Version != export.FormatVersion {
				t.Errorf("header = %+v", header)
			}
			if !header.Created.Equal(epoch.Add(time.Hour)) {
				t.Errorf("created = %v", header.Created)
			}
			if len(header.Entities) != 2 || header.Entities[0].Key != "cpu/cpu0" {
				t.Fatalf("entities = %+v", header.Entities)
			}
			info, err := header.Entities[1].Info()
			if err != nil || info.Key != sda || info.Tag != "disk" || !info.FirstSeen.Equal(epoch) {
				t.Errorf("entity[1] = %+v, %v", info, err)
			}

			if len(records) != 350 {
				t.Fatalf("read %d records, want 350", len(records))
			}
			// cpu sorts before disk.
			first, last := records[0], records[349]
			if first.Key != cpu0 || !first.Start.Equal(epoch) || first.Rates["idle"] != 100 {
				t.Errorf("first record = %+v", first)
			}
			if last.Key != sda || !last.Start.Equal(epoch.Add(49*time.Second)) || last.Rates["busy"] != 0 {
				t.Errorf("last record = %+v", last)
			}
		})
	}
}

func TestExportFilters(t *testing.T) {
	store := newStore(t)
	fill(t, store, cpu0, 100)
	fill(t, store, sda, 100)

	var buffer bytes.Buffer
	summary, err := export.Export(context.Background(), store, &buffer, export.Options{
		Keys: []sample.Key{sda},
		From: epoch.Add(10 * time.Second),
		To:   epoch.Add(19 * time.Second),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if summary.Entities != 1 || summary.Records != 10 {
		t.Errorf("summary = %+v, want 1 entity and 10 records", summary)
	}

	_, err = export.Export(context.Background(), store, &bytes.Buffer{}, export.Options{
		Keys: []sample.Key{{Class: "nic", ID: "eth9"}},
	})
	if err == nil {
		t.Error("Export of unknown entity succeeded")
	}
	_, err = export.Export(context.Background(), store, &bytes.Buffer{}, export.Options{Tier: "week"})
	if err == nil {
		t.Error("Export of unknown tier succeeded")
	}
}

func TestExportEmptyStore(t *testing.T) {
	store := newStore(t)
	var buffer bytes.Buffer
	summary, err := export.Export(context.Background(), store, &buffer, export.Options{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if summary.Records != 0 {
		t.Errorf("records = %d, want 0", summary.Records)
	}
	if _, records := readAll(t, buffer.Bytes()); len(records) != 0 {
		t.Errorf("read %d records from empty archive", len(records))
	}
}

func TestReaderDetectsDamage(t *testing.T) {
	store := newStore(t)
	fill(t, store, cpu0, 200)

	var buffer bytes.Buffer
	if _, err := export.Export(context.Background(), store, &buffer, export.Options{
		Compression: export.CompressionNone,
		BatchSize:   50,
	}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	archive := buffer.Bytes()

	readErr := func(data []byte) error {
		reader, err := export.NewReader(bytes.NewReader(data))
		if err != nil {
			return err
		}
		_, err = history.Collect(reader.Records())
		return err
	}

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"bad magic", func(data []byte) []byte { data[0] = 'X'; return data }, export.ErrBadMagic},
		// The end frame is under 100 bytes, so this lands in the last
		// record frame's payload.
		{"flipped payload byte", func(data []byte) []byte { data[len(data)-100] ^= 0xff; return data }, export.ErrCorrupt},
		{"missing end frame", func(data []byte) []byte { return data[:len(data)-40] }, export.ErrTruncated},
		{"empty", func([]byte) []byte { return nil }, export.ErrBadMagic},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			damaged := test.mutate(bytes.Clone(archive))
			if err := readErr(damaged); !errors.Is(err, test.want) {
				t.Errorf("error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name    string
		want    export.Compression
		wantErr bool
	}{
		{"none", export.CompressionNone, false},
		{"lz4", export.CompressionLZ4, false},
		{"zstd", export.CompressionZstd, false},
		{"", export.CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, test := range tests {
		got, err := export.ParseCompression(test.name)
		if (err != nil) != test.wantErr || got != test.want {
			t.Errorf("ParseCompression(%q) = %v, %v", test.name, got, err)
		}
	}
}
