// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

func TestMarshalRateMapDeterministic(t *testing.T) {
	// Go randomizes map iteration; the encoding must not depend on it.
	rates := map[string]float64{
		"writes":  12.5,
		"reads":   3,
		"io_time": 0.25,
		"sectors": 4096,
	}

	first, err := Marshal(rates)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(rates)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs from first encoding", i)
		}
	}

	var decoded map[string]float64
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != len(rates) || decoded["sectors"] != 4096 {
		t.Errorf("decoded = %v, want %v", decoded, rates)
	}
}

func TestDecodeIntoAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]float64{"rx_bytes": 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
}

func TestStreamPreservesTimePrecision(t *testing.T) {
	type frame struct {
		Start time.Time `cbor:"start"`
		Value float64   `cbor:"value"`
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(frame{Start: start.Add(time.Duration(i) * time.Second), Value: float64(i)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var got frame
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if want := start.Add(time.Duration(i) * time.Second); !got.Start.Equal(want) {
			t.Errorf("frame %d start = %v, want %v", i, got.Start, want)
		}
	}
}
