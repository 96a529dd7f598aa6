// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/hostwatch/hostwatch/lib/codec"
	"github.com/hostwatch/hostwatch/lib/history"
	"github.com/hostwatch/hostwatch/lib/sample"
)

// FormatVersion is written into every Header.
const FormatVersion = 1

// DefaultBatchSize is the number of records per record frame.
const DefaultBatchSize = 1024

// Header describes an archive's contents.
type Header struct {
	Version  int       `cbor:"version"`
	Host     string    `cbor:"host,omitempty"`
	Created  time.Time `cbor:"created"`
	Tier     string    `cbor:"tier"`
	From     time.Time `cbor:"from"`
	To       time.Time `cbor:"to"`
	Entities []Entity  `cbor:"entities"`
}

// Entity is the archived form of history.EntityInfo.
type Entity struct {
	Key       string    `cbor:"key"`
	Tag       string    `cbor:"tag,omitempty"`
	FirstSeen time.Time `cbor:"first_seen"`
}

func entityFromInfo(info history.EntityInfo) Entity {
	return Entity{Key: info.Key.String(), Tag: info.Tag, FirstSeen: info.FirstSeen}
}

// Info converts back to history.EntityInfo.
func (e Entity) Info() (history.EntityInfo, error) {
	key, err := sample.ParseKey(e.Key)
	if err != nil {
		return history.EntityInfo{}, err
	}
	return history.EntityInfo{Key: key, Tag: e.Tag, FirstSeen: e.FirstSeen}, nil
}

// wireRecord keeps times as Unix nanoseconds; records are numerous and
// RFC 3339 text would dominate their size.
type wireRecord struct {
	Entity  string             `cbor:"e"`
	Start   int64              `cbor:"s"`
	End     int64              `cbor:"t"`
	Samples int                `cbor:"n"`
	Rates   map[string]float64 `cbor:"r"`
}

type endFrame struct {
	Records uint64 `cbor:"records"`
	Frames  uint64 `cbor:"frames"`
}

// WriterOptions configure NewWriter.
type WriterOptions struct {
	Compression Compression
	// BatchSize is the number of records per frame. Zero means
	// DefaultBatchSize.
	BatchSize int
}

// Writer streams an archive. Close must be called to write the end
// frame; it does not close the underlying writer.
type Writer struct {
	w           io.Writer
	compression Compression
	batchSize   int
	batch       []wireRecord

	records uint64
	frames  uint64
	bytes   int64
	closed  bool
}

// NewWriter writes the magic and header frame to w.
func NewWriter(w io.Writer, header Header, opts WriterOptions) (*Writer, error) {
	writer := &Writer{
		w:           w,
		compression: opts.Compression,
		batchSize:   opts.BatchSize,
	}
	if writer.batchSize <= 0 {
		writer.batchSize = DefaultBatchSize
	}
	header.Version = FormatVersion

	if _, err := w.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("export: writing magic: %w", err)
	}
	writer.bytes = int64(len(magic))
	if err := writer.writeValue(frameHeader, header); err != nil {
		return nil, fmt.Errorf("export: writing header: %w", err)
	}
	return writer, nil
}

// Write adds one record. Records are buffered into frames of
// BatchSize.
func (w *Writer) Write(record sample.RateRecord) error {
	if w.closed {
		return errors.New("export: write after close")
	}
	w.batch = append(w.batch, wireRecord{
		Entity:  record.Key.String(),
		Start:   record.Start.UnixNano(),
		End:     record.End.UnixNano(),
		Samples: record.Samples,
		Rates:   record.Rates,
	})
	w.records++
	if len(w.batch) >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if len(w.batch) == 0 {
		return nil
	}
	if err := w.writeValue(frameRecords, w.batch); err != nil {
		return fmt.Errorf("export: writing records: %w", err)
	}
	w.batch = w.batch[:0]
	return nil
}

// Close flushes buffered records and writes the end frame.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.closed = true
	if err := w.writeValue(frameEnd, endFrame{Records: w.records, Frames: w.frames}); err != nil {
		return fmt.Errorf("export: writing end frame: %w", err)
	}
	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() uint64 { return w.records }

// Bytes returns the number of archive bytes written so far.
func (w *Writer) Bytes() int64 { return w.bytes }

func (w *Writer) writeValue(kind frameKind, value any) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	written, err := writeFrame(w.w, kind, raw, w.compression)
	w.bytes += int64(written)
	if err != nil {
		return err
	}
	if kind == frameRecords {
		w.frames++
	}
	return nil
}

// Reader reads an archive written by Writer.
type Reader struct {
	r      *bufio.Reader
	header Header
}

// NewReader checks the magic and reads the header frame.
func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)
	var prefix [4]byte
	if _, err := io.ReadFull(buffered, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(prefix[:], magic[:]) {
		return nil, ErrBadMagic
	}

	kind, raw, err := readFrame(buffered)
	if err == io.EOF {
		return nil, fmt.Errorf("%w: missing header", ErrTruncated)
	}
	if err != nil {
		return nil, err
	}
	if kind != frameHeader {
		return nil, fmt.Errorf("%w: first frame has kind %d", ErrCorrupt, kind)
	}
	reader := &Reader{r: buffered}
	if err := codec.Unmarshal(raw, &reader.header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if reader.header.Version != FormatVersion {
		return nil, fmt.Errorf("export: unsupported archive version %d", reader.header.Version)
	}
	return reader, nil
}

// Header returns the archive header.
func (r *Reader) Header() Header { return r.header }

// Records yields every record in archive order and verifies the end
// frame's counts. It stops at the first error, which it yields with a
// zero record. Records can be iterated once.
func (r *Reader) Records() iter.Seq2[sample.RateRecord, error] {
	return func(yield func(sample.RateRecord, error) bool) {
		var records, frames uint64
		for {
			kind, raw, err := readFrame(r.r)
			if err == io.EOF {
				yield(sample.RateRecord{}, fmt.Errorf("%w: no end frame after %d records", ErrTruncated, records))
				return
			}
			if err != nil {
				yield(sample.RateRecord{}, err)
				return
			}

			switch kind {
			case frameRecords:
				var batch []wireRecord
				if err := codec.Unmarshal(raw, &batch); err != nil {
					yield(sample.RateRecord{}, fmt.Errorf("%w: record frame %d: %v", ErrCorrupt, frames, err))
					return
				}
				frames++
				for _, wire := range batch {
					record, err := wire.record()
					if err != nil {
						yield(sample.RateRecord{}, err)
						return
					}
					records++
					if !yield(record, nil) {
						return
					}
				}
			case frameEnd:
				var end endFrame
				if err := codec.Unmarshal(raw, &end); err != nil {
					yield(sample.RateRecord{}, fmt.Errorf("%w: end frame: %v", ErrCorrupt, err))
					return
				}
				if end.Records != records || end.Frames != frames {
					yield(sample.RateRecord{}, fmt.Errorf("%w: end frame counts %d records in %d frames, read %d in %d",
						ErrCorrupt, end.Records, end.Frames, records, frames))
				}
				return
			default:
				yield(sample.RateRecord{}, fmt.Errorf("%w: unexpected frame kind %d", ErrCorrupt, kind))
				return
			}
		}
	}
}

func (w wireRecord) record() (sample.RateRecord, error) {
	key, err := sample.ParseKey(w.Entity)
	if err != nil {
		return sample.RateRecord{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return sample.RateRecord{
		Key:     key,
		Start:   time.Unix(0, w.Start).UTC(),
		End:     time.Unix(0, w.End).UTC(),
		Rates:   w.Rates,
		Samples: w.Samples,
	}, nil
}
