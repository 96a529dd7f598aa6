// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// Compression identifies how a frame payload is stored. Values are
// written into archives and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("export: unknown compression %q", name)
	}
}

var (
	// ErrBadMagic means the input is not a hostwatch archive.
	ErrBadMagic = errors.New("export: not a hostwatch archive")

	// ErrCorrupt means a frame failed validation.
	ErrCorrupt = errors.New("export: corrupt archive")

	// ErrTruncated means the input ended before the end frame.
	ErrTruncated = errors.New("export: truncated archive")
)

var magic = [4]byte{'H', 'W', 'X', '1'}

type frameKind uint8

const (
	frameHeader  frameKind = 1
	frameRecords frameKind = 2
	frameEnd     frameKind = 3
)

// maxFrameSize bounds both sizes in a frame header so a corrupt
// length cannot force a huge allocation.
const maxFrameSize = 64 << 20

// Digest is the BLAKE3 keyed hash of a frame's raw payload.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// frameDomainKey is the ASCII domain name zero-padded to 32 bytes.
var frameDomainKey = [32]byte{
	'h', 'o', 's', 't', 'w', 'a', 't', 'c', 'h', '.', 'e', 'x', 'p', 'o', 'r', 't',
	'.', 'f', 'r', 'a', 'm', 'e',
}

func digest(data []byte) Digest {
	hasher, err := blake3.NewKeyed(frameDomainKey[:])
	if err != nil {
		panic("export: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var result Digest
	copy(result[:], hasher.Sum(nil))
	return result
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("export: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("export: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the stored form of raw and the compression actually
// used. Payloads that do not shrink are stored uncompressed.
func compress(raw []byte, compression Compression) ([]byte, Compression, error) {
	switch compression {
	case CompressionNone:
		return raw, CompressionNone, nil
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(raw)))
		written, err := lz4.CompressBlock(raw, destination, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(raw) {
			return raw, CompressionNone, nil
		}
		return destination[:written], CompressionLZ4, nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) >= len(raw) {
			return raw, CompressionNone, nil
		}
		return compressed, CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("export: unsupported compression %d", compression)
	}
}

func decompress(stored []byte, compression Compression, rawSize int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, fmt.Errorf("%w: stored size %d, expected %d", ErrCorrupt, len(stored), rawSize)
		}
		return stored, nil
	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorrupt, read, rawSize)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, expected %d", ErrCorrupt, len(result), rawSize)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, compression)
	}
}

// writeFrame writes one frame:
//
//	kind(1) compression(1) uvarint(raw size) uvarint(stored size) digest(32) stored
func writeFrame(w io.Writer, kind frameKind, raw []byte, compression Compression) (int, error) {
	if len(raw) > maxFrameSize {
		return 0, fmt.Errorf("export: frame of %d bytes exceeds limit", len(raw))
	}
	stored, used, err := compress(raw, compression)
	if err != nil {
		return 0, err
	}
	sum := digest(raw)

	header := make([]byte, 0, 2+2*binary.MaxVarintLen64+len(sum))
	header = append(header, byte(kind), byte(used))
	header = binary.AppendUvarint(header, uint64(len(raw)))
	header = binary.AppendUvarint(header, uint64(len(stored)))
	header = append(header, sum[:]...)

	if _, err := w.Write(header); err != nil {
		return 0, err
	}
	if _, err := w.Write(stored); err != nil {
		return 0, err
	}
	return len(header) + len(stored), nil
}

// readFrame reads and verifies one frame. It returns io.EOF only when
// the input ends cleanly before a frame starts.
func readFrame(r *bufio.Reader) (frameKind, []byte, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: frame header: %v", ErrTruncated, err)
	}
	kind, compression := frameKind(prefix[0]), Compression(prefix[1])

	rawSize, err := readSize(r)
	if err != nil {
		return 0, nil, err
	}
	storedSize, err := readSize(r)
	if err != nil {
		return 0, nil, err
	}

	var sum Digest
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return 0, nil, fmt.Errorf("%w: frame digest: %v", ErrTruncated, err)
	}
	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(r, stored); err != nil {
		return 0, nil, fmt.Errorf("%w: frame payload: %v", ErrTruncated, err)
	}

	raw, err := decompress(stored, compression, rawSize)
	if err != nil {
		return 0, nil, err
	}
	if got := digest(raw); got != sum {
		return 0, nil, fmt.Errorf("%w: digest mismatch: stored %s, computed %s", ErrCorrupt, sum, got)
	}
	return kind, raw, nil
}

func readSize(r *bufio.Reader) (int, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("%w: frame size: %v", ErrTruncated, err)
		}
		return 0, fmt.Errorf("%w: frame size: %v", ErrCorrupt, err)
	}
	if size > maxFrameSize {
		return 0, fmt.Errorf("%w: frame size %d exceeds limit", ErrCorrupt, size)
	}
	return int(size), nil
}
