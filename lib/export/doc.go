// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package export writes and reads hostwatch archives: portable,
// self-verifying copies of a slice of history.
//
// An archive is a four-byte magic followed by frames. Every frame
// carries a kind, a compression tag, the raw and stored payload sizes,
// and a BLAKE3 keyed digest of the raw payload, so a reader detects
// corruption frame by frame. Payloads are deterministic CBOR (lib/codec).
//
// The first frame is the Header (source host, tier, range, entity
// metadata). Record frames follow, each holding a batch of rate
// records. A final end frame carries the record count; an archive
// without one is truncated.
package export
