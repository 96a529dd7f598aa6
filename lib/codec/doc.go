// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is hostwatch's CBOR configuration.
//
// CBOR is used for the binary parts of hostwatch: the per-record rate
// maps stored in SQLite and the frames of an export stream. Encoding
// uses Core Deterministic Encoding (RFC 8949 §4.2), so the same rate map
// always produces the same bytes. That matters for export digests.
//
//	data, err := codec.Marshal(rates)
//	err = codec.Unmarshal(data, &rates)
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
