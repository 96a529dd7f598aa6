// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the raw stderr reporting used by main functions
// before a structured logger exists or after run has returned.
package process
