// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information injected with -ldflags:
//
//	go build -ldflags "-X github.com/hostwatch/hostwatch/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Unset variables read "unknown" (or "0.1.0-dev" for Version), which is
// what development builds and tests see.
package version
