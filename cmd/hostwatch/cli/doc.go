// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command tree behind the hostwatch binary:
// nested subcommands, lazily built pflag sets, generated help, and
// "did you mean" suggestions for mistyped commands and flags.
//
// Input mistakes are returned as process.UsageError so the binary exits
// with status 2.
package cli
