// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Hostwatch reads the history recorded by hostwatchd.
//
//	hostwatch entities            list recorded entities and their tags
//	hostwatch query ENTITY        print rate records over a time range
//	hostwatch tiers               show the resolution ladder
//	hostwatch live                watch the latest rates in the terminal
//	hostwatch export              write a compressed archive
//	hostwatch inspect FILE        verify and summarize an archive
//
// The database comes from --database, or from the configuration file
// named by --config or HOSTWATCH_CONFIG. Reading is safe while the
// daemon is recording.
package main
