// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the hostwatch configuration file.
//
// The file is named by the --config flag or, failing that, the
// HOSTWATCH_CONFIG environment variable. There is no search path. When
// neither is set the built-in defaults apply unchanged.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas (github.com/tidwall/jsonc); anything else is YAML.
// Durations are Go duration strings ("1s", "90m").
//
// ${HOME} and ${VAR:-default} patterns are expanded in path fields
// (database, proc_root, sys_root). Environment variables never override
// other values.
package config
