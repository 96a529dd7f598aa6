// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// commit returns the ldflags commit, falling back to the VCS stamp the
// go command embeds when building from a checkout.
func commit() (revision string, dirty bool) {
	revision, dirty = GitCommit, GitDirty == "true"
	if revision != "unknown" {
		return revision, dirty
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return revision, dirty
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return revision, dirty
}

// Info returns "version (commit[-dirty], build time)".
func Info() string {
	revision, dirty := commit()
	if dirty {
		revision += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, revision, BuildTime)
}

// Short returns just the version number.
func Short() string { return Version }

// Print writes the --version output for the named binary: the Info
// line followed by toolchain and platform.
func Print(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Info())
	fmt.Fprintf(w, "  Go: %s\n  Platform: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
