/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import "fmt"

// Version is the current version of wateringd.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/wateringd/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision the binary was built from.
var Commit = "unknown"

// String formats version and commit for logs and the CLI.
func String() string {
	return fmt.Sprintf("wateringd %s (%s)", Version, Commit)
}
