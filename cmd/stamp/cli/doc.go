// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the stamp operator CLI: a
// tree of [Command] values dispatched by name, with per-command
// github.com/spf13/pflag flag sets, help output, typo suggestions for
// commands and flags, and --json output support.
package cli
