// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the stamp
// service and CLI.
//
// Configuration is loaded from a single file named by either the
// STAMP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic discovery.
//
// The file may carry development, staging, and production sections
// that override base values when [Config].Environment matches.
// Production deployments must name export recipients so that bundles
// never leave the host unencrypted.
//
// Path fields are expanded after loading: ${HOME}, ${STAMP_ROOT}, and
// ${VAR:-default} patterns.
package config
