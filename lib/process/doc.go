// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for the stamp binaries:
// raw stderr reporting for errors that occur before or after the
// structured logger exists.
package process
