// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the Unix socket transport of the stamp
// service.
//
// The protocol is one CBOR request and one CBOR response per
// connection. A request is a CBOR map carrying an "action" field plus
// action-specific fields; a response is a [Response] envelope with
// ok, error, and data. CBOR is self-delimiting, so no framing is
// needed.
//
// [SocketServer] dispatches requests to registered [ActionFunc]
// handlers. [ServiceClient] is the matching client used by the stamp
// CLI and by tests.
//
// The socket carries no caller authentication. Access is controlled
// by the socket file's permissions: only principals that can open
// the socket can issue or verify.
package service
