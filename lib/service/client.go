// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/stamp/lib/codec"
)

// dialTimeout is the maximum time to wait for a connection to the
// service socket. It covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseReadTimeout is how long the client waits for the server to
// send a response after writing the request. Matched to the server's
// readTimeout + writeTimeout to account for handler execution time.
const responseReadTimeout = 45 * time.Second

// maxResponseSize is the maximum size of a single CBOR response.
const maxResponseSize = 64 << 20

// ServiceError is returned by Call when the server responds with
// ok=false.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error on %q: %s", e.Action, e.Message)
}

// ServiceClient sends CBOR requests to the stamp service socket. Each
// Call opens a new connection, sends the request, reads the response,
// and closes the connection.
type ServiceClient struct {
	socketPath string
}

// NewServiceClient creates a client for the socket at socketPath.
func NewServiceClient(socketPath string) *ServiceClient {
	return &ServiceClient{socketPath: socketPath}
}

// SocketPath returns the socket the client dials.
func (c *ServiceClient) SocketPath() string {
	return c.socketPath
}

// Call sends a CBOR request to the service and decodes the response.
//
// The request parameter is the action's body: a struct or map whose
// fields become the request's top-level fields. The client adds
// "action" itself. Pass nil for actions that take no parameters.
//
// On success, if result is non-nil and the response contains data,
// the data is CBOR-decoded into result. On failure, returns a
// *ServiceError carrying the server's message. Connection and
// encoding errors are returned as plain errors.
func (c *ServiceClient) Call(ctx context.Context, action string, request any, result any) error {
	message, err := buildRequest(action, request)
	if err != nil {
		return fmt.Errorf("encoding %q request: %w", action, err)
	}

	response, err := c.send(ctx, message)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}

	if !response.OK {
		return &ServiceError{
			Action:  action,
			Message: response.Error,
		}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}

	return nil
}

// buildRequest flattens the body into a map and injects "action".
// The body round-trips through CBOR so that struct tags and text
// marshalers apply exactly as they do on the server side.
func buildRequest(action string, body any) (map[string]any, error) {
	request := make(map[string]any)
	if body != nil {
		encoded, err := codec.Marshal(body)
		if err != nil {
			return nil, err
		}
		if err := codec.Unmarshal(encoded, &request); err != nil {
			return nil, fmt.Errorf("request body must encode as a map: %w", err)
		}
	}
	request["action"] = action
	return request, nil
}

// send connects to the socket, writes the request, and reads the
// response.
func (c *ServiceClient) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	// Abandon the exchange if the caller's context ends first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Half-close the write side so the server's read sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return &response, nil
}
