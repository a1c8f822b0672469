// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Stamp is the operator CLI of the stamp issuance service. It talks to
// a running stamp-service over its Unix socket, and works offline for
// key generation, bundle inspection, and capacity planning.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like verify) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}
