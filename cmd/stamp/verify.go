// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

type verifyParams struct {
	cli.JSONOutput
	connection
}

// Exit codes of "stamp verify" for outcomes other than MATCH.
const (
	exitMismatch = 1
	exitNotFound = 2
	exitExpired  = 3
)

func verifyCommand() *cli.Command {
	var params verifyParams
	return &cli.Command{
		Name:    "verify",
		Summary: "Verify a scanned QR payload",
		Description: `Verify the JSON payload read from a QR code against the stored
artifact. The outcome is printed; the exit status is 0 for MATCH,
1 for MISMATCH, 2 for NOT_FOUND, and 3 for EXPIRED.`,
		Usage: "stamp verify [flags] <payload-file|->",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one payload file (or - for stdin)")
			}
			return runVerify(args[0], &params)
		},
	}
}

func runVerify(path string, params *verifyParams) error {
	payload, err := readInput(path)
	if err != nil {
		return err
	}

	client, err := params.client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var response issuance.VerifyResponse
	request := issuance.VerifyRequest{RawPayload: string(bytes.TrimSpace(payload))}
	if err := client.Call(ctx, "verify", request, &response); err != nil {
		return err
	}

	if done, err := params.EmitJSON(response); !done {
		printVerify(cli.Stdout, &response)
	} else if err != nil {
		return err
	}
	return outcomeExit(response.Outcome)
}

func printVerify(w io.Writer, response *issuance.VerifyResponse) {
	fmt.Fprintln(w, response.Outcome)
	if response.Stored == nil {
		return
	}
	artifact := response.Stored.Artifact
	fmt.Fprintf(w, "  id:        %s\n", artifact.ID)
	fmt.Fprintf(w, "  category:  %s\n", artifact.Category)
	fmt.Fprintf(w, "  issued:    %s\n", artifact.IssuedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  expires:   %s\n", artifact.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  batch:     %s #%d\n", artifact.BatchID, artifact.SequenceInBatch)
	fmt.Fprintf(w, "  shard:     %s @%d\n", response.Stored.Placement.ShardID, response.Stored.Placement.Position)
}

// outcomeExit maps an outcome to the command's exit status.
func outcomeExit(outcome issuance.Outcome) error {
	switch outcome {
	case issuance.OutcomeMatch:
		return nil
	case issuance.OutcomeMismatch:
		return &cli.ExitError{Code: exitMismatch}
	case issuance.OutcomeNotFound:
		return &cli.ExitError{Code: exitNotFound}
	case issuance.OutcomeExpired:
		return &cli.ExitError{Code: exitExpired}
	}
	return fmt.Errorf("unexpected outcome %q", outcome)
}
