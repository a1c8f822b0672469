// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/build"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
)

type issueParams struct {
	cli.JSONOutput
	connection
	batchID     string
	payloadsDir string
}

func issueCommand() *cli.Command {
	var params issueParams
	return &cli.Command{
		Name:    "issue",
		Summary: "Issue artifacts from a request file",
		Description: `Issue one batch of artifacts. The request file is JSON with comments
(JSONC): either an array of requests or an object with "requests" and
an optional "batch_id". Use "-" to read from stdin.

Per-request failures are listed in the output; the command fails only
when the batch could not run at all. Resubmitting a file with the same
--batch-id returns the same identifiers.`,
		Usage: "stamp issue [flags] <request-file>",
		Examples: []cli.Example{
			{
				Description: "Issue and write one QR payload file per artifact",
				Command:     "stamp issue --payloads ./qr requests.jsonc",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("issue", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			flagSet.StringVar(&params.batchID, "batch-id", "", "batch id (overrides the file's batch_id; default random)")
			flagSet.StringVar(&params.payloadsDir, "payloads", "", "directory to write <id>.json QR payloads into")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one request file")
			}
			return runIssue(args[0], &params)
		},
	}
}

func runIssue(path string, params *issueParams) error {
	data, err := readInput(path)
	if err != nil {
		return err
	}
	request, err := parseRequestFile(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if params.batchID != "" {
		request.BatchID = params.batchID
	}
	if len(request.Requests) == 0 {
		return fmt.Errorf("%s contains no requests", path)
	}

	client, err := params.client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var batch issuance.Batch
	if err := client.Call(ctx, "issue", request, &batch); err != nil {
		return err
	}

	if params.payloadsDir != "" {
		if err := writePayloads(params.payloadsDir, batch.Succeeded); err != nil {
			return err
		}
	}

	if done, err := params.EmitJSON(batch); done {
		return err
	}
	printBatch(cli.Stdout, &batch)
	return nil
}

// parseRequestFile accepts an array of requests or an IssueRequest
// object, both with JSONC comments and trailing commas.
func parseRequestFile(data []byte) (issuance.IssueRequest, error) {
	plain := bytes.TrimSpace(jsonc.ToJSON(data))
	var request issuance.IssueRequest
	if len(plain) > 0 && plain[0] == '[' {
		decoder := json.NewDecoder(bytes.NewReader(plain))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&request.Requests); err != nil {
			return request, err
		}
		return request, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(plain))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		return request, err
	}
	return request, nil
}

// writePayloads writes the QR payload of each issued artifact to
// <dir>/<id>.json.
func writePayloads(dir string, issued []issuance.Issued) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, entry := range issued {
		payload, err := build.EncodePayload(entry.Artifact)
		if err != nil {
			return fmt.Errorf("encoding payload of %s: %w", entry.Artifact.ID, err)
		}
		path := filepath.Join(dir, entry.Artifact.ID+".json")
		if err := os.WriteFile(path, append(payload, '\n'), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func printBatch(w io.Writer, batch *issuance.Batch) {
	elapsed := batch.CompletedAt.Sub(batch.StartedAt)
	fmt.Fprintf(w, "batch %s: %s issued, %s failed of %s in %s (%d sub-batches)\n",
		batch.BatchID,
		humanize.Comma(int64(len(batch.Succeeded))),
		humanize.Comma(int64(len(batch.Failed))),
		humanize.Comma(int64(batch.RequestedCount)),
		elapsed, batch.SubBatches)

	if len(batch.Succeeded) > 0 {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "\nPOS\tID\tSHARD\tEXPIRES")
		for _, entry := range batch.Succeeded {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
				entry.Position, entry.Artifact.ID, entry.Placement.ShardID,
				entry.Artifact.ExpiresAt.Format("2006-01-02"))
		}
		tw.Flush()
	}

	if len(batch.Failed) > 0 {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "\nPOS\tKIND\tRETRYABLE\tMESSAGE")
		for _, failure := range batch.Failed {
			fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n",
				failure.Position, failure.Kind, failure.Retryable, failure.Message)
		}
		tw.Flush()
	}
}

// readInput reads path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
