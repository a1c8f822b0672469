// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/schema/issuance"
	"github.com/bureau-foundation/stamp/lib/secret"
	"github.com/bureau-foundation/stamp/lib/shard"
)

type exportParams struct {
	cli.JSONOutput
	connection
	compression string
	recipients  []string
}

func exportCommand() *cli.Command {
	var params exportParams
	return &cli.Command{
		Name:    "export",
		Summary: "Export a sealed shard as a bundle",
		Description: `Write a SEALED shard to a bundle file in the service's export
directory. The shard checksum is re-verified before writing. Without
flags the configured compression and recipients apply.`,
		Usage: "stamp export [flags] <shard-id>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			params.connection.addFlags(flagSet)
			params.AddJSONFlag(flagSet)
			flagSet.StringVar(&params.compression, "compression", "", "frame compression: none, lz4, zstd")
			flagSet.StringSliceVar(&params.recipients, "recipient", nil, "age public key to encrypt to (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one shard id")
			}
			client, err := params.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			var bundle issuance.Bundle
			request := issuance.ExportRequest{
				ShardID:     args[0],
				Compression: params.compression,
				Recipients:  params.recipients,
			}
			if err := client.Call(ctx, "export", request, &bundle); err != nil {
				return err
			}
			if done, err := params.EmitJSON(bundle); done {
				return err
			}
			printBundle(cli.Stdout, &bundle)
			return nil
		},
	}
}

func printBundle(w io.Writer, bundle *issuance.Bundle) {
	fmt.Fprintf(w, "%s\n", bundle.Path)
	fmt.Fprintf(w, "  shard:        %s\n", bundle.ShardID)
	fmt.Fprintf(w, "  artifacts:    %s (%s)\n", humanize.Comma(int64(bundle.ArtifactCount)), humanize.IBytes(uint64(bundle.ByteSize)))
	fmt.Fprintf(w, "  compression:  %s\n", bundle.Compression)
	fmt.Fprintf(w, "  encrypted:    %t\n", bundle.Encrypted)
	fmt.Fprintf(w, "  checksum:     %s\n", bundle.Checksum)
	if !bundle.FileHash.IsZero() {
		fmt.Fprintf(w, "  file hash:    %s\n", bundle.FileHash)
	}
}

type bundleParams struct {
	cli.JSONOutput
	identityPath string
	list         bool
}

func bundleCommand() *cli.Command {
	var params bundleParams
	return &cli.Command{
		Name:    "bundle",
		Summary: "Inspect and verify a bundle file offline",
		Description: `Read a shard bundle, recompute its checksum, and print its
description. Encrypted bundles need the age identity written by
"stamp keygen". No service connection is needed.`,
		Usage: "stamp bundle [flags] <bundle-file>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("bundle", pflag.ContinueOnError)
			params.AddJSONFlag(flagSet)
			flagSet.StringVar(&params.identityPath, "identity", "", "age identity file for encrypted bundles")
			flagSet.BoolVar(&params.list, "list", false, "list the bundle's artifacts")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one bundle file")
			}
			return runBundle(args[0], &params)
		},
	}
}

func runBundle(path string, params *bundleParams) error {
	var identity *secret.Buffer
	if params.identityPath != "" {
		data, err := os.ReadFile(params.identityPath)
		if err != nil {
			return fmt.Errorf("reading identity: %w", err)
		}
		identity, err = secret.NewFromBytes(trimIdentity(data))
		secret.Zero(data)
		if err != nil {
			return err
		}
		defer identity.Close()
	}

	bundle, artifacts, err := shard.ReadBundle(path, identity)
	if err != nil {
		return err
	}

	if params.list {
		if done, err := params.EmitJSON(artifacts); done {
			return err
		}
	} else if done, err := params.EmitJSON(bundle); done {
		return err
	}

	printBundle(cli.Stdout, &bundle)
	if params.list {
		fmt.Fprintln(cli.Stdout)
		for _, artifact := range artifacts {
			fmt.Fprintf(cli.Stdout, "%s  %s  %s\n", artifact.ID, artifact.Category, artifact.PayloadHash)
		}
	}
	return nil
}

// trimIdentity returns the AGE-SECRET-KEY line of an identity file,
// skipping "#" comment lines.
func trimIdentity(data []byte) []byte {
	for line := range bytes.Lines(data) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] != '#' {
			return line
		}
	}
	return nil
}
