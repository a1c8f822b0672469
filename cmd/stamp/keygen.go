// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/sealed"
	"github.com/bureau-foundation/stamp/lib/secret"
)

type keygenParams struct {
	sealingKeyPath string
	identityPath   string
	force          bool
}

func keygenCommand() *cli.Command {
	var params keygenParams
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a sealing key and an archival keypair",
		Description: `Generate the master sealing key used to seal artifact payloads, and
optionally an age keypair for encrypting exported bundles. The age
public key is printed; add it to export.recipients.

Replacing the sealing key of a deployment invalidates every artifact
it has issued. Existing files are never overwritten without --force.`,
		Usage: "stamp keygen [flags]",
		Examples: []cli.Example{
			{
				Description: "Create both keys for a new deployment",
				Command:     "stamp keygen --sealing-key /var/lib/stamp/sealing.key --identity /etc/stamp/archive.age",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&params.sealingKeyPath, "sealing-key", "", "write a new sealing key to this path")
			flagSet.StringVar(&params.identityPath, "identity", "", "write a new age identity to this path")
			flagSet.BoolVar(&params.force, "force", false, "overwrite existing files")
			return flagSet
		},
		Run: func(args []string) error {
			if params.sealingKeyPath == "" && params.identityPath == "" {
				return fmt.Errorf("nothing to generate: pass --sealing-key and/or --identity")
			}
			return runKeygen(&params)
		},
	}
}

func runKeygen(params *keygenParams) error {
	if params.sealingKeyPath != "" {
		key, err := secret.GenerateKey()
		if err != nil {
			return err
		}
		err = writeSecretFile(params.sealingKeyPath, key, params.force)
		secret.Zero(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.Stdout, "sealing key written to %s\n", params.sealingKeyPath)
	}

	if params.identityPath != "" {
		keypair, err := sealed.GenerateKeypair()
		if err != nil {
			return err
		}
		defer keypair.Close()

		contents := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
			time.Now().UTC().Format(time.RFC3339), keypair.PublicKey, keypair.PrivateKey.Bytes())
		data := []byte(contents)
		err = writeSecretFile(params.identityPath, data, params.force)
		secret.Zero(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.Stdout, "age identity written to %s\npublic key: %s\n", params.identityPath, keypair.PublicKey)
	}
	return nil
}

// writeSecretFile writes data with owner-only permissions. Unless
// force is set, an existing file is an error.
func writeSecretFile(path string, data []byte, force bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s already exists (use --force to replace it)", path)
	}
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return file.Close()
}
