// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/seal"
	"github.com/bureau-foundation/stamp/lib/secret"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := cli.Stdout
	cli.Stdout = &buffer
	t.Cleanup(func() { cli.Stdout = previous })
	return &buffer
}

func TestKeygenWritesUsableKeys(t *testing.T) {
	output := captureStdout(t)
	dir := t.TempDir()
	params := keygenParams{
		sealingKeyPath: filepath.Join(dir, "keys", "sealing.key"),
		identityPath:   filepath.Join(dir, "archive.age"),
	}
	if err := runKeygen(&params); err != nil {
		t.Fatalf("runKeygen: %v", err)
	}

	info, err := os.Stat(params.sealingKeyPath)
	if err != nil {
		t.Fatalf("stat sealing key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("sealing key mode = %o, want 600", info.Mode().Perm())
	}
	master, err := secret.ReadKeyFile(params.sealingKeyPath)
	if err != nil {
		t.Fatalf("ReadKeyFile: %v", err)
	}
	defer master.Close()
	sealer, err := seal.NewSealer(master)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	sealer.Close()

	identity, err := os.ReadFile(params.identityPath)
	if err != nil {
		t.Fatalf("reading identity: %v", err)
	}
	if key := trimIdentity(identity); !bytes.HasPrefix(key, []byte("AGE-SECRET-KEY-1")) {
		t.Errorf("identity line = %q", key)
	}
	if !strings.Contains(output.String(), "public key: age1") {
		t.Errorf("output does not show the public key:\n%s", output.String())
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	captureStdout(t)
	path := filepath.Join(t.TempDir(), "sealing.key")
	if err := os.WriteFile(path, []byte("existing\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err := runKeygen(&keygenParams{sealingKeyPath: path})
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "existing\n" {
		t.Error("existing key was modified")
	}

	if err := runKeygen(&keygenParams{sealingKeyPath: path, force: true}); err != nil {
		t.Fatalf("runKeygen --force: %v", err)
	}
	replaced, err := secret.ReadKeyFile(path)
	if err != nil {
		t.Fatalf("replaced key unreadable: %v", err)
	}
	replaced.Close()
}
