// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(string(keypair.PrivateKey.Bytes()), "AGE-SECRET-KEY-1") {
		t.Error("PrivateKey does not have prefix AGE-SECRET-KEY-1")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
}

func TestEncryptDecryptStream(t *testing.T) {
	first := mustKeypair(t)
	second := mustKeypair(t)

	plaintext := bytes.Repeat([]byte("shard bundle record\n"), 5000)

	var ciphertext bytes.Buffer
	writer, err := EncryptWriter(&ciphertext, []string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("EncryptWriter: %v", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("shard bundle record")) {
		t.Fatal("ciphertext contains plaintext")
	}

	for _, keypair := range []*Keypair{first, second} {
		reader, err := DecryptReader(bytes.NewReader(ciphertext.Bytes()), keypair.PrivateKey)
		if err != nil {
			t.Fatalf("DecryptReader: %v", err)
		}
		got, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Error("decrypted plaintext mismatch")
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	owner := mustKeypair(t)
	stranger := mustKeypair(t)

	var ciphertext bytes.Buffer
	writer, err := EncryptWriter(&ciphertext, []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("EncryptWriter: %v", err)
	}
	writer.Write([]byte("secret"))
	writer.Close()

	if _, err := DecryptReader(bytes.NewReader(ciphertext.Bytes()), stranger.PrivateKey); err == nil {
		t.Fatal("expected error decrypting with the wrong identity")
	}
}

func TestParseRecipients(t *testing.T) {
	if _, err := ParseRecipients(nil); err == nil {
		t.Error("expected error for no recipients")
	}
	if _, err := ParseRecipients([]string{"age1notakey"}); err == nil {
		t.Error("expected error for invalid recipient")
	}
}

func mustKeypair(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}
