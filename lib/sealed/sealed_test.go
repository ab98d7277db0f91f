// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	defer keypair.Close()

	plaintext := []byte(`{"ANTHROPIC_API_KEY":"sk-test"}`)
	ciphertext, err := Encrypt(append([]byte(nil), plaintext...), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer decrypted.Close()

	if string(decrypted.Bytes()) != string(plaintext) {
		t.Errorf("round trip = %q, want %q", decrypted.Bytes(), plaintext)
	}
}

func TestEncryptRequiresRecipient(t *testing.T) {
	if _, err := Encrypt([]byte("x"), nil); err == nil {
		t.Fatal("Encrypt with no recipients = nil error, want error")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	mallory, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer mallory.Close()

	ciphertext, err := Encrypt([]byte("secret"), []string{alice.PublicKey})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(ciphertext, mallory.PrivateKey); err == nil {
		t.Fatal("Decrypt with a different key = nil error, want error")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()

	path := filepath.Join(t.TempDir(), "secrets.age")
	bundle := map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"OPENWEATHER_KEY":   "wx-123",
	}

	if err := SaveBundle(path, bundle, []string{keypair.PublicKey}); err != nil {
		t.Fatalf("SaveBundle: %v", err)
	}

	loaded, err := LoadBundle(path, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if len(loaded) != 2 || loaded["ANTHROPIC_API_KEY"] != "sk-test" {
		t.Errorf("LoadBundle = %v, want %v", loaded, bundle)
	}
}

func TestLoadBundleMissingFile(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()

	loaded, err := LoadBundle(filepath.Join(t.TempDir(), "absent.age"), keypair.PrivateKey)
	if err != nil {
		t.Fatalf("LoadBundle on missing file: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("LoadBundle on missing file = %v, want empty map", loaded)
	}
}
