// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption for the NanoClaw secrets
// bundle. The bundle is a JSON object of name → value pairs stored on
// disk as base64-encoded age ciphertext; the orchestrator decrypts it
// at startup with the host identity and passes individual values into
// sandboxes only when the group's env allowlist names them.
//
// Private keys and decrypted plaintext travel in *secret.Buffer values
// (mmap-backed, locked against swap, zeroed on close).
package sealed

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"github.com/qwibitai/nanoclaw-sub016/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key lives in a
// secret.Buffer; the public key is a plain string, safe to publish.
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format.
	// Never log it or pass it in CLI arguments.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding key in age1... format.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in protected memory. The caller must Close the returned Keypair.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Encrypt encrypts plaintext to one or more age public keys (age1...
// format) and returns base64-encoded ciphertext suitable for storage
// in a text file. At least one recipient is required.
func Encrypt(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Decrypt decrypts base64-encoded ciphertext with the given private
// key. The key is borrowed and not closed. The caller must Close the
// returned buffer.
func Decrypt(ciphertext string, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypted bundle is empty")
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string.
func ParsePublicKey(publicKey string) error {
	if _, err := age.ParseX25519Recipient(publicKey); err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// LoadBundle reads the sealed secrets bundle at path, decrypts it with
// the given private key, and parses the JSON name → value map. The
// decrypted intermediate is zeroed before returning; the returned map
// holds the only plaintext copies.
//
// A missing bundle file is not an error — it returns an empty map,
// since secrets are optional.
func LoadBundle(path string, privateKey *secret.Buffer) (map[string]string, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets bundle: %w", err)
	}

	plaintext, err := Decrypt(string(bytes.TrimSpace(ciphertext)), privateKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing %s: %w", path, err)
	}
	defer plaintext.Close()

	var bundle map[string]string
	if err := json.Unmarshal(plaintext.Bytes(), &bundle); err != nil {
		return nil, fmt.Errorf("parsing secrets bundle: %w", err)
	}
	return bundle, nil
}

// SaveBundle encrypts the name → value map to the given recipients and
// writes it to path with owner-only permissions, replacing any
// existing bundle atomically.
func SaveBundle(path string, bundle map[string]string, recipientKeys []string) error {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encoding secrets bundle: %w", err)
	}
	defer secret.Zero(plaintext)

	ciphertext, err := Encrypt(plaintext, recipientKeys)
	if err != nil {
		return err
	}

	temp := path + ".tmp"
	if err := os.WriteFile(temp, []byte(ciphertext), 0o600); err != nil {
		return fmt.Errorf("writing secrets bundle: %w", err)
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return fmt.Errorf("replacing secrets bundle: %w", err)
	}
	return nil
}
