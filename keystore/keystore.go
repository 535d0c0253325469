// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keystore manages Ed25519 signing-key files for relay operators
// and node administrators. Key files carry a JSON envelope with a
// hex-encoded seed, are created owner-readable only, and may be encrypted
// at rest with SOPS.
package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cachet-io/cachet/auth"
)

const (
	// SigningKeyFileType is the envelope type tag for Ed25519 signing keys.
	SigningKeyFileType = "CachetSigningKey_ed25519"

	// EncryptedFileSuffix marks key files that are SOPS-encrypted at rest.
	EncryptedFileSuffix = ".sops"
)

// Common errors returned by key file operations.
var (
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrKeyExists        = errors.New("key file already exists")
)

// SigningKey is an Ed25519 signing key together with the envelope metadata
// stored alongside it in a key file.
type SigningKey struct {
	Description string
	CreatedAt   time.Time

	priv ed25519.PrivateKey
}

// Generate creates a fresh signing key.
func Generate(description string) (*SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &SigningKey{
		Description: description,
		CreatedAt:   time.Now().UTC(),
		priv:        priv,
	}, nil
}

// Load reads a signing key from a key file. Files with the
// EncryptedFileSuffix are decrypted with SOPS before parsing; all other
// files must not be group or world readable.
func Load(path string) (*SigningKey, error) {
	return loadKeyFromFile(path)
}

// Save writes the key as a plaintext key file with mode 0600. The file
// must not already exist. Paths with the EncryptedFileSuffix are rejected
// because Load would try to decrypt them.
func (k *SigningKey) Save(path string) error {
	if strings.HasSuffix(path, EncryptedFileSuffix) {
		return fmt.Errorf(
			"plaintext key file %q must not carry the %s suffix",
			path,
			EncryptedFileSuffix,
		)
	}
	data, err := encodeKeyEnvelope(k)
	if err != nil {
		return err
	}
	return writeKeyFile(path, data)
}

// SaveEncrypted writes the key as a SOPS-encrypted key file. The path must
// carry the EncryptedFileSuffix so that Load knows to decrypt it. Master
// keys come from the CACHET_GCP_KMS_RESOURCE_ID and CACHET_AWS_KMS_KEY_ARNS
// environment variables.
func (k *SigningKey) SaveEncrypted(path string) error {
	if !strings.HasSuffix(path, EncryptedFileSuffix) {
		return fmt.Errorf(
			"encrypted key file %q must carry the %s suffix",
			path,
			EncryptedFileSuffix,
		)
	}
	data, err := encodeKeyEnvelope(k)
	if err != nil {
		return err
	}
	ciphertext, err := encryptSops(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt key file %q: %w", path, err)
	}
	return writeKeyFile(path, ciphertext)
}

// PrivateKey returns the Ed25519 private key.
func (k *SigningKey) PrivateKey() ed25519.PrivateKey {
	return k.priv
}

// PublicKey returns the Ed25519 public key.
func (k *SigningKey) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// Principal returns the caller identity derived from the public key.
func (k *SigningKey) Principal() auth.Principal {
	return auth.NewPrincipal(k.PublicKey())
}
