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

package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// keyFileEnvelope represents the JSON structure of a signing-key file.
type keyFileEnvelope struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	SeedHex     string    `json:"seedHex"`
}

// loadKeyFromFile loads a signing key from a file path.
// Returns ErrInsecureFileMode if a plaintext key file has group or other
// access.
//
// The file is opened first and permissions are checked on the open handle
// (via fstat on Unix) to avoid a TOCTOU race between the permission check
// and the read. Files with the EncryptedFileSuffix skip the permission
// check, their contents are ciphertext.
func loadKeyFromFile(path string) (*SigningKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()

	encrypted := strings.HasSuffix(path, EncryptedFileSuffix)
	if !encrypted {
		if err := checkOpenFilePermissions(f); err != nil {
			return nil, err
		}
	}

	// Limit read to 1 MiB to guard against accidentally pointing at a
	// large file. Valid key files are well under this size.
	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	if encrypted {
		data, err = decryptSops(data)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to decrypt key file %q: %w",
				path,
				err,
			)
		}
	}
	key, err := parseKeyEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	return key, nil
}

// parseKeyEnvelope parses a signing-key file envelope.
func parseKeyEnvelope(fileBytes []byte) (*SigningKey, error) {
	var env keyFileEnvelope
	if err := json.Unmarshal(fileBytes, &env); err != nil {
		return nil, fmt.Errorf("could not parse key file envelope: %w", err)
	}
	if env.Type != SigningKeyFileType {
		return nil, fmt.Errorf("unknown key type: %s", env.Type)
	}
	seed, err := hex.DecodeString(env.SeedHex)
	if err != nil {
		return nil, fmt.Errorf("could not decode seed from hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"invalid seed size: expected %d, got %d",
			ed25519.SeedSize,
			len(seed),
		)
	}
	return &SigningKey{
		Description: env.Description,
		CreatedAt:   env.CreatedAt,
		priv:        ed25519.NewKeyFromSeed(seed),
	}, nil
}

// encodeKeyEnvelope renders the signing key as an indented JSON envelope.
func encodeKeyEnvelope(k *SigningKey) ([]byte, error) {
	env := keyFileEnvelope{
		Type:        SigningKeyFileType,
		Description: k.Description,
		CreatedAt:   k.CreatedAt,
		SeedHex:     hex.EncodeToString(k.priv.Seed()),
	}
	data, err := json.MarshalIndent(env, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("could not encode key file envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// writeKeyFile creates a key file with owner-only permissions. Refuses to
// overwrite an existing file.
func writeKeyFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("key file %q: %w", path, ErrKeyExists)
		}
		return fmt.Errorf("failed to create key file %q: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close key file %q: %w", path, err)
	}
	return nil
}
