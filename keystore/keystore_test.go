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
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cachet-io/cachet/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isWindows() bool {
	return runtime.GOOS == "windows"
}

func TestGenerateSaveLoadRoundTrip(t *testing.T) {
	key, err := Generate("relay submitter key")
	require.NoError(t, err)
	require.Len(t, key.PrivateKey(), ed25519.PrivateKeySize)

	path := filepath.Join(t.TempDir(), "relay.skey")
	require.NoError(t, key.Save(path))

	if !isWindows() {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "relay submitter key", loaded.Description)
	assert.True(t, loaded.CreatedAt.Equal(key.CreatedAt))
	assert.Equal(t, key.PrivateKey(), loaded.PrivateKey())
	assert.Equal(t, key.Principal(), loaded.Principal())

	// Loaded key must produce signatures the original key's public half
	// verifies
	message := []byte("claim mandate digest")
	sig := ed25519.Sign(loaded.PrivateKey(), message)
	assert.True(t, ed25519.Verify(key.PublicKey(), message, sig))
}

func TestKeyFileEnvelopeFormat(t *testing.T) {
	key, err := Generate("test key")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.skey")
	require.NoError(t, key.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var env keyFileEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, SigningKeyFileType, env.Type)
	assert.Equal(t, "test key", env.Description)
	assert.Len(t, env.SeedHex, 2*ed25519.SeedSize)
	assert.False(t, env.CreatedAt.IsZero())
}

func TestPrincipalDerivation(t *testing.T) {
	key, err := Generate("")
	require.NoError(t, err)

	principal := key.Principal()
	assert.Equal(t, auth.NewPrincipal(key.PublicKey()), principal)

	parsed, err := auth.ParsePrincipal(string(principal))
	require.NoError(t, err)
	assert.Equal(t, principal, parsed)
}

func TestLoadRejectsInsecureMode(t *testing.T) {
	if isWindows() {
		t.Skip("Unix permission test")
	}

	key, err := Generate("test key")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.skey")
	require.NoError(t, key.Save(path))

	// Loosen permissions after creation with os.Chmod to avoid umask
	// interference
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.skey"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSaveRefusesOverwrite(t *testing.T) {
	key, err := Generate("test key")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.skey")
	require.NoError(t, key.Save(path))

	err = key.Save(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyExists)
}

func TestSaveRejectsEncryptedSuffix(t *testing.T) {
	key, err := Generate("test key")
	require.NoError(t, err)

	err = key.Save(filepath.Join(t.TempDir(), "test.skey.sops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suffix")
}

func TestSaveEncryptedRequiresSuffix(t *testing.T) {
	key, err := Generate("test key")
	require.NoError(t, err)

	err = key.SaveEncrypted(filepath.Join(t.TempDir(), "test.skey"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suffix")
}

func TestSaveEncryptedWithoutMasterKeys(t *testing.T) {
	t.Setenv(envGCPKMSResourceID, "")
	t.Setenv(envAWSKMSKeyARNs, "")

	key, err := Generate("test key")
	require.NoError(t, err)

	err = key.SaveEncrypted(filepath.Join(t.TempDir(), "test.skey.sops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master key")
}

func TestLoadEncryptedSuffixSkipsPermissionCheck(t *testing.T) {
	// Not valid SOPS output, but enough to prove that the permission
	// check is bypassed and decryption is attempted
	path := filepath.Join(t.TempDir(), "test.skey.sops")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":"garbage"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsecureFileMode)
	assert.Contains(t, err.Error(), "failed to decrypt key file")
}

func TestParseKeyEnvelopeErrors(t *testing.T) {
	testDefs := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "malformed json",
			data:    `{"type": "CachetSigningKey_ed25519"`,
			wantErr: "could not parse key file envelope",
		},
		{
			name:    "unknown type",
			data:    `{"type": "KesSigningKey_ed25519_kes_2^6", "seedHex": ""}`,
			wantErr: "unknown key type",
		},
		{
			name:    "bad hex",
			data:    `{"type": "CachetSigningKey_ed25519", "seedHex": "zz"}`,
			wantErr: "could not decode seed from hex",
		},
		{
			name:    "short seed",
			data:    `{"type": "CachetSigningKey_ed25519", "seedHex": "abcd"}`,
			wantErr: "invalid seed size",
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			_, err := parseKeyEnvelope([]byte(testDef.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), testDef.wantErr)
		})
	}
}
