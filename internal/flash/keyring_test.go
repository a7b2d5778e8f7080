/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/infra/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRSAKey(t *testing.T, dir, name string) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	fp, err := avb.PublicKeyFingerprint(data)
	require.NoError(t, err)
	return path, fp
}

func newKeyring(t *testing.T) (*Keyring, *sqlite.SigningKeyRepository) {
	t.Helper()
	db, err := sqlite.InitDB(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.CloseDB(db) })
	repo := sqlite.NewSigningKeyRepository(db)
	return NewKeyring(repo, nil), repo
}

func TestKeyring_RegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	kr, repo := newKeyring(t)
	path, fp := writeRSAKey(t, t.TempDir(), "oem.pem")

	key, err := kr.Register(ctx, "oem", path, "", false)
	require.NoError(t, err)
	assert.Equal(t, fp, key.Fingerprint)
	assert.NotZero(t, key.ID)

	found, err := repo.FindByFingerprint(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, path, found.KeyPath)
	assert.Equal(t, "oem", found.Label)

	// a second plain registration is refused and leaves the first in place
	_, err = kr.Register(ctx, "oem-renamed", path, "", false)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	keys, err := kr.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "oem", keys[0].Label)

	// replace swaps the label
	_, err = kr.Register(ctx, "oem-renamed", path, "", true)
	require.NoError(t, err)
	keys, err = kr.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "oem-renamed", keys[0].Label)
}

func TestKeyring_FingerprintMismatch(t *testing.T) {
	kr, _ := newKeyring(t)
	path, _ := writeRSAKey(t, t.TempDir(), "oem.pem")

	_, err := kr.Register(context.Background(), "oem", path, testFP, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestKeyring_SeedSkipsAbsentKeys(t *testing.T) {
	ctx := context.Background()
	kr, _ := newKeyring(t)
	dir := t.TempDir()
	path, fp := writeRSAKey(t, dir, "testkey_rsa2048.pem")

	n, err := kr.Seed(ctx, []config.KeyConfig{
		{Label: "testkey_rsa4096", Path: filepath.Join(dir, "testkey_rsa4096.pem")},
		{Label: "testkey_rsa2048", Path: path, Fingerprint: fp},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := kr.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "testkey_rsa2048", keys[0].Label)
}

func TestKeyring_SeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	kr, _ := newKeyring(t)
	path, _ := writeRSAKey(t, t.TempDir(), "oem.pem")
	keys := []config.KeyConfig{{Label: "oem", Path: path}}

	for i := 0; i < 2; i++ {
		n, err := kr.Seed(ctx, keys)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestKeyring_SeedRejectsGarbage(t *testing.T) {
	kr, _ := newKeyring(t)
	path := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a key"), 0o600))

	_, err := kr.Seed(context.Background(), []config.KeyConfig{{Label: "junk", Path: path}})
	require.Error(t, err)
}
