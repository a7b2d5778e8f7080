/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

func sampleReceipt(t *testing.T) (*Receipt, string) {
	t.Helper()
	dir := t.TempDir()
	boot := filepath.Join(dir, "boot.img")
	vbmeta := filepath.Join(dir, "vbmeta_system.img")
	require.NoError(t, os.WriteFile(boot, []byte("boot"), 0o644))
	require.NoError(t, os.WriteFile(vbmeta, []byte("vbmeta"), 0o644))

	r, err := FromResults("7d0f5e0c-1111-4a1a-9a9a-000000000001", "arb-patch", []*model.PatchResult{
		{Label: "boot", OutputPath: boot, Patched: true, PreviousIndex: 3, RollbackIndex: 5, KeyFingerprint: "2597c218aae470a130f61162feaae70afd97f011"},
		{Label: "vbmeta_system", OutputPath: vbmeta, PreviousIndex: 7, RollbackIndex: 7},
	}, time.Unix(1700000000, 0))
	require.NoError(t, err)
	return r, dir
}

func TestSignVerify(t *testing.T) {
	key := newKey(t)
	r, dir := sampleReceipt(t)

	signed, err := Sign(r, key)
	require.NoError(t, err)

	got, err := Verify(signed, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.Len(t, got.Entries, 2)
	assert.Equal(t, "boot.img", got.Entries[0].OutputName)
	assert.Len(t, got.Entries[0].OutputDigest, 32)
	assert.NoError(t, got.VerifyOutputs(dir))
}

func TestVerify_WrongKey(t *testing.T) {
	r, _ := sampleReceipt(t)
	signed, err := Sign(r, newKey(t))
	require.NoError(t, err)

	_, err = Verify(signed, &newKey(t).PublicKey)
	assert.ErrorIs(t, err, ErrReceiptKeyMismatch)
}

func TestVerify_TamperedSignature(t *testing.T) {
	key := newKey(t)
	r, _ := sampleReceipt(t)
	signed, err := Sign(r, key)
	require.NoError(t, err)

	signed[len(signed)-1] ^= 0x01
	_, err = Verify(signed, &key.PublicKey)
	assert.ErrorIs(t, err, ErrReceiptNotAuthenticated)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := Verify([]byte{0x01, 0x02}, &newKey(t).PublicKey)
	assert.ErrorIs(t, err, ErrInvalidReceipt)
	_, _, err = Decode([]byte{0xff})
	assert.ErrorIs(t, err, ErrInvalidReceipt)
}

func TestDecodeAndRender(t *testing.T) {
	key := newKey(t)
	r, _ := sampleReceipt(t)
	signed, err := Sign(r, key)
	require.NoError(t, err)

	got, kid, err := Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, r.SessionUUID, got.SessionUUID)
	want, err := KeyID(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, want, kid)

	pretty, err := Render(signed)
	require.NoError(t, err)
	assert.Contains(t, pretty, `"operation": "arb-patch"`)
	assert.Contains(t, pretty, `"label": "boot"`)
}

func TestVerifyOutputs_Mismatch(t *testing.T) {
	r, dir := sampleReceipt(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.img"), []byte("changed"), 0o644))
	assert.ErrorIs(t, r.VerifyOutputs(dir), ErrReceiptNotAuthenticated)
}

func TestFromResults_MissingOutput(t *testing.T) {
	_, err := FromResults("u", "arb-patch", []*model.PatchResult{{Label: "boot", OutputPath: filepath.Join(t.TempDir(), "absent")}}, time.Now())
	assert.Error(t, err)
}
