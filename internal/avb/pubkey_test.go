/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePublicKey_Layout(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	blob, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.Len(t, blob, 8+2*256)
	assert.Equal(t, uint32(2048), binary.BigEndian.Uint32(blob[0:4]))

	// n * n0inv == -1 mod 2^32
	n0inv := uint64(binary.BigEndian.Uint32(blob[4:8]))
	nLow := new(big.Int).And(key.N, big.NewInt(0xffffffff)).Uint64()
	assert.Equal(t, uint64(0xffffffff), (nLow*n0inv)&0xffffffff)

	assert.Equal(t, key.N.FillBytes(make([]byte, 256)), blob[8:8+256])

	r := new(big.Int).Lsh(big.NewInt(1), 2048)
	rr := new(big.Int).Mod(new(big.Int).Mul(r, r), key.N)
	assert.Equal(t, rr.FillBytes(make([]byte, 256)), blob[8+256:])
}

func TestPublicKeyFingerprint_Formats(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	blob, err := EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	sum := sha1.Sum(blob)
	want := hex.EncodeToString(sum[:])

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	for typ, der := range map[string][]byte{
		"RSA PRIVATE KEY": x509.MarshalPKCS1PrivateKey(key),
		"PRIVATE KEY":     pkcs8,
		"RSA PUBLIC KEY":  x509.MarshalPKCS1PublicKey(&key.PublicKey),
		"PUBLIC KEY":      pkix,
	} {
		got, err := PublicKeyFingerprint(pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}))
		require.NoError(t, err, typ)
		assert.Equal(t, want, got, typ)
	}
}

func TestPublicKeyFingerprint_Rejects(t *testing.T) {
	_, err := PublicKeyFingerprint([]byte("nothing here"))
	assert.Error(t, err)

	ec, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(ec)
	require.NoError(t, err)
	_, err = PublicKeyFingerprint(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	assert.Error(t, err)

	_, err = PublicKeyFingerprint(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}))
	assert.Error(t, err)
}

func TestEncodePublicKey_RejectsOddSize(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1536)
	require.NoError(t, err)
	_, err = EncodePublicKey(&key.PublicKey)
	assert.Error(t, err)
}
