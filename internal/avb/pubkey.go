/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
)

// EncodePublicKey serialises an RSA public key the way verified-boot images embed it:
// key bits and n0inv as big-endian uint32, then the modulus and R^2 mod n, each padded
// to the key size.
func EncodePublicKey(pub *rsa.PublicKey) ([]byte, error) {
	bits := pub.N.BitLen()
	if bits == 0 || bits&(bits-1) != 0 {
		return nil, fmt.Errorf("key size %d is not a power of two", bits)
	}

	two32 := new(big.Int).Lsh(big.NewInt(1), 32)
	inv := new(big.Int).ModInverse(new(big.Int).Mod(pub.N, two32), two32)
	if inv == nil {
		return nil, errors.New("modulus is not invertible mod 2^32")
	}
	n0inv := new(big.Int).Sub(two32, inv)

	r := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	rr := new(big.Int).Mod(new(big.Int).Mul(r, r), pub.N)

	size := bits / 8
	out := make([]byte, 8, 8+2*size)
	binary.BigEndian.PutUint32(out[0:4], uint32(bits))
	binary.BigEndian.PutUint32(out[4:8], uint32(n0inv.Uint64()))
	out = append(out, pub.N.FillBytes(make([]byte, size))...)
	out = append(out, rr.FillBytes(make([]byte, size))...)
	return out, nil
}

// PublicKeyFingerprint returns the lower-case hex SHA-1 of the encoded public key of a
// PEM RSA key (private or public), as reported by "Public key (sha1)".
func PublicKeyFingerprint(pemData []byte) (string, error) {
	pub, err := parseRSAPublicKey(pemData)
	if err != nil {
		return "", err
	}
	blob, err := EncodePublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(blob)
	return hex.EncodeToString(sum[:]), nil
}

func parseRSAPublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return &k.PublicKey, nil
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rk, ok := k.(*rsa.PrivateKey); ok {
			return &rk.PublicKey, nil
		}
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rk, ok := k.(*rsa.PublicKey); ok {
			return rk, nil
		}
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", block.Type)
	}
	return nil, errors.New("key is not RSA")
}
