/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package container decodes the obfuscated container that firmware packages use for
// partition manifests (".x" files).
package container

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
)

const (
	IVSize        = 16
	SaltSize      = 16
	HeaderSize    = IVSize + SaltSize
	KeySize       = 32
	KDFIterations = 1000

	sizeFieldLen = 8
	magicLen     = 8
	prefixLen    = sizeFieldLen + magicLen
	checksumLen  = sha256.Size
)

var (
	Magic = [magicLen]byte{0xCF, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0xFC}

	// DefaultSecret is the shared secret used by stock firmware packages.
	DefaultSecret = []byte("OSD")
)

// DeriveKey stretches secret||salt with iterated SHA-256.
// This is kept for format compatibility only.
func DeriveKey(secret, salt []byte) []byte {
	h := sha256.New()
	h.Write(secret)
	h.Write(salt)
	digest := h.Sum(nil)
	for i := 1; i < KDFIterations; i++ {
		sum := sha256.Sum256(digest)
		digest = sum[:]
	}
	return digest[:KeySize]
}

// Decode returns the manifest body stored in container.
func Decode(container, secret []byte) ([]byte, error) {
	p, err := DecodePayload(container, secret)
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// DecodePayload decrypts container and verifies both the magic and the body checksum.
func DecodePayload(container, secret []byte) (*model.DecryptedPayload, error) {
	if len(container) < HeaderSize+aes.BlockSize {
		return nil, &domain.DecryptionError{Check: "layout"}
	}
	iv := container[:IVSize]
	salt := container[IVSize:HeaderSize]
	ciphertext := container[HeaderSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, &domain.DecryptionError{Check: "layout"}
	}

	block, err := aes.NewCipher(DeriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	if len(plain) < prefixLen {
		return nil, &domain.DecryptionError{Check: "layout"}
	}

	var p model.DecryptedPayload
	p.OriginalSize = int64(binary.LittleEndian.Uint64(plain[:sizeFieldLen]))
	copy(p.Magic[:], plain[sizeFieldLen:prefixLen])

	// magic first: a wrong key yields a random size field
	if p.Magic != Magic {
		return nil, &domain.DecryptionError{Check: "magic"}
	}
	if p.OriginalSize < 0 || p.OriginalSize > int64(len(plain)-prefixLen-checksumLen) {
		return nil, &domain.DecryptionError{Check: "length"}
	}

	bodyEnd := prefixLen + int(p.OriginalSize)
	p.Body = plain[prefixLen:bodyEnd]
	copy(p.Checksum[:], plain[bodyEnd:bodyEnd+checksumLen])

	if sum := sha256.Sum256(p.Body); !bytes.Equal(sum[:], p.Checksum[:]) {
		return nil, &domain.DecryptionError{Check: "checksum"}
	}
	return &p, nil
}

// Encode builds a container around body. Trailing plaintext is zero padded to the block size.
func Encode(body, secret, iv, salt []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, errors.New("iv must be 16 bytes")
	}
	if len(salt) != SaltSize {
		return nil, errors.New("salt must be 16 bytes")
	}

	size := prefixLen + len(body) + checksumLen
	if rem := size % aes.BlockSize; rem != 0 {
		size += aes.BlockSize - rem
	}
	plain := make([]byte, size)
	binary.LittleEndian.PutUint64(plain[:sizeFieldLen], uint64(len(body)))
	copy(plain[sizeFieldLen:prefixLen], Magic[:])
	copy(plain[prefixLen:], body)
	sum := sha256.Sum256(body)
	copy(plain[prefixLen+len(body):], sum[:])

	block, err := aes.NewCipher(DeriveKey(secret, salt))
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize+size)
	copy(out[:IVSize], iv)
	copy(out[IVSize:HeaderSize], salt)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[HeaderSize:], plain)
	return out, nil
}

// LooksEncrypted reports whether data is not plain manifest markup.
func LooksEncrypted(data []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	return len(trimmed) == 0 || trimmed[0] != '<'
}
