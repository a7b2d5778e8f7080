/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package receipt issues COSE_Sign1 signed records of rollback patch runs.
package receipt

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/util"
	"github.com/veraison/go-cose"
)

// Entry records the outcome for one image.
type Entry struct {
	Label          string `cbor:"1,keyasint"`
	Patched        bool   `cbor:"2,keyasint"`
	PreviousIndex  uint64 `cbor:"3,keyasint"`
	RollbackIndex  uint64 `cbor:"4,keyasint"`
	KeyFingerprint string `cbor:"5,keyasint,omitempty"`
	OutputName     string `cbor:"6,keyasint"`
	OutputDigest   []byte `cbor:"7,keyasint"` // SHA-256 of the written image
}

// Receipt is the signed payload.
type Receipt struct {
	SessionUUID string  `cbor:"1,keyasint"`
	Operation   string  `cbor:"2,keyasint"`
	IssuedAt    int64   `cbor:"3,keyasint"` // unix seconds
	Entries     []Entry `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// FromResults builds a receipt from patch results, hashing each output image.
func FromResults(sessionUUID, operation string, results []*model.PatchResult, now time.Time) (*Receipt, error) {
	r := &Receipt{SessionUUID: sessionUUID, Operation: operation, IssuedAt: now.Unix()}
	for _, res := range results {
		digest, err := FileDigest(res.OutputPath)
		if err != nil {
			return nil, err
		}
		r.Entries = append(r.Entries, Entry{
			Label:          res.Label,
			Patched:        res.Patched,
			PreviousIndex:  res.PreviousIndex,
			RollbackIndex:  res.RollbackIndex,
			KeyFingerprint: res.KeyFingerprint,
			OutputName:     filepath.Base(res.OutputPath),
			OutputDigest:   digest,
		})
	}
	return r, nil
}

// FileDigest returns the SHA-256 of the file at path.
func FileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// KeyID is the SHA-256 of the PKIX encoding of pub.
func KeyID(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(der)
	return sum[:], nil
}

// Sign encodes r and signs it with ES256. The key id goes into the unprotected header.
func Sign(r *Receipt, key *ecdsa.PrivateKey) ([]byte, error) {
	payload, err := encMode.Marshal(r)
	if err != nil {
		return nil, err
	}
	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = kid
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// Decode parses a signed receipt without checking the signature.
func Decode(data []byte) (*Receipt, []byte, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	var r Receipt
	if err := cbor.Unmarshal(msg.Payload, &r); err != nil {
		return nil, nil, fmt.Errorf("%w: payload: %v", ErrInvalidReceipt, err)
	}
	return &r, extractKID(msg), nil
}

// Payload returns the raw CBOR payload of a signed receipt.
func Payload(data []byte) ([]byte, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	return msg.Payload, nil
}

// Verify checks the signature of a receipt against pub and returns its content.
func Verify(data []byte, pub *ecdsa.PublicKey) (*Receipt, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}
	if kid := extractKID(msg); kid != nil {
		want, err := KeyID(pub)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(kid, want) {
			return nil, ErrReceiptKeyMismatch
		}
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, err
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, ErrReceiptNotAuthenticated
	}
	var r Receipt
	if err := cbor.Unmarshal(msg.Payload, &r); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidReceipt, err)
	}
	return &r, nil
}

// KeyNames labels the integer keys of a receipt payload for display.
var KeyNames = &util.KeyNames{
	Names: map[uint64]string{1: "session_uuid", 2: "operation", 3: "issued_at", 4: "entries"},
	Children: map[uint64]*util.KeyNames{
		4: {Names: map[uint64]string{
			1: "label", 2: "patched", 3: "previous_index", 4: "rollback_index",
			5: "key_fingerprint", 6: "output_name", 7: "output_digest",
		}},
	},
}

// Render returns the payload of a signed receipt as indented JSON.
func Render(data []byte) (string, error) {
	payload, err := Payload(data)
	if err != nil {
		return "", err
	}
	return util.RenderCBOR(payload, KeyNames)
}

// VerifyOutputs recomputes the digest of each entry's image inside dir.
func (r *Receipt) VerifyOutputs(dir string) error {
	for _, e := range r.Entries {
		digest, err := FileDigest(filepath.Join(dir, e.OutputName))
		if err != nil {
			return err
		}
		if !bytes.Equal(digest, e.OutputDigest) {
			return fmt.Errorf("%w: %s digest mismatch", ErrReceiptNotAuthenticated, e.OutputName)
		}
	}
	return nil
}

func extractKID(msg cose.Sign1Message) []byte {
	if p4, ok := msg.Headers.Protected[cose.HeaderLabelKeyID]; ok {
		if kid, ok := p4.([]byte); ok {
			return kid
		}
		return nil
	}
	if u4, ok := msg.Headers.Unprotected[cose.HeaderLabelKeyID]; ok {
		if kid, ok := u4.([]byte); ok {
			return kid
		}
	}
	return nil
}
