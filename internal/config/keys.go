/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadReceiptKey loads the ECDSA P-256 key used to sign patch receipts.
// A nil key and nil error are returned when no receipt key is configured.
func LoadReceiptKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.ReceiptKeyPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.ReceiptKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading receipt key %q: %w", cfg.ReceiptKeyPath, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("receipt key %q: no PEM block found", cfg.ReceiptKeyPath)
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("receipt key %q: %w", cfg.ReceiptKeyPath, err)
		}
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("receipt key %q: %w", cfg.ReceiptKeyPath, err)
		}
		var ok bool
		if key, ok = parsed.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("receipt key %q: must be ECDSA P-256", cfg.ReceiptKeyPath)
		}
	default:
		return nil, fmt.Errorf("receipt key %q: unsupported PEM type %q", cfg.ReceiptKeyPath, block.Type)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("receipt key %q: must be ECDSA P-256, got %s", cfg.ReceiptKeyPath, key.Curve.Params().Name)
	}
	return key, nil
}
