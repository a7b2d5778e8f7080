/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// SigningKey maps a verified-boot public key fingerprint to private key material on disk.
type SigningKey struct {
	ID          int64
	Fingerprint string // lower-case hex SHA-1 of the AVB public key blob
	KeyPath     string
	Label       string
	CreatedAt   time.Time
}
