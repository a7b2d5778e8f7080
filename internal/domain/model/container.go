/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// DecryptedPayload is the plaintext layout of an encrypted manifest container.
type DecryptedPayload struct {
	OriginalSize int64
	Magic        [8]byte
	Body         []byte
	Checksum     [32]byte
}
