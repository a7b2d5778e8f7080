/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package receipt

import "errors"

var (
	ErrInvalidReceipt          = errors.New("invalid receipt")
	ErrReceiptNotAuthenticated = errors.New("receipt not authenticated")
	ErrReceiptKeyMismatch      = errors.New("receipt is signed by another key")
)
