/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import "errors"

var (
	ErrReferenceImagesMissing = errors.New("dumped reference images not found")
	ErrPatchedImagesMissing   = errors.New("patched images not found")
	ErrImagesDirMissing       = errors.New("images directory not found")
	ErrNoCatalog              = errors.New("partition catalog not loaded")
	ErrReadFailed             = errors.New("partition read failed")
)
