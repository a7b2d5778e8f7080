/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import "time"

// FlashSession groups the milestones of one orchestrated operation.
type FlashSession struct {
	ID          int64
	UUID        string
	Operation   string
	CreatedAt   time.Time
	CompletedAt *time.Time // NULL while in progress or after an abort
	Failure     string
}

// Milestone is a completed step of a flash session.
type Milestone struct {
	ID        int64
	SessionID int64
	Step      string
	Detail    []byte // CBOR
	CreatedAt time.Time
}
