/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

type EventKind int

const (
	EventInfo EventKind = iota
	EventSuccess
	EventWarning
	EventManualAction
	EventError
)

// Event is a progress record. Rendering and localisation happen outside the core.
type Event struct {
	Kind    EventKind
	Step    string
	Message string
	Fields  map[string]any
}
