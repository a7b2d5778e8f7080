/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// DeviceMode is the communication mode a device was last observed in.
type DeviceMode int

const (
	ModeUnknown DeviceMode = iota
	ModeSystemDebugBridge
	ModeBootloaderFastboot
	ModeEmergencyDownload
)

func (m DeviceMode) String() string {
	switch m {
	case ModeSystemDebugBridge:
		return "adb"
	case ModeBootloaderFastboot:
		return "fastboot"
	case ModeEmergencyDownload:
		return "edl"
	default:
		return "unknown"
	}
}

// TransitionOutcome tells the caller whether a mode change was issued or needs the operator.
type TransitionOutcome int

const (
	TransitionIssued TransitionOutcome = iota
	AlreadyInMode
	ManualActionRequired
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionIssued:
		return "issued"
	case AlreadyInMode:
		return "already-in-mode"
	case ManualActionRequired:
		return "manual-action-required"
	default:
		return "invalid"
	}
}

// Transition is the result of a mode change request.
type Transition struct {
	From        DeviceMode
	To          DeviceMode
	Outcome     TransitionOutcome
	Instruction string // set when Outcome == ManualActionRequired
}

// SlotDetection is the result of active slot discovery.
type SlotDetection struct {
	Suffix  string     // "_a", "_b" or "" for slotless operation
	Source  DeviceMode // mode whose facility answered, ModeUnknown when nothing did
	Warning string
}
