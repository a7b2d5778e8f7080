/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

type ComparisonStatus int

const (
	StatusMatch ComparisonStatus = iota
	StatusNeedsPatch
	StatusMissingCandidate
	StatusError
)

func (s ComparisonStatus) String() string {
	switch s {
	case StatusMatch:
		return "MATCH"
	case StatusNeedsPatch:
		return "NEEDS_PATCH"
	case StatusMissingCandidate:
		return "MISSING_NEW"
	default:
		return "ERROR"
	}
}

// RollbackComparison is produced once per comparison run and consumed by the patch step.
type RollbackComparison struct {
	Status           ComparisonStatus
	ReferenceIndices map[string]uint64
	CandidateIndices map[string]uint64
}

// PatchResult describes what a patch operation wrote.
type PatchResult struct {
	Label          string
	OutputPath     string
	Patched        bool // false when the candidate was copied unchanged
	PreviousIndex  uint64
	RollbackIndex  uint64
	KeyFingerprint string
}
