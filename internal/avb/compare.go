/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"github.com/kentakayama/arbkit/internal/domain/model"
)

// Sufficient reports whether a candidate index may be flashed over a reference index.
func Sufficient(candidate, reference uint64) bool {
	return candidate >= reference
}

// Compare checks every reference image against the candidate of the same label.
// A missing candidate dominates a lower index; an empty or nil reference is an error.
func Compare(reference, candidate map[string]*model.SigningMetadata) model.RollbackComparison {
	out := model.RollbackComparison{
		Status:           model.StatusMatch,
		ReferenceIndices: make(map[string]uint64, len(reference)),
		CandidateIndices: make(map[string]uint64, len(candidate)),
	}
	if len(reference) == 0 {
		out.Status = model.StatusError
		return out
	}

	missing, lower := false, false
	for label, ref := range reference {
		if ref == nil {
			out.Status = model.StatusError
			return out
		}
		out.ReferenceIndices[label] = ref.RollbackIndex

		cand, ok := candidate[label]
		if !ok || cand == nil {
			missing = true
			continue
		}
		out.CandidateIndices[label] = cand.RollbackIndex
		if !Sufficient(cand.RollbackIndex, ref.RollbackIndex) {
			lower = true
		}
	}

	switch {
	case missing:
		out.Status = model.StatusMissingCandidate
	case lower:
		out.Status = model.StatusNeedsPatch
	}
	return out
}
