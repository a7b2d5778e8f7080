/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// PartitionRecord is the physical addressing of one partition as declared by a manifest.
type PartitionRecord struct {
	Label          string
	LUN            int
	StartSector    uint64
	SectorCount    uint64
	Filename       string
	SourceManifest string
}
