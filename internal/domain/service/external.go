/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/arbkit/internal/domain/model"
)

// SigningInspector produces the textual signing-info report of an image.
type SigningInspector interface {
	Inspect(ctx context.Context, imagePath string) (string, error)
}

// HashFooterRequest re-applies a hash footer in place over ImagePath.
type HashFooterRequest struct {
	ImagePath     string
	KeyPath       string
	Algorithm     string
	PartitionSize uint64
	PartitionName string
	RollbackIndex uint64
	Salt          []byte
	Flags         uint32
	Properties    model.Properties
}

// AggregateImageRequest builds a descriptor-only signing container.
type AggregateImageRequest struct {
	OutputPath             string
	KeyPath                string
	Algorithm              string
	RollbackIndex          uint64
	Flags                  uint32
	IncludeDescriptorsFrom string
}

// SigningTool writes signing structures.
type SigningTool interface {
	AddHashFooter(ctx context.Context, req HashFooterRequest) error
	MakeAggregateImage(ctx context.Context, req AggregateImageRequest) error
}

// DebugBridge is the normal-OS debug bridge.
type DebugBridge interface {
	Connected(ctx context.Context) (bool, error)
	GetProp(ctx context.Context, name string) (string, error)
	Reboot(ctx context.Context, target string) error
}

// Bootloader is the fastboot facility.
type Bootloader interface {
	Connected(ctx context.Context) (bool, error)
	GetVar(ctx context.Context, name string) (string, error)
	Reboot(ctx context.Context, target string) error
}

// ReadRequest dumps SectorCount sectors at StartSector of LUN into OutputPath.
type ReadRequest struct {
	Port        string
	LUN         int
	StartSector uint64
	SectorCount uint64
	OutputPath  string
}

// WriteRequest writes ImagePath at StartSector of LUN.
type WriteRequest struct {
	Port        string
	LUN         int
	StartSector uint64
	ImagePath   string
}

// HardwareTransport talks to a device in emergency-download mode through the vendor loader.
type HardwareTransport interface {
	// Detect reports the port of an attached device in emergency-download mode.
	Detect(ctx context.Context) (port string, found bool, err error)
	LoadProgrammer(ctx context.Context, port string) error
	ReadPartition(ctx context.Context, req ReadRequest) error
	WritePartition(ctx context.Context, req WriteRequest) error
	Reset(ctx context.Context, port string) error
}

// EventSink receives progress events.
type EventSink interface {
	Emit(ctx context.Context, e model.Event)
}
