/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package flash sequences the anti-rollback and partition flows over a device.
package flash

import (
	"context"
	"crypto/ecdsa"
	"path/filepath"
	"time"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/device"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/event"
	"github.com/sirupsen/logrus"
)

const (
	LabelBoot         = "boot"
	LabelVbmetaSystem = "vbmeta_system"

	BackupDirName       = "backup"
	AntiRollbackDirName = "output_anti_rollback"
	PartitionsDirName   = "output_dp"
	ReceiptFileName     = "receipt.cose"
)

// DefaultDumpTargets are always dumped by DumpPartitions.
var DefaultDumpTargets = []string{"devinfo", "persist"}

// ModeController is the part of device.Controller the flows drive.
type ModeController interface {
	Reach(ctx context.Context, target model.DeviceMode) error
	DetectActiveSlot(ctx context.Context, skipBridge bool) (model.SlotDetection, error)
	Port() string
}

// Resolver maps a partition label to its physical location.
type Resolver interface {
	Resolve(label string) (model.PartitionRecord, error)
}

// Deps are the collaborators of a Flasher. Catalog, Sessions, Milestones and ReceiptKey
// may be nil.
type Deps struct {
	Controller ModeController
	Transport  service.HardwareTransport
	Engine     *avb.Engine
	Catalog    Resolver
	Sessions   service.FlashSessionRepository
	Milestones service.MilestoneRepository
	Sink       service.EventSink
	ReceiptKey *ecdsa.PrivateKey
	Logger     logrus.FieldLogger
}

// Options locate the working directories and tune the flows.
type Options struct {
	ImageDir  string
	WorkDir   string
	Delays    config.DelayConfig
	SkipReset bool
}

// Flasher runs one flow at a time against the attached device.
type Flasher struct {
	deps  Deps
	opts  Options
	sink  service.EventSink
	log   logrus.FieldLogger
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	lastSession string
}

func NewFlasher(deps Deps, opts Options) *Flasher {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Flasher{
		deps:  deps,
		opts:  opts,
		sink:  event.OrDiscard(deps.Sink),
		log:   logger,
		sleep: device.Sleep,
		now:   time.Now,
	}
}

func (f *Flasher) BackupDir() string {
	return filepath.Join(f.opts.WorkDir, BackupDirName)
}

func (f *Flasher) AntiRollbackDir() string {
	return filepath.Join(f.opts.WorkDir, AntiRollbackDirName)
}

func (f *Flasher) PartitionsDir() string {
	return filepath.Join(f.opts.WorkDir, PartitionsDirName)
}

func (f *Flasher) emit(ctx context.Context, kind model.EventKind, step, msg string, fields map[string]any) {
	f.sink.Emit(ctx, model.Event{Kind: kind, Step: step, Message: msg, Fields: fields})
}

func imageName(label string) string {
	return label + ".img"
}
