/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/catalog"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/event"
	"github.com/kentakayama/arbkit/internal/infra/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testFP = "2597c218aae470a130f61162feaae70afd97f011"

const testManifest = `<?xml version="1.0" ?>
<data>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="boot.img" label="boot_a" num_partition_sectors="24576" physical_partition_number="4" start_sector="1000"/>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="boot.img" label="boot_b" num_partition_sectors="24576" physical_partition_number="4" start_sector="30000"/>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="vbmeta_system.img" label="vbmeta_system_a" num_partition_sectors="16" physical_partition_number="4" start_sector="60000"/>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="vbmeta_system.img" label="vbmeta_system_b" num_partition_sectors="16" physical_partition_number="4" start_sector="60016"/>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="" label="devinfo" num_partition_sectors="1" physical_partition_number="4" start_sector="512"/>
  <program SECTOR_SIZE_IN_BYTES="4096" filename="" label="persist" num_partition_sectors="8192" physical_partition_number="4" start_sector="100000"/>
</data>
`

// report renders md the way avbtool info_image prints it.
func report(md *model.SigningMetadata) string {
	var b strings.Builder
	if md.PartitionSizeBytes != nil {
		fmt.Fprintf(&b, "Image size:               %d bytes\n", *md.PartitionSizeBytes)
		b.WriteString("Original image size:      4096 bytes\n")
	}
	if md.PublicKeyFingerprint != nil {
		fmt.Fprintf(&b, "Public key (sha1):        %s\n", *md.PublicKeyFingerprint)
	}
	if md.Algorithm != nil {
		fmt.Fprintf(&b, "Algorithm:                %s\n", *md.Algorithm)
	}
	fmt.Fprintf(&b, "Rollback Index:           %d\n", md.RollbackIndex)
	fmt.Fprintf(&b, "Flags:                    %d\n", md.Flags)
	b.WriteString("Descriptors:\n    Hash descriptor:\n")
	if md.PartitionName != nil {
		fmt.Fprintf(&b, "      Partition Name:        %s\n", *md.PartitionName)
	}
	if md.Salt != nil {
		fmt.Fprintf(&b, "      Salt:                  %s\n", hex.EncodeToString(md.Salt))
	}
	for _, p := range md.Properties {
		fmt.Fprintf(&b, "    Prop: %s -> '%s'\n", p.Key, p.Value)
	}
	return b.String()
}

func imageMeta(name string, index uint64, chained bool) *model.SigningMetadata {
	alg, fp := "SHA256_RSA4096", testFP
	md := &model.SigningMetadata{RollbackIndex: index, Algorithm: &alg, PublicKeyFingerprint: &fp}
	if chained {
		size := uint64(100663296)
		md.PartitionSizeBytes = &size
		md.PartitionName = &name
		md.Salt = []byte{0xde, 0xad}
		md.Properties = model.Properties{{Key: "com.android.build.boot.os_version", Value: "14"}}
	}
	return md
}

// fakeAVB tracks signing metadata per path.
type fakeAVB struct {
	mu      sync.Mutex
	meta    map[string]*model.SigningMetadata
	signErr error
}

func (f *fakeAVB) Inspect(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.meta[path]
	if !ok {
		return "", fmt.Errorf("%s: not an AVB image", path)
	}
	return report(md), nil
}

func (f *fakeAVB) AddHashFooter(_ context.Context, req service.HashFooterRequest) error {
	if f.signErr != nil {
		return f.signErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fp := testFP
	f.meta[req.ImagePath] = &model.SigningMetadata{
		PartitionSizeBytes:   &req.PartitionSize,
		PartitionName:        &req.PartitionName,
		RollbackIndex:        req.RollbackIndex,
		Salt:                 req.Salt,
		Algorithm:            &req.Algorithm,
		PublicKeyFingerprint: &fp,
		Flags:                req.Flags,
		Properties:           req.Properties,
	}
	return nil
}

func (f *fakeAVB) MakeAggregateImage(_ context.Context, req service.AggregateImageRequest) error {
	if f.signErr != nil {
		return f.signErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.meta[req.IncludeDescriptorsFrom]
	if !ok {
		return fmt.Errorf("%s: not an AVB image", req.IncludeDescriptorsFrom)
	}
	f.meta[req.OutputPath] = src.WithRollbackIndex(req.RollbackIndex)
	return os.WriteFile(req.OutputPath, []byte("vbmeta"), 0o644)
}

type staticKeys map[string]*model.SigningKey

func (k staticKeys) FindByFingerprint(_ context.Context, fp string) (*model.SigningKey, error) {
	return k[fp], nil
}

// fakeController is a device that reaches every mode on request.
type fakeController struct {
	slot     model.SlotDetection
	slotErr  error
	reachErr error
	reached  []model.DeviceMode
	port     string
}

func (c *fakeController) Reach(_ context.Context, target model.DeviceMode) error {
	if c.reachErr != nil {
		return c.reachErr
	}
	c.reached = append(c.reached, target)
	return nil
}

func (c *fakeController) DetectActiveSlot(context.Context, bool) (model.SlotDetection, error) {
	return c.slot, c.slotErr
}

func (c *fakeController) Port() string { return c.port }

// fakeTransport writes dumped partitions as small files and records every call.
type fakeTransport struct {
	loads    int
	loadErr  error
	reads    []service.ReadRequest
	readErr  map[uint64]error
	writes   []service.WriteRequest
	writeErr error
	resets   int
	resetErr error
}

func (t *fakeTransport) Detect(context.Context) (string, bool, error) { return "/dev/ttyUSB0", true, nil }

func (t *fakeTransport) LoadProgrammer(context.Context, string) error {
	t.loads++
	return t.loadErr
}

func (t *fakeTransport) ReadPartition(_ context.Context, req service.ReadRequest) error {
	t.reads = append(t.reads, req)
	if err := t.readErr[req.StartSector]; err != nil {
		return err
	}
	return os.WriteFile(req.OutputPath, []byte(fmt.Sprintf("lun%d@%d", req.LUN, req.StartSector)), 0o644)
}

func (t *fakeTransport) WritePartition(_ context.Context, req service.WriteRequest) error {
	t.writes = append(t.writes, req)
	return t.writeErr
}

func (t *fakeTransport) Reset(context.Context, string) error {
	t.resets++
	return t.resetErr
}

type fixture struct {
	flasher    *Flasher
	avb        *fakeAVB
	controller *fakeController
	transport  *fakeTransport
	sink       *event.MemorySink
	sessions   *sqlite.FlashSessionRepository
	milestones *sqlite.MilestoneRepository
	hook       *test.Hook
	imageDir   string
	workDir    string
	sleeps     []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.InitDB(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.CloseDB(db) })

	cat, err := catalog.Build([]catalog.Source{{Name: "rawprogram4.xml", Content: []byte(testManifest)}}, nil, nil)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	fake := &fakeAVB{meta: map[string]*model.SigningMetadata{}}
	keys := staticKeys{testFP: {Fingerprint: testFP, KeyPath: "/keys/testkey_rsa4096.pem", Label: "testkey_rsa4096"}}

	f := &fixture{
		avb:        fake,
		controller: &fakeController{port: "/dev/ttyUSB0", slot: model.SlotDetection{Suffix: "_b", Source: model.ModeBootloaderFastboot}},
		transport:  &fakeTransport{readErr: map[uint64]error{}},
		sink:       event.NewMemorySink(),
		sessions:   sqlite.NewFlashSessionRepository(db),
		milestones: sqlite.NewMilestoneRepository(db),
		hook:       hook,
		imageDir:   t.TempDir(),
		workDir:    t.TempDir(),
	}
	f.flasher = NewFlasher(Deps{
		Controller: f.controller,
		Transport:  f.transport,
		Engine:     avb.NewEngine(fake, fake, keys, logger),
		Catalog:    cat,
		Sessions:   f.sessions,
		Milestones: f.milestones,
		Sink:       f.sink,
		Logger:     logger,
	}, Options{
		ImageDir: f.imageDir,
		WorkDir:  f.workDir,
		Delays: config.DelayConfig{
			PollIntervalMs: 1000, AfterProgrammerMs: 2000, BetweenOperationsMs: 5000, AfterResetMs: 10000,
		},
	})
	f.flasher.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

// image writes an image file and registers its metadata.
func (f *fixture) image(t *testing.T, path string, md *model.SigningMetadata) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("image:"+path), 0o644))
	f.avb.meta[path] = md
}

func (f *fixture) milestoneSteps(t *testing.T, sessionUUID string) []string {
	t.Helper()
	st, err := f.flasher.Session(context.Background(), sessionUUID)
	require.NoError(t, err)
	var steps []string
	for _, m := range st.Milestones {
		steps = append(steps, m.Step)
	}
	return steps
}
