/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/receipt"
	"github.com/sirupsen/logrus"
)

var arbLabels = []string{LabelBoot, LabelVbmetaSystem}

// PatchReport is the outcome of PatchAntiRollback.
type PatchReport struct {
	SessionUUID string
	Results     []*model.PatchResult
	ReceiptPath string
}

func labelPaths(dir string) map[string]string {
	out := make(map[string]string, len(arbLabels))
	for _, l := range arbLabels {
		out[l] = filepath.Join(dir, imageName(l))
	}
	return out
}

// DumpAntiRollback reads boot and vbmeta_system of the active slot into the backup directory
// under their unslotted names, where ReadAntiRollback looks for them. Earlier dumps are
// removed first so that a failed read never leaves a stale reference behind.
func (f *Flasher) DumpAntiRollback(ctx context.Context) (written []string, err error) {
	const step = "arb-dump"
	if f.deps.Catalog == nil {
		return nil, ErrNoCatalog
	}
	j := f.begin(ctx, step)
	defer func() {
		if err != nil {
			f.emit(ctx, model.EventError, step, err.Error(), nil)
		}
		err = j.finish(ctx, err)
	}()

	refPaths := labelPaths(f.BackupDir())
	if err := os.MkdirAll(f.BackupDir(), 0o755); err != nil {
		return nil, err
	}
	for _, p := range refPaths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	det, err := f.deps.Controller.DetectActiveSlot(ctx, true)
	if err != nil {
		return nil, err
	}
	j.mark(ctx, "slot-detected", slotDetail{Suffix: det.Suffix, Source: det.Source.String(), Warning: det.Warning})
	f.emit(ctx, model.EventInfo, step, "active slot", map[string]any{"suffix": det.Suffix})

	recs := make(map[string]model.PartitionRecord, len(arbLabels))
	for _, l := range arbLabels {
		rec, err := f.deps.Catalog.Resolve(l + det.Suffix)
		if err != nil {
			return nil, err
		}
		recs[l] = rec
	}

	if err := f.deps.Controller.Reach(ctx, model.ModeEmergencyDownload); err != nil {
		return nil, err
	}
	port := f.deps.Controller.Port()
	j.mark(ctx, "edl-reached", nil)
	if err := f.loadProgrammer(ctx, step, port, false); err != nil {
		return nil, err
	}

	for _, l := range arbLabels {
		rec, out := recs[l], refPaths[l]
		f.log.WithFields(logrus.Fields{"label": rec.Label, "lun": rec.LUN, "start": rec.StartSector}).Info("reading partition")
		err := f.deps.Transport.ReadPartition(ctx, service.ReadRequest{
			Port: port, LUN: rec.LUN, StartSector: rec.StartSector, SectorCount: rec.SectorCount, OutputPath: out,
		})
		if err != nil {
			return written, fmt.Errorf("reading %s: %w", rec.Label, err)
		}
		written = append(written, out)
		j.mark(ctx, rec.Label+"-read", detailOf(rec, out))
		f.emit(ctx, model.EventSuccess, step, "partition saved", map[string]any{"label": rec.Label, "path": out})
		if err := f.sleep(ctx, f.opts.Delays.BetweenOperations()); err != nil {
			return written, err
		}
	}

	if !f.opts.SkipReset {
		if err := f.deps.Transport.Reset(ctx, port); err != nil {
			return written, err
		}
		j.mark(ctx, "reset", nil)
		if err := f.sleep(ctx, f.opts.Delays.AfterReset()); err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadAntiRollback compares the rollback indices of the dumped device images against the
// new images. Failures are reported as StatusError alongside the cause.
func (f *Flasher) ReadAntiRollback(ctx context.Context) (model.RollbackComparison, error) {
	const step = "arb-check"
	failed := model.RollbackComparison{Status: model.StatusError}

	refPaths := labelPaths(f.BackupDir())
	for _, p := range refPaths {
		if _, err := os.Stat(p); err != nil {
			err = fmt.Errorf("%w: %s", ErrReferenceImagesMissing, p)
			f.emit(ctx, model.EventError, step, err.Error(), nil)
			return failed, err
		}
	}
	reference, err := f.deps.Engine.InspectAll(ctx, refPaths)
	if err != nil {
		f.emit(ctx, model.EventError, step, "reading dumped images: "+err.Error(), nil)
		return failed, err
	}
	for _, l := range arbLabels {
		f.emit(ctx, model.EventInfo, step, "device rollback index", map[string]any{"label": l, "index": reference[l].RollbackIndex})
	}

	candidate, err := f.deps.Engine.InspectAll(ctx, labelPaths(f.opts.ImageDir))
	if err != nil {
		f.emit(ctx, model.EventError, step, "reading new images: "+err.Error(), nil)
		return failed, err
	}
	cmp := avb.Compare(reference, candidate)
	for l, idx := range cmp.CandidateIndices {
		f.emit(ctx, model.EventInfo, step, "new rollback index", map[string]any{"label": l, "index": idx})
	}

	switch cmp.Status {
	case model.StatusMatch:
		f.emit(ctx, model.EventSuccess, step, "rollback indices sufficient, no patch needed", nil)
	case model.StatusNeedsPatch:
		f.emit(ctx, model.EventWarning, step, "new images would be rejected, patch required", nil)
	case model.StatusMissingCandidate:
		f.emit(ctx, model.EventError, step, fmt.Sprintf("boot.img or vbmeta_system.img missing from %s", f.opts.ImageDir), nil)
	}
	return cmp, nil
}

// PatchAntiRollback rewrites the new images with the device's rollback indices into the
// anti-rollback output directory. Nothing is written unless cmp requires a patch. On failure
// the output directory is removed.
func (f *Flasher) PatchAntiRollback(ctx context.Context, cmp model.RollbackComparison) (report *PatchReport, err error) {
	const step = "arb-patch"
	outDir := f.AntiRollbackDir()
	if err := os.RemoveAll(outDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if cmp.Status != model.StatusNeedsPatch {
		f.emit(ctx, model.EventInfo, step, "no patching required ("+cmp.Status.String()+")", nil)
		return &PatchReport{}, nil
	}

	j := f.begin(ctx, step)
	report = &PatchReport{SessionUUID: j.session.UUID}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(outDir); rmErr != nil {
				f.log.WithError(rmErr).Warn("output directory not removed")
			}
			f.emit(ctx, model.EventError, step, err.Error(), nil)
			report = nil
		}
		err = j.finish(ctx, err)
	}()

	patches := []struct {
		label string
		patch func(context.Context, string, string, uint64) (*model.PatchResult, error)
	}{
		{LabelBoot, f.deps.Engine.PatchChainedImage},
		{LabelVbmetaSystem, f.deps.Engine.PatchAggregateImage},
	}
	for _, p := range patches {
		in := filepath.Join(f.opts.ImageDir, imageName(p.label))
		out := filepath.Join(outDir, imageName(p.label))
		res, perr := p.patch(ctx, in, out, cmp.ReferenceIndices[p.label])
		if perr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(perr, domain.ErrUnknownSigningKey) {
				return nil, fmt.Errorf("%w: %s: %w", domain.ErrRollbackRegressionUnresolvable, p.label, perr)
			}
			return nil, fmt.Errorf("%s: %w", p.label, perr)
		}
		res.Label = p.label
		report.Results = append(report.Results, res)
		j.mark(ctx, p.label+"-patched", patchDetail{Label: p.label, Patched: res.Patched, PreviousIndex: res.PreviousIndex, RollbackIndex: res.RollbackIndex})
		f.emit(ctx, model.EventSuccess, step, "image ready", map[string]any{
			"label": p.label, "patched": res.Patched, "index": res.RollbackIndex,
		})
	}

	if f.deps.ReceiptKey != nil {
		path, rerr := f.writeReceipt(j.session.UUID, step, report.Results)
		if rerr != nil {
			return nil, rerr
		}
		report.ReceiptPath = path
		j.mark(ctx, "receipt-written", nil)
	}
	f.emit(ctx, model.EventSuccess, step, "patched images are in "+outDir, nil)
	return report, nil
}

func (f *Flasher) writeReceipt(sessionUUID, operation string, results []*model.PatchResult) (string, error) {
	r, err := receipt.FromResults(sessionUUID, operation, results, f.now())
	if err != nil {
		return "", err
	}
	signed, err := receipt.Sign(r, f.deps.ReceiptKey)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.AntiRollbackDir(), ReceiptFileName)
	if err := os.WriteFile(path, signed, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteAntiRollback flashes the patched images into the active slot over emergency download.
func (f *Flasher) WriteAntiRollback(ctx context.Context) (err error) {
	const step = "arb-write"
	images := labelPaths(f.AntiRollbackDir())
	for _, p := range images {
		if _, statErr := os.Stat(p); statErr != nil {
			return fmt.Errorf("%w: %s", ErrPatchedImagesMissing, p)
		}
	}
	if f.deps.Catalog == nil {
		return ErrNoCatalog
	}

	j := f.begin(ctx, step)
	defer func() {
		if err != nil {
			f.emit(ctx, model.EventError, step, err.Error(), nil)
		}
		err = j.finish(ctx, err)
	}()

	det, err := f.deps.Controller.DetectActiveSlot(ctx, true)
	if err != nil {
		return err
	}
	j.mark(ctx, "slot-detected", slotDetail{Suffix: det.Suffix, Source: det.Source.String(), Warning: det.Warning})
	f.emit(ctx, model.EventInfo, step, "active slot", map[string]any{"suffix": det.Suffix})

	if err := f.deps.Controller.Reach(ctx, model.ModeEmergencyDownload); err != nil {
		return err
	}
	port := f.deps.Controller.Port()
	j.mark(ctx, "edl-reached", nil)
	if err := f.loadProgrammer(ctx, step, port, true); err != nil {
		return err
	}

	for _, l := range arbLabels {
		target := l + det.Suffix
		rec, err := f.deps.Catalog.Resolve(target)
		if err != nil {
			return err
		}
		if err := f.writeOne(ctx, step, port, rec, images[l]); err != nil {
			return err
		}
		j.mark(ctx, target+"-written", detailOf(rec, images[l]))
	}

	if !f.opts.SkipReset {
		if err := f.deps.Transport.Reset(ctx, port); err != nil {
			return err
		}
		j.mark(ctx, "reset", nil)
	}
	f.emit(ctx, model.EventSuccess, step, "anti-rollback images written", nil)
	return nil
}

// loadProgrammer sends the vendor programmer and waits for it to settle. When fatal is false
// a failure is only reported, since the programmer may already be running.
func (f *Flasher) loadProgrammer(ctx context.Context, step, port string, fatal bool) error {
	if err := f.deps.Transport.LoadProgrammer(ctx, port); err != nil {
		if fatal || ctx.Err() != nil {
			return err
		}
		f.log.WithError(err).Warn("programmer not loaded, it may already be running")
		f.emit(ctx, model.EventWarning, step, "programmer load failed, continuing: "+err.Error(), nil)
	}
	return f.sleep(ctx, f.opts.Delays.AfterProgrammer())
}

func (f *Flasher) writeOne(ctx context.Context, step, port string, rec model.PartitionRecord, image string) error {
	f.log.WithFields(logrus.Fields{"label": rec.Label, "lun": rec.LUN, "start": rec.StartSector}).Info("writing partition")
	err := f.deps.Transport.WritePartition(ctx, service.WriteRequest{
		Port: port, LUN: rec.LUN, StartSector: rec.StartSector, ImagePath: image,
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", rec.Label, err)
	}
	f.emit(ctx, model.EventSuccess, step, "partition written", map[string]any{"label": rec.Label, "image": filepath.Base(image)})
	return nil
}

func detailOf(rec model.PartitionRecord, path string) partitionDetail {
	return partitionDetail{Label: rec.Label, LUN: rec.LUN, StartSector: rec.StartSector, Path: path}
}
