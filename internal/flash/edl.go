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

	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/util"
)

// DumpPartitions reads devinfo, persist and any extra labels into the backup directory and
// returns the written paths. Unresolvable labels are skipped and read failures do not stop
// the remaining targets; they are reported together once the flow ends.
func (f *Flasher) DumpPartitions(ctx context.Context, extra ...string) (written []string, err error) {
	const step = "dump"
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

	if err := os.MkdirAll(f.BackupDir(), 0o755); err != nil {
		return nil, err
	}
	if err := f.deps.Controller.Reach(ctx, model.ModeEmergencyDownload); err != nil {
		return nil, err
	}
	port := f.deps.Controller.Port()
	j.mark(ctx, "edl-reached", nil)
	if err := f.loadProgrammer(ctx, step, port, false); err != nil {
		return nil, err
	}

	var failures []error
	for _, label := range dedupe(append(append([]string{}, DefaultDumpTargets...), extra...)) {
		rec, rerr := f.deps.Catalog.Resolve(label)
		if rerr != nil {
			f.emit(ctx, model.EventWarning, step, "skipping "+label+": "+rerr.Error(), nil)
			continue
		}
		out := filepath.Join(f.BackupDir(), imageName(label))
		rerr = f.deps.Transport.ReadPartition(ctx, service.ReadRequest{
			Port: port, LUN: rec.LUN, StartSector: rec.StartSector, SectorCount: rec.SectorCount, OutputPath: out,
		})
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			f.emit(ctx, model.EventError, step, "reading "+label+" failed: "+rerr.Error(), nil)
			failures = append(failures, fmt.Errorf("%s: %w", label, rerr))
		} else {
			written = append(written, out)
			j.mark(ctx, label+"-read", detailOf(rec, out))
			f.emit(ctx, model.EventSuccess, step, "partition saved", map[string]any{"label": label, "path": out})
		}
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
	if len(failures) > 0 {
		return written, fmt.Errorf("%w: %w", ErrReadFailed, errors.Join(failures...))
	}
	return written, nil
}

// WritePartitions writes <label>.img from dir back to each label. Missing images are
// skipped; any write failure aborts. With no labels, devinfo and persist from the
// partitions output directory are written.
func (f *Flasher) WritePartitions(ctx context.Context, dir string, labels ...string) (err error) {
	const step = "write"
	if dir == "" {
		dir = f.PartitionsDir()
	}
	if len(labels) == 0 {
		labels = DefaultDumpTargets
	}
	if st, statErr := os.Stat(dir); statErr != nil || !st.IsDir() {
		return fmt.Errorf("%w: %s", ErrImagesDirMissing, dir)
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

	if err := f.deps.Controller.Reach(ctx, model.ModeEmergencyDownload); err != nil {
		return err
	}
	port := f.deps.Controller.Port()
	j.mark(ctx, "edl-reached", nil)
	if err := f.loadProgrammer(ctx, step, port, false); err != nil {
		return err
	}

	for _, label := range dedupe(labels) {
		image := filepath.Join(dir, imageName(label))
		if _, statErr := os.Stat(image); statErr != nil {
			f.emit(ctx, model.EventWarning, step, "skipping "+label+": "+imageName(label)+" not found", nil)
			continue
		}
		rec, err := f.deps.Catalog.Resolve(label)
		if err != nil {
			return err
		}
		if err := f.writeOne(ctx, step, port, rec, image); err != nil {
			return err
		}
		j.mark(ctx, label+"-written", detailOf(rec, image))
	}

	if !f.opts.SkipReset {
		if err := f.deps.Transport.Reset(ctx, port); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.emit(ctx, model.EventWarning, step, "reset failed, reboot the device manually: "+err.Error(), nil)
		} else {
			j.mark(ctx, "reset", nil)
		}
	}
	f.emit(ctx, model.EventSuccess, step, "partitions written", nil)
	return nil
}

func dedupe(labels []string) []string {
	seen := util.NewSet[string]()
	var out []string
	for _, l := range labels {
		if l == "" || seen.Has(l) {
			continue
		}
		seen.Add(l)
		out = append(out, l)
	}
	return out
}
