/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/catalog"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/container"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/flash"
	"github.com/kentakayama/arbkit/internal/infra/tool"
	"github.com/kentakayama/arbkit/internal/receipt"
	"github.com/kentakayama/arbkit/internal/util"
)

func parseFlags(name string, args []string, setup func(fs *flag.FlagSet)) ([]string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func cmdDecrypt(_ context.Context, a *app, args []string) error {
	in, out := a.cfg.ImageDir, a.cfg.AllManifestDirs()[0]
	if _, err := parseFlags("decrypt", args, func(fs *flag.FlagSet) {
		fs.StringVar(&in, "in", in, "directory holding *.x containers")
		fs.StringVar(&out, "out", out, "directory for decrypted manifests")
	}); err != nil {
		return err
	}
	written, err := catalog.DecryptDir(in, out, []byte(a.cfg.ManifestSecret))
	for _, p := range written {
		fmt.Fprintf(a.out, "%s %s\n", colorOK("decrypted"), p)
	}
	return err
}

func cmdSeal(_ context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: seal <in.xml> <out.x>")
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	iv := make([]byte, container.IVSize)
	salt := make([]byte, container.SaltSize)
	if _, err := rand.Read(iv); err != nil {
		return err
	}
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	sealed, err := container.Encode(body, []byte(a.cfg.ManifestSecret), iv, salt)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], sealed, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s (%d bytes)\n", colorOK("sealed"), args[1], len(sealed))
	return nil
}

func cmdCatalog(_ context.Context, a *app, _ []string) error {
	c, err := a.catalog()
	if err != nil {
		return err
	}
	renderRecords(a.out, c.Records())
	return nil
}

func cmdResolve(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: resolve <label>...")
	}
	c, err := a.catalog()
	if err != nil {
		return err
	}
	var (
		found []model.PartitionRecord
		errs  []error
	)
	for _, label := range args {
		rec, err := c.Resolve(label)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found = append(found, rec)
	}
	renderRecords(a.out, found)
	return errors.Join(errs...)
}

func cmdInfo(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: info <image>...")
	}
	avbtool := tool.NewAvbtool(a.runner, a.cfg.Tools)
	engine := avb.NewEngine(avbtool, avbtool, nil, a.log)
	for _, path := range args {
		md, err := engine.Inspect(ctx, path)
		if err != nil {
			return err
		}
		renderMetadata(a.out, path, md)
	}
	return nil
}

// compareAntiRollback dumps the device references unless skipDump is set, then compares.
func compareAntiRollback(ctx context.Context, a *app, name string, args []string) (*flash.Flasher, model.RollbackComparison, error) {
	var skipDump bool
	if _, err := parseFlags(name, args, func(fs *flag.FlagSet) {
		fs.BoolVar(&skipDump, "skip-dump", false, "reuse the images already in work_dir/backup")
	}); err != nil {
		return nil, model.RollbackComparison{}, err
	}
	f, err := a.flasher(ctx, !skipDump)
	if err != nil {
		return nil, model.RollbackComparison{}, err
	}
	if !skipDump {
		if _, err := f.DumpAntiRollback(ctx); err != nil {
			printSession(a, f.LastSession())
			return f, model.RollbackComparison{Status: model.StatusError}, err
		}
	}
	cmp, err := f.ReadAntiRollback(ctx)
	renderComparison(a.out, cmp)
	return f, cmp, err
}

func cmdARBDump(ctx context.Context, a *app, _ []string) error {
	f, err := a.flasher(ctx, true)
	if err != nil {
		return err
	}
	written, err := f.DumpAntiRollback(ctx)
	for _, p := range written {
		fmt.Fprintf(a.out, "%s %s\n", colorOK("saved"), p)
	}
	printSession(a, f.LastSession())
	return err
}

func cmdARBCheck(ctx context.Context, a *app, args []string) error {
	_, cmp, err := compareAntiRollback(ctx, a, "arb-check", args)
	if err != nil {
		return err
	}
	if cmp.Status == model.StatusMissingCandidate {
		return errors.New("new images are missing")
	}
	return nil
}

func cmdARBPatch(ctx context.Context, a *app, args []string) error {
	f, cmp, err := compareAntiRollback(ctx, a, "arb-patch", args)
	if err != nil {
		return err
	}
	rep, err := f.PatchAntiRollback(ctx, cmp)
	if err != nil {
		return err
	}
	renderPatchReport(a.out, rep)
	return nil
}

func cmdARBWrite(ctx context.Context, a *app, _ []string) error {
	f, err := a.flasher(ctx, true)
	if err != nil {
		return err
	}
	err = f.WriteAntiRollback(ctx)
	printSession(a, f.LastSession())
	return err
}

func cmdDump(ctx context.Context, a *app, args []string) error {
	f, err := a.flasher(ctx, true)
	if err != nil {
		return err
	}
	written, err := f.DumpPartitions(ctx, args...)
	for _, p := range written {
		fmt.Fprintf(a.out, "%s %s\n", colorOK("saved"), p)
	}
	printSession(a, f.LastSession())
	return err
}

func cmdWrite(ctx context.Context, a *app, args []string) error {
	var dir string
	labels, err := parseFlags("write", args, func(fs *flag.FlagSet) {
		fs.StringVar(&dir, "dir", "", "directory of <label>.img files (default: work_dir/output_dp)")
	})
	if err != nil {
		return err
	}
	f, err := a.flasher(ctx, true)
	if err != nil {
		return err
	}
	err = f.WritePartitions(ctx, dir, labels...)
	printSession(a, f.LastSession())
	return err
}

func cmdKeys(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: keys add|list|seed")
	}
	kr, err := a.keyring(ctx)
	if err != nil {
		return err
	}
	switch args[0] {
	case "add":
		var (
			label, fingerprint string
			replace            bool
		)
		rest, err := parseFlags("keys add", args[1:], func(fs *flag.FlagSet) {
			fs.StringVar(&label, "label", "", "key label (default: file name)")
			fs.StringVar(&fingerprint, "fingerprint", "", "expected public key SHA-1")
			fs.BoolVar(&replace, "replace", false, "replace an existing registration of the same key")
		})
		if err != nil {
			return err
		}
		if len(rest) != 1 {
			return errors.New("usage: keys add [-label name] [-fingerprint sha1] [-replace] <key.pem>")
		}
		if label == "" {
			label = trimExt(filepath.Base(rest[0]))
		}
		key, err := kr.Register(ctx, label, rest[0], fingerprint, replace)
		if err != nil {
			return err
		}
		renderKeys(a.out, []*model.SigningKey{key})
	case "list":
		keys, err := kr.List(ctx)
		if err != nil {
			return err
		}
		renderKeys(a.out, keys)
	case "seed":
		n, err := kr.Seed(ctx, a.cfg.Keys)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s %d of %d configured keys\n", colorOK("registered"), n, len(a.cfg.Keys))
	default:
		return fmt.Errorf("unknown keys command %q", args[0])
	}
	return nil
}

func cmdReceipt(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: receipt show|verify <file>")
	}
	switch args[0] {
	case "show":
		if len(args) != 2 {
			return errors.New("usage: receipt show <file>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		out, err := receipt.Render(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, out)
	case "verify":
		var dir string
		rest, err := parseFlags("receipt verify", args[1:], func(fs *flag.FlagSet) {
			fs.StringVar(&dir, "dir", "", "directory of the images (default: the receipt's directory)")
		})
		if err != nil {
			return err
		}
		if len(rest) != 1 {
			return errors.New("usage: receipt verify [-dir dir] <file>")
		}
		key, err := config.LoadReceiptKey(a.cfg)
		if err != nil {
			return err
		}
		if key == nil {
			return errors.New("no receipt key configured")
		}
		data, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		r, err := receipt.Verify(data, &key.PublicKey)
		if err != nil {
			return err
		}
		if dir == "" {
			dir = filepath.Dir(rest[0])
		}
		if err := r.VerifyOutputs(dir); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s session %s, %d images match\n", colorOK("verified"), r.SessionUUID, len(r.Entries))
	default:
		return fmt.Errorf("unknown receipt command %q", args[0])
	}
	return nil
}

func cmdSlot(ctx context.Context, a *app, _ []string) error {
	det, err := a.controller().DetectActiveSlot(ctx, a.cfg.SkipADB)
	if err != nil {
		return err
	}
	suffix := det.Suffix
	if suffix == "" {
		suffix = "(none)"
	}
	fmt.Fprintf(a.out, "%s: %s (via %s)\n", colorField("Active slot"), suffix, det.Source)
	return nil
}

func cmdSession(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: session <uuid>")
	}
	f, err := a.flasher(ctx, false)
	if err != nil {
		return err
	}
	st, err := f.Session(ctx, args[0])
	if err != nil {
		return err
	}
	renderSession(a.out, st, func(detail []byte) string {
		if len(detail) == 0 {
			return ""
		}
		s, err := util.RenderCBOR(detail, nil)
		if err != nil {
			return fmt.Sprintf("h'%x'", detail)
		}
		return s
	})
	return nil
}

func printSession(a *app, id string) {
	if id != "" {
		fmt.Fprintf(a.out, "%s: %s\n", colorField("Session"), id)
	}
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
