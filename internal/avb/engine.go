/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/sirupsen/logrus"
)

// ErrOutputIsCandidate is returned when a patch would write over its own candidate image.
var ErrOutputIsCandidate = errors.New("output path is the candidate image")

// Engine raises the rollback index of candidate images so they can replace the images
// already trusted by a device.
type Engine struct {
	inspector service.SigningInspector
	signer    service.SigningTool
	keys      service.SigningKeyLookup
	logger    logrus.FieldLogger
}

func NewEngine(inspector service.SigningInspector, signer service.SigningTool, keys service.SigningKeyLookup, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{inspector: inspector, signer: signer, keys: keys, logger: logger}
}

// Inspect returns the signing metadata of the image at path.
func (e *Engine) Inspect(ctx context.Context, path string) (*model.SigningMetadata, error) {
	report, err := e.inspector.Inspect(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", filepath.Base(path), err)
	}
	md, err := Parse(report)
	if err != nil {
		return nil, fmt.Errorf("parse report of %s: %w", filepath.Base(path), err)
	}
	return md, nil
}

// InspectAll inspects each labelled image. Labels whose file does not exist are left out.
func (e *Engine) InspectAll(ctx context.Context, paths map[string]string) (map[string]*model.SigningMetadata, error) {
	out := make(map[string]*model.SigningMetadata, len(paths))
	for label, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		md, err := e.Inspect(ctx, path)
		if err != nil {
			return nil, err
		}
		out[label] = md
	}
	return out, nil
}

// PatchChainedImage writes to outputPath a copy of the candidate whose hash footer carries
// referenceIndex. The candidate is copied unchanged when its index is already sufficient.
func (e *Engine) PatchChainedImage(ctx context.Context, candidatePath, outputPath string, referenceIndex uint64) (res *model.PatchResult, err error) {
	if err := distinctOutput(candidatePath, outputPath); err != nil {
		return nil, err
	}
	md, err := e.Inspect(ctx, candidatePath)
	if err != nil {
		return nil, err
	}
	res, done, err := e.shortCircuit(md, candidatePath, outputPath, referenceIndex)
	if done || err != nil {
		return res, err
	}

	image := filepath.Base(candidatePath)
	if err := requireFields(image, md, fieldPartitionSize, fieldPartitionName, fieldSalt, fieldAlgorithm, fieldFingerprint); err != nil {
		return nil, err
	}
	key, err := e.lookupKey(ctx, image, *md.PublicKeyFingerprint)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"image": image, "from": md.RollbackIndex, "to": referenceIndex}).
		Warn("raising rollback index")

	defer func() {
		if err != nil {
			os.Remove(outputPath)
		}
	}()
	if err = copyFile(candidatePath, outputPath); err != nil {
		return nil, err
	}
	err = e.signer.AddHashFooter(ctx, service.HashFooterRequest{
		ImagePath:     outputPath,
		KeyPath:       key.KeyPath,
		Algorithm:     *md.Algorithm,
		PartitionSize: *md.PartitionSizeBytes,
		PartitionName: *md.PartitionName,
		RollbackIndex: referenceIndex,
		Salt:          md.Salt,
		Flags:         md.Flags,
		Properties:    md.Properties,
	})
	if err != nil {
		return nil, fmt.Errorf("add hash footer to %s: %w", image, err)
	}

	patched, err := e.Inspect(ctx, outputPath)
	if err != nil {
		return nil, err
	}
	if err = verifyChained(md, patched, referenceIndex); err != nil {
		return nil, fmt.Errorf("verify %s: %w", image, err)
	}

	return &model.PatchResult{
		OutputPath:     outputPath,
		Patched:        true,
		PreviousIndex:  md.RollbackIndex,
		RollbackIndex:  referenceIndex,
		KeyFingerprint: key.Fingerprint,
	}, nil
}

// PatchAggregateImage regenerates a descriptor-only signing image at outputPath with
// referenceIndex, importing the descriptors of the candidate.
func (e *Engine) PatchAggregateImage(ctx context.Context, candidatePath, outputPath string, referenceIndex uint64) (res *model.PatchResult, err error) {
	if err := distinctOutput(candidatePath, outputPath); err != nil {
		return nil, err
	}
	md, err := e.Inspect(ctx, candidatePath)
	if err != nil {
		return nil, err
	}
	res, done, err := e.shortCircuit(md, candidatePath, outputPath, referenceIndex)
	if done || err != nil {
		return res, err
	}

	image := filepath.Base(candidatePath)
	if err := requireFields(image, md, fieldAlgorithm, fieldFingerprint); err != nil {
		return nil, err
	}
	key, err := e.lookupKey(ctx, image, *md.PublicKeyFingerprint)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{"image": image, "from": md.RollbackIndex, "to": referenceIndex}).
		Warn("regenerating signing image")

	defer func() {
		if err != nil {
			os.Remove(outputPath)
		}
	}()
	if err = os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, err
	}
	err = e.signer.MakeAggregateImage(ctx, service.AggregateImageRequest{
		OutputPath:             outputPath,
		KeyPath:                key.KeyPath,
		Algorithm:              *md.Algorithm,
		RollbackIndex:          referenceIndex,
		Flags:                  md.Flags,
		IncludeDescriptorsFrom: candidatePath,
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate %s: %w", image, err)
	}

	patched, err := e.Inspect(ctx, outputPath)
	if err != nil {
		return nil, err
	}
	if err = verifyAggregate(md, patched, referenceIndex); err != nil {
		return nil, fmt.Errorf("verify %s: %w", image, err)
	}

	return &model.PatchResult{
		OutputPath:     outputPath,
		Patched:        true,
		PreviousIndex:  md.RollbackIndex,
		RollbackIndex:  referenceIndex,
		KeyFingerprint: key.Fingerprint,
	}, nil
}

func (e *Engine) shortCircuit(md *model.SigningMetadata, candidatePath, outputPath string, referenceIndex uint64) (*model.PatchResult, bool, error) {
	if !Sufficient(md.RollbackIndex, referenceIndex) {
		return nil, false, nil
	}
	e.logger.WithFields(logrus.Fields{"image": filepath.Base(candidatePath), "index": md.RollbackIndex}).
		Info("rollback index sufficient, copying as is")
	if err := copyFile(candidatePath, outputPath); err != nil {
		os.Remove(outputPath)
		return nil, true, err
	}
	res := &model.PatchResult{
		OutputPath:    outputPath,
		PreviousIndex: md.RollbackIndex,
		RollbackIndex: md.RollbackIndex,
	}
	if md.PublicKeyFingerprint != nil {
		res.KeyFingerprint = *md.PublicKeyFingerprint
	}
	return res, true, nil
}

func (e *Engine) lookupKey(ctx context.Context, image, fingerprint string) (*model.SigningKey, error) {
	key, err := e.keys.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("signing key lookup: %w", err)
	}
	if key == nil {
		return nil, fmt.Errorf("%w: public key sha1 %s in %s", domain.ErrUnknownSigningKey, fingerprint, image)
	}
	return key, nil
}

const (
	fieldPartitionSize = "partition_size"
	fieldPartitionName = "name"
	fieldSalt          = "salt"
	fieldAlgorithm     = "algorithm"
	fieldFingerprint   = "pubkey_sha1"
)

func requireFields(image string, md *model.SigningMetadata, fields ...string) error {
	for _, f := range fields {
		var present bool
		switch f {
		case fieldPartitionSize:
			present = md.PartitionSizeBytes != nil
		case fieldPartitionName:
			present = md.PartitionName != nil
		case fieldSalt:
			present = md.Salt != nil
		case fieldAlgorithm:
			present = md.Algorithm != nil
		case fieldFingerprint:
			present = md.PublicKeyFingerprint != nil
		}
		if !present {
			return &domain.MetadataIncompleteError{Image: image, Field: f}
		}
	}
	return nil
}

func verifyChained(orig, patched *model.SigningMetadata, index uint64) error {
	if err := verifyAggregate(orig, patched, index); err != nil {
		return err
	}
	switch {
	case !equalUint(orig.PartitionSizeBytes, patched.PartitionSizeBytes):
		return errors.New("partition size changed")
	case !equalString(orig.PartitionName, patched.PartitionName):
		return errors.New("partition name changed")
	case !bytes.Equal(orig.Salt, patched.Salt):
		return errors.New("salt changed")
	case !equalProperties(orig.Properties, patched.Properties):
		return errors.New("properties changed")
	}
	return nil
}

func verifyAggregate(orig, patched *model.SigningMetadata, index uint64) error {
	switch {
	case patched.RollbackIndex != index:
		return fmt.Errorf("rollback index is %d, want %d", patched.RollbackIndex, index)
	case !equalString(orig.Algorithm, patched.Algorithm):
		return errors.New("algorithm changed")
	case orig.Flags != patched.Flags:
		return fmt.Errorf("flags changed from %d to %d", orig.Flags, patched.Flags)
	}
	return nil
}

func equalUint(a, b *uint64) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func equalString(a, b *string) bool {
	return (a == nil && b == nil) || (a != nil && b != nil && *a == *b)
}

func equalProperties(a, b model.Properties) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// distinctOutput rejects an output that names the candidate file, directly or through a link.
func distinctOutput(candidatePath, outputPath string) error {
	if filepath.Clean(candidatePath) == filepath.Clean(outputPath) {
		return fmt.Errorf("%w: %s", ErrOutputIsCandidate, outputPath)
	}
	ci, err := os.Stat(candidatePath)
	if err != nil {
		return nil
	}
	if oi, err := os.Stat(outputPath); err == nil && os.SameFile(ci, oi) {
		return fmt.Errorf("%w: %s", ErrOutputIsCandidate, outputPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
