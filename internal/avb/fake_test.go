/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
)

// renderReport produces an info_image style report for md.
func renderReport(md *model.SigningMetadata) string {
	var b strings.Builder
	if md.PartitionSizeBytes != nil {
		b.WriteString("Footer version:           1.0\n")
		fmt.Fprintf(&b, "Image size:               %d bytes\n", *md.PartitionSizeBytes)
	}
	if md.OriginalImageSize != nil {
		fmt.Fprintf(&b, "Original image size:      %d bytes\n", *md.OriginalImageSize)
		b.WriteString("VBMeta offset:            41943040\n--\n")
	}
	b.WriteString("Minimum libavb version:   1.0\n")
	b.WriteString("Header Block:             256 bytes\n")
	if md.PublicKeyFingerprint != nil {
		fmt.Fprintf(&b, "Public key (sha1):        %s\n", *md.PublicKeyFingerprint)
	}
	if md.Algorithm != nil {
		fmt.Fprintf(&b, "Algorithm:                %s\n", *md.Algorithm)
	}
	fmt.Fprintf(&b, "Rollback Index:           %d\n", md.RollbackIndex)
	fmt.Fprintf(&b, "Flags:                    %d\n", md.Flags)
	b.WriteString("Rollback Index Location:  0\n")
	b.WriteString("Release String:           'avbtool 1.2.0'\n")
	b.WriteString("Descriptors:\n")
	b.WriteString("    Hash descriptor:\n")
	b.WriteString("      Image Size:            41943040 bytes\n")
	b.WriteString("      Hash Algorithm:        sha256\n")
	if md.PartitionName != nil {
		fmt.Fprintf(&b, "      Partition Name:        %s\n", *md.PartitionName)
	}
	if md.Salt != nil {
		fmt.Fprintf(&b, "      Salt:                  %s\n", hex.EncodeToString(md.Salt))
	}
	b.WriteString("      Digest:                8e6b2b0a5b0c\n")
	b.WriteString("      Flags:                 99\n")
	b.WriteString("      Rollback Index:        1234\n")
	for _, p := range md.Properties {
		fmt.Fprintf(&b, "    Prop: %s -> '%s'\n", p.Key, p.Value)
	}
	return b.String()
}

// fakeAVB stands in for avbtool. It tracks metadata per path and appends a marker to
// files it signs so rewritten images differ from their source.
type fakeAVB struct {
	meta         map[string]*model.SigningMetadata
	footerCalls  []service.HashFooterRequest
	aggregate    []service.AggregateImageRequest
	signErr      error
	tamper       func(*model.SigningMetadata)
	inspectCalls int
}

func newFakeAVB() *fakeAVB {
	return &fakeAVB{meta: map[string]*model.SigningMetadata{}}
}

func (f *fakeAVB) Inspect(_ context.Context, path string) (string, error) {
	f.inspectCalls++
	md, ok := f.meta[path]
	if !ok {
		return "", fmt.Errorf("%s: not an AVB image", path)
	}
	return renderReport(md), nil
}

func (f *fakeAVB) AddHashFooter(_ context.Context, req service.HashFooterRequest) error {
	f.footerCalls = append(f.footerCalls, req)
	if f.signErr != nil {
		return f.signErr
	}
	prev := f.meta[req.ImagePath]
	md := &model.SigningMetadata{
		PartitionSizeBytes:   &req.PartitionSize,
		PartitionName:        &req.PartitionName,
		RollbackIndex:        req.RollbackIndex,
		Salt:                 req.Salt,
		Algorithm:            &req.Algorithm,
		PublicKeyFingerprint: nil,
		Flags:                req.Flags,
		Properties:           req.Properties,
	}
	if prev != nil {
		md.OriginalImageSize = prev.OriginalImageSize
		md.PublicKeyFingerprint = prev.PublicKeyFingerprint
	}
	if f.tamper != nil {
		f.tamper(md)
	}
	f.meta[req.ImagePath] = md
	return appendMarker(req.ImagePath, req.RollbackIndex)
}

func (f *fakeAVB) MakeAggregateImage(_ context.Context, req service.AggregateImageRequest) error {
	f.aggregate = append(f.aggregate, req)
	if f.signErr != nil {
		return f.signErr
	}
	src, ok := f.meta[req.IncludeDescriptorsFrom]
	if !ok {
		return errors.New("descriptor source is not an AVB image")
	}
	md := src.WithRollbackIndex(req.RollbackIndex)
	md.Algorithm = &req.Algorithm
	md.Flags = req.Flags
	if f.tamper != nil {
		f.tamper(md)
	}
	f.meta[req.OutputPath] = md
	return os.WriteFile(req.OutputPath, []byte(fmt.Sprintf("vbmeta rollback=%d", req.RollbackIndex)), 0o644)
}

// track registers path with the metadata of src, mirroring a byte copy.
func (f *fakeAVB) track(path string, md *model.SigningMetadata) {
	f.meta[path] = md
}

func appendMarker(path string, index uint64) error {
	fd, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(fd, "|footer rollback=%d", index); err != nil {
		fd.Close()
		return err
	}
	return fd.Close()
}

type mapKeys map[string]*model.SigningKey

func (m mapKeys) FindByFingerprint(_ context.Context, fp string) (*model.SigningKey, error) {
	return m[fp], nil
}

type brokenKeys struct{}

func (brokenKeys) FindByFingerprint(context.Context, string) (*model.SigningKey, error) {
	return nil, errors.New("database is locked")
}

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }
