/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package tool

import (
	"context"
	"encoding/hex"
	"strconv"

	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain/service"
)

// Avbtool invokes the verified-boot signing tool, optionally through a Python interpreter.
type Avbtool struct {
	runner Runner
	python string
	script string
}

func NewAvbtool(runner Runner, tools config.ToolsConfig) *Avbtool {
	script := tools.Avbtool
	if script == "" {
		script = "avbtool"
	}
	return &Avbtool{runner: runner, python: tools.Python, script: script}
}

func (a *Avbtool) run(ctx context.Context, args ...string) (*Result, error) {
	if a.python == "" {
		return a.runner.Run(ctx, a.script, args...)
	}
	return a.runner.Run(ctx, a.python, append([]string{a.script}, args...)...)
}

func (a *Avbtool) Inspect(ctx context.Context, imagePath string) (string, error) {
	res, err := a.run(ctx, "info_image", "--image", imagePath)
	if err != nil {
		return "", err
	}
	return string(res.Stdout), nil
}

func (a *Avbtool) AddHashFooter(ctx context.Context, req service.HashFooterRequest) error {
	args := []string{
		"add_hash_footer",
		"--image", req.ImagePath,
		"--key", req.KeyPath,
		"--algorithm", req.Algorithm,
		"--partition_size", strconv.FormatUint(req.PartitionSize, 10),
		"--partition_name", req.PartitionName,
		"--rollback_index", strconv.FormatUint(req.RollbackIndex, 10),
		"--salt", hex.EncodeToString(req.Salt),
	}
	for _, p := range req.Properties {
		args = append(args, "--prop", p.Key+":"+p.Value)
	}
	args = append(args, "--flags", strconv.FormatUint(uint64(req.Flags), 10))
	_, err := a.run(ctx, args...)
	return err
}

func (a *Avbtool) MakeAggregateImage(ctx context.Context, req service.AggregateImageRequest) error {
	_, err := a.run(ctx,
		"make_vbmeta_image",
		"--output", req.OutputPath,
		"--key", req.KeyPath,
		"--algorithm", req.Algorithm,
		"--rollback_index", strconv.FormatUint(req.RollbackIndex, 10),
		"--flags", strconv.FormatUint(uint64(req.Flags), 10),
		"--include_descriptors_from_image", req.IncludeDescriptorsFrom,
	)
	return err
}
