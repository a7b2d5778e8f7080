/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package tool

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/kentakayama/arbkit/internal/domain"
)

// ADB drives the Android debug bridge.
type ADB struct {
	runner Runner
	path   string
}

func NewADB(runner Runner, path string) *ADB {
	if path == "" {
		path = "adb"
	}
	return &ADB{runner: runner, path: path}
}

// Connected reports whether an authorized device is attached.
func (a *ADB) Connected(ctx context.Context) (bool, error) {
	res, err := a.runner.Run(ctx, a.path, "get-state")
	if err != nil {
		return false, absentOrFatal(err)
	}
	return strings.TrimSpace(string(res.Stdout)) == "device", nil
}

func (a *ADB) GetProp(ctx context.Context, name string) (string, error) {
	res, err := a.runner.Run(ctx, a.path, "shell", "getprop", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Reboot reboots into target ("", "bootloader" or "edl").
func (a *ADB) Reboot(ctx context.Context, target string) error {
	args := []string{"reboot"}
	if target != "" {
		args = append(args, target)
	}
	_, err := a.runner.Run(ctx, a.path, args...)
	return err
}

// absentOrFatal turns a failed probe into "not connected" unless the tool itself is
// unusable or the context ended.
func absentOrFatal(err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, domain.ErrExternalToolFailure) {
		return nil
	}
	return err
}
