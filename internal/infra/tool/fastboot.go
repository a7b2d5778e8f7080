/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Fastboot drives the bootloader protocol client.
type Fastboot struct {
	runner Runner
	path   string
}

func NewFastboot(runner Runner, path string) *Fastboot {
	if path == "" {
		path = "fastboot"
	}
	return &Fastboot{runner: runner, path: path}
}

func (f *Fastboot) Connected(ctx context.Context) (bool, error) {
	res, err := f.runner.Run(ctx, f.path, "devices")
	if err != nil {
		return false, absentOrFatal(err)
	}
	sc := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for sc.Scan() {
		if strings.Contains(sc.Text(), "fastboot") {
			return true, nil
		}
	}
	return false, nil
}

// GetVar returns the value of a bootloader variable. fastboot prints it on stderr.
func (f *Fastboot) GetVar(ctx context.Context, name string) (string, error) {
	res, err := f.runner.Run(ctx, f.path, "getvar", name)
	if err != nil {
		return "", err
	}
	prefix := name + ":"
	for _, out := range [][]byte{res.Stderr, res.Stdout} {
		sc := bufio.NewScanner(bytes.NewReader(out))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if strings.HasPrefix(line, prefix) {
				return strings.TrimSpace(strings.TrimPrefix(line, prefix)), nil
			}
		}
	}
	return "", fmt.Errorf("getvar %s: no value reported", name)
}

// Reboot reboots into target ("" for the system, or "bootloader").
func (f *Fastboot) Reboot(ctx context.Context, target string) error {
	args := []string{"reboot"}
	if target != "" {
		args = append(args, target)
	}
	_, err := f.runner.Run(ctx, f.path, args...)
	return err
}
