/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package tool wraps the external executables (adb, fastboot, fh_loader, the Sahara
// server and avbtool) behind the capability interfaces of the domain service package.
package tool

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/sirupsen/logrus"
)

// Result is the captured output of one invocation.
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner executes a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger logrus.FieldLogger
}

func NewExecRunner(logger logrus.FieldLogger) *ExecRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.WithField("tool", name).Debugf("exec %s", strings.Join(args, " "))
	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &domain.ToolError{
			Tool:   name,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return res, nil
}
