/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package tool

import (
	"context"
	"fmt"
	"strings"
)

// scriptedRunner answers invocations from a table keyed by the joined command line.
type scriptedRunner struct {
	responses map[string]*Result
	failures  map[string]error
	calls     []string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: map[string]*Result{}, failures: map[string]error{}}
}

func (s *scriptedRunner) on(cmdline string, stdout, stderr string) {
	s.responses[cmdline] = &Result{Stdout: []byte(stdout), Stderr: []byte(stderr)}
}

func (s *scriptedRunner) fail(cmdline string, err error) {
	s.failures[cmdline] = err
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) (*Result, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))
	s.calls = append(s.calls, line)
	if err, ok := s.failures[line]; ok {
		return &Result{}, err
	}
	if r, ok := s.responses[line]; ok {
		return r, nil
	}
	if r, ok := s.responses[name+" *"]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("unexpected invocation: %s", line)
}
