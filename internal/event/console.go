/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package event

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/kentakayama/arbkit/internal/domain/model"
)

var (
	colorInfo    = color.New(color.FgWhite).SprintFunc()
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorWarning = color.New(color.FgYellow).SprintFunc()
	colorManual  = color.New(color.Bold, color.FgHiCyan).SprintFunc()
	colorError   = color.New(color.Bold, color.FgRed).SprintFunc()
	colorField   = color.New(color.FgHiBlue).SprintFunc()
)

// ConsoleSink prints events for an operator, one line each. Manual steps are framed so
// they stand out from progress output.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Emit(_ context.Context, e model.Event) {
	var line string
	switch e.Kind {
	case model.EventSuccess:
		line = colorSuccess("[+] " + e.Message)
	case model.EventWarning:
		line = colorWarning("[!] " + e.Message)
	case model.EventManualAction:
		bar := strings.Repeat("=", 61)
		line = colorManual(bar + "\n  ACTION REQUIRED: " + e.Message + "\n" + bar)
	case model.EventError:
		line = colorError("[x] " + e.Message)
	default:
		line = colorInfo("[*] " + e.Message)
	}
	if f := formatFields(e.Fields); f != "" {
		line += " " + f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", colorField(k), fields[k]))
	}
	return strings.Join(parts, " ")
}
