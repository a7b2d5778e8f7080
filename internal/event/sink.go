/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package event provides EventSink implementations for progress reporting.
package event

import (
	"context"
	"sync"

	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/sirupsen/logrus"
)

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, model.Event) {}

// MemorySink stores events in memory (testing and receipts).
type MemorySink struct {
	mu     sync.Mutex
	events []model.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(_ context.Context, e model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a copy of all stored events.
func (s *MemorySink) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfKind returns the stored events of kind k.
func (s *MemorySink) OfKind(k model.EventKind) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, e := range s.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes events to a logger.
type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, e model.Event) {
	entry := s.logger.WithFields(logrus.Fields(e.Fields)).WithField("step", e.Step)
	switch e.Kind {
	case model.EventError:
		entry.Error(e.Message)
	case model.EventWarning, model.EventManualAction:
		entry.Warn(e.Message)
	default:
		entry.Info(e.Message)
	}
}

// Multi fans events out to several sinks.
type Multi []service.EventSink

func (m Multi) Emit(ctx context.Context, e model.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s service.EventSink) service.EventSink {
	if s == nil {
		return Discard{}
	}
	return s
}
