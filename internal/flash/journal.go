/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/sirupsen/logrus"
)

// journal records the milestones of one flow. Persistence failures are logged and do not
// interrupt the flow.
type journal struct {
	f       *Flasher
	session model.FlashSession
}

type slotDetail struct {
	Suffix  string `cbor:"1,keyasint"`
	Source  string `cbor:"2,keyasint"`
	Warning string `cbor:"3,keyasint,omitempty"`
}

type partitionDetail struct {
	Label       string `cbor:"1,keyasint"`
	LUN         int    `cbor:"2,keyasint"`
	StartSector uint64 `cbor:"3,keyasint"`
	Path        string `cbor:"4,keyasint"`
}

type patchDetail struct {
	Label         string `cbor:"1,keyasint"`
	Patched       bool   `cbor:"2,keyasint"`
	PreviousIndex uint64 `cbor:"3,keyasint"`
	RollbackIndex uint64 `cbor:"4,keyasint"`
}

func (f *Flasher) begin(ctx context.Context, operation string) *journal {
	j := &journal{f: f, session: model.FlashSession{
		UUID:      uuid.NewString(),
		Operation: operation,
		CreatedAt: f.now().UTC().Truncate(0),
	}}
	if f.deps.Sessions != nil {
		id, err := f.deps.Sessions.Create(ctx, &j.session)
		if err != nil {
			f.log.WithError(err).Warn("flash session not recorded")
		}
		j.session.ID = id
	}
	f.lastSession = j.session.UUID
	f.log.WithFields(logrus.Fields{"session": j.session.UUID, "operation": operation}).Info("flow started")
	return j
}

func (j *journal) mark(ctx context.Context, step string, detail any) {
	j.f.log.WithFields(logrus.Fields{"session": j.session.UUID, "step": step}).Debug("milestone")
	if j.f.deps.Milestones == nil || j.session.ID == 0 {
		return
	}
	var raw []byte
	if detail != nil {
		var err error
		if raw, err = cbor.Marshal(detail); err != nil {
			j.f.log.WithError(err).Warn("milestone detail not encoded")
		}
	}
	m := &model.Milestone{SessionID: j.session.ID, Step: step, Detail: raw, CreatedAt: j.f.now().UTC()}
	if _, err := j.f.deps.Milestones.Add(ctx, m); err != nil {
		j.f.log.WithError(err).Warn("milestone not recorded")
	}
}

// finish closes the session and passes err through.
func (j *journal) finish(ctx context.Context, err error) error {
	if j.f.deps.Sessions == nil || j.session.ID == 0 {
		return err
	}
	// the flow's ctx may already be cancelled
	ctx = context.WithoutCancel(ctx)
	var jerr error
	if err != nil {
		jerr = j.f.deps.Sessions.MarkFailed(ctx, j.session.ID, err.Error())
	} else {
		jerr = j.f.deps.Sessions.MarkCompleted(ctx, j.session.ID)
	}
	if jerr != nil {
		j.f.log.WithError(jerr).Warn("flash session not closed")
	}
	return err
}

// SessionStatus is a recorded flow with its milestones.
type SessionStatus struct {
	Session    *model.FlashSession
	Milestones []*model.Milestone
}

// LastSession returns the UUID of the most recently started flow.
func (f *Flasher) LastSession() string {
	return f.lastSession
}

// Session returns the journal of the flow with the given UUID.
func (f *Flasher) Session(ctx context.Context, id string) (*SessionStatus, error) {
	if f.deps.Sessions == nil || f.deps.Milestones == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	s, err := f.deps.Sessions.FindByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	ms, err := f.deps.Milestones.ListBySession(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{Session: s, Milestones: ms}, nil
}
