/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package service

import (
	"context"

	"github.com/kentakayama/arbkit/internal/domain/model"
)

// SigningKeyRepository defines the interface for signing key persistence.
type SigningKeyRepository interface {
	SigningKeyLookup
	Create(ctx context.Context, key *model.SigningKey) (int64, error)
	Upsert(ctx context.Context, key *model.SigningKey) error
	List(ctx context.Context) ([]*model.SigningKey, error)
}

// SigningKeyLookup resolves a public key fingerprint to key material.
// A nil key with a nil error means the fingerprint is unknown.
type SigningKeyLookup interface {
	FindByFingerprint(ctx context.Context, fingerprint string) (*model.SigningKey, error)
}

// FlashSessionRepository defines the interface for the flash session journal.
type FlashSessionRepository interface {
	Create(ctx context.Context, s *model.FlashSession) (int64, error)
	FindByUUID(ctx context.Context, uuid string) (*model.FlashSession, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// MilestoneRepository defines the interface for milestone persistence.
type MilestoneRepository interface {
	Add(ctx context.Context, m *model.Milestone) (int64, error)
	ListBySession(ctx context.Context, sessionID int64) ([]*model.Milestone, error)
	Latest(ctx context.Context, sessionID int64) (*model.Milestone, error)
}
