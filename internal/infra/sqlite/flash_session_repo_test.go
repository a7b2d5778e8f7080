/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
)

func createSession(t *testing.T, ctx context.Context, db *sql.DB, uuid string) int64 {
	t.Helper()
	id, err := NewFlashSessionRepository(db).Create(ctx, &model.FlashSession{
		UUID:      uuid,
		Operation: "arb-patch",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		t.Fatalf("Create session error: %v", err)
	}
	return id
}

func TestFlashSession_CreateFindComplete(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewFlashSessionRepository(db)
	id := createSession(t, ctx, db, "6f1c3c1e-3a9e-4c55-9c64-0b3b8f0a1d2e")

	got, err := repo.FindByUUID(ctx, "6f1c3c1e-3a9e-4c55-9c64-0b3b8f0a1d2e")
	if err != nil {
		t.Fatalf("FindByUUID error: %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Fatalf("expected in-progress session")
	}
	if got.Operation != "arb-patch" {
		t.Fatalf("operation mismatch: %q", got.Operation)
	}

	if err := repo.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("MarkCompleted error: %v", err)
	}
	got, err = repo.FindByUUID(ctx, got.UUID)
	if err != nil {
		t.Fatalf("FindByUUID error: %v", err)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestFlashSession_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewFlashSessionRepository(db)
	id := createSession(t, ctx, db, "a")
	if err := repo.MarkFailed(ctx, id, "unknown signing key"); err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	got, err := repo.FindByUUID(ctx, "a")
	if err != nil {
		t.Fatalf("FindByUUID error: %v", err)
	}
	if got.Failure != "unknown signing key" || got.CompletedAt != nil {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestFlashSession_NotFound(t *testing.T) {
	ctx := context.Background()
	db, err := InitDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("InitDB error: %v", err)
	}
	defer CloseDB(db)

	repo := NewFlashSessionRepository(db)
	got, err := repo.FindByUUID(ctx, "missing")
	if err != nil {
		t.Fatalf("FindByUUID error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if err := repo.MarkCompleted(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
