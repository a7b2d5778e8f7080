/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
)

// FlashSessionRepository handles flash session persistence.
type FlashSessionRepository struct {
	db *sql.DB
}

func NewFlashSessionRepository(db *sql.DB) *FlashSessionRepository {
	return &FlashSessionRepository{db: db}
}

// Create inserts a new session and returns the inserted id.
func (r *FlashSessionRepository) Create(ctx context.Context, s *model.FlashSession) (int64, error) {
	const q = `
		INSERT INTO flash_sessions (uuid, operation, created_at)
		VALUES (?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, s.UUID, s.Operation, s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert flash_session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindByUUID returns a session by its UUID, or nil if it does not exist.
func (r *FlashSessionRepository) FindByUUID(ctx context.Context, uuid string) (*model.FlashSession, error) {
	const q = `
		SELECT id, uuid, operation, created_at, completed_at, failure
		FROM flash_sessions
		WHERE uuid = ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, uuid)
	var (
		s         model.FlashSession
		completed sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UUID, &s.Operation, &s.CreatedAt, &completed, &s.Failure); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan flash_session: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// MarkCompleted stamps the completion time of a session.
func (r *FlashSessionRepository) MarkCompleted(ctx context.Context, id int64) error {
	const q = `
		UPDATE flash_sessions
		SET completed_at = ?, failure = ''
		WHERE id = ?
	`
	return r.update(ctx, q, time.Now().UTC(), id)
}

// MarkFailed records why a session was aborted. completed_at stays NULL.
func (r *FlashSessionRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	const q = `
		UPDATE flash_sessions
		SET failure = ?
		WHERE id = ?
	`
	return r.update(ctx, q, reason, id)
}

func (r *FlashSessionRepository) update(ctx context.Context, q string, value any, id int64) error {
	res, err := r.db.ExecContext(ctx, q, value, id)
	if err != nil {
		return fmt.Errorf("update flash_session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
