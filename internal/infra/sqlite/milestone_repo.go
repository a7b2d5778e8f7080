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

	"github.com/kentakayama/arbkit/internal/domain/model"
)

// MilestoneRepository handles milestone persistence.
type MilestoneRepository struct {
	db *sql.DB
}

func NewMilestoneRepository(db *sql.DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// Add inserts a milestone and returns the inserted id.
func (r *MilestoneRepository) Add(ctx context.Context, m *model.Milestone) (int64, error) {
	const q = `
		INSERT INTO milestones (session_id, step, detail, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, m.SessionID, m.Step, m.Detail, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert milestone: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListBySession returns the milestones of a session in insertion order.
func (r *MilestoneRepository) ListBySession(ctx context.Context, sessionID int64) ([]*model.Milestone, error) {
	const q = `
		SELECT id, session_id, step, detail, created_at
		FROM milestones
		WHERE session_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query milestones: %w", err)
	}
	defer rows.Close()

	var out []*model.Milestone
	for rows.Next() {
		var m model.Milestone
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Step, &m.Detail, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Latest returns the last milestone of a session, or nil if it has none.
func (r *MilestoneRepository) Latest(ctx context.Context, sessionID int64) (*model.Milestone, error) {
	const q = `
		SELECT id, session_id, step, detail, created_at
		FROM milestones
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, sessionID)
	var m model.Milestone
	if err := row.Scan(&m.ID, &m.SessionID, &m.Step, &m.Detail, &m.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan milestone: %w", err)
	}
	return &m, nil
}
