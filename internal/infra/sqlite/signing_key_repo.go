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
	"fmt"
	"strings"

	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/mattn/go-sqlite3"
)

// SigningKeyRepository handles signing key persistence.
type SigningKeyRepository struct {
	db *sql.DB
}

func NewSigningKeyRepository(db *sql.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

// Create inserts a new signing key and returns the inserted id. A fingerprint that is
// already registered is reported as domain.ErrAlreadyExists.
func (r *SigningKeyRepository) Create(ctx context.Context, key *model.SigningKey) (int64, error) {
	const q = `
		INSERT INTO signing_keys (fingerprint, key_path, label, created_at)
		VALUES (?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, q, strings.ToLower(key.Fingerprint), key.KeyPath, key.Label, key.CreatedAt)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: signing key %s", domain.ErrAlreadyExists, strings.ToLower(key.Fingerprint))
		}
		return 0, fmt.Errorf("insert signing_key: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Upsert registers a key, replacing the path and label of an existing fingerprint.
func (r *SigningKeyRepository) Upsert(ctx context.Context, key *model.SigningKey) error {
	const q = `
		INSERT INTO signing_keys (fingerprint, key_path, label, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET key_path = excluded.key_path, label = excluded.label
	`
	if _, err := r.db.ExecContext(ctx, q, strings.ToLower(key.Fingerprint), key.KeyPath, key.Label, key.CreatedAt); err != nil {
		return fmt.Errorf("upsert signing_key: %w", err)
	}
	return nil
}

// FindByFingerprint returns the key with the given fingerprint, or nil if none is registered.
func (r *SigningKeyRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*model.SigningKey, error) {
	const q = `
		SELECT id, fingerprint, key_path, label, created_at
		FROM signing_keys
		WHERE fingerprint = ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, q, strings.ToLower(fingerprint))
	var key model.SigningKey
	if err := row.Scan(&key.ID, &key.Fingerprint, &key.KeyPath, &key.Label, &key.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan signing_key: %w", err)
	}
	return &key, nil
}

// List returns all keys ordered by label.
func (r *SigningKeyRepository) List(ctx context.Context) ([]*model.SigningKey, error) {
	const q = `
		SELECT id, fingerprint, key_path, label, created_at
		FROM signing_keys
		ORDER BY label, id
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query signing_keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.SigningKey
	for rows.Next() {
		var key model.SigningKey
		if err := rows.Scan(&key.ID, &key.Fingerprint, &key.KeyPath, &key.Label, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signing_key: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}
