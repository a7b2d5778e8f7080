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

	_ "github.com/mattn/go-sqlite3"
)

// InitDB initializes the SQLite database and creates necessary tables.
func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool. Every connection to ":memory:" opens a fresh database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}

	// Connection-level pragmas to improve concurrency and reliability.
	// These are executed per-connection; setting them here ensures sensible defaults.
	// NOTE: Some pragmas are persistent per DB file (journal_mode) and return a row.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA busy_timeout: %w", err)
	}

	// Create tables and indexes
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// createSchema creates all necessary database tables.
func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Enable foreign keys
	PRAGMA foreign_keys = ON;

	-- Verified-boot signing keys, addressed by public key fingerprint
	CREATE TABLE IF NOT EXISTS signing_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint TEXT UNIQUE NOT NULL,
		key_path TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Flash sessions table
	CREATE TABLE IF NOT EXISTS flash_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT UNIQUE NOT NULL,
		operation TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		failure TEXT NOT NULL DEFAULT ''
	);

	-- Milestones table
	CREATE TABLE IF NOT EXISTS milestones (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		step TEXT NOT NULL,
		detail BLOB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		-- table constraints (placed after column definitions for compatibility)
		FOREIGN KEY (session_id) REFERENCES flash_sessions(id) ON DELETE CASCADE
	);

	-- Create index on session_id for the "latest milestone" lookup
	CREATE INDEX IF NOT EXISTS idx_milestones_session_id ON milestones(session_id, id);
	`

	// Execute schema using transaction
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
