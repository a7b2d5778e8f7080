/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("item already exists")

	ErrPartitionNotFound              = errors.New("partition not found")
	ErrManifestDecryptionFailure      = errors.New("manifest decryption failure")
	ErrSigningMetadataIncomplete      = errors.New("signing metadata incomplete")
	ErrUnknownSigningKey              = errors.New("unknown signing key")
	ErrDeviceModeTimeout              = errors.New("device mode timeout")
	ErrExternalToolFailure            = errors.New("external tool failure")
	ErrRollbackRegressionUnresolvable = errors.New("rollback regression unresolvable")
)

// DecryptionError reports which integrity check rejected a manifest container.
type DecryptionError struct {
	Check string
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("%s: %s check failed", ErrManifestDecryptionFailure, e.Check)
}

func (e *DecryptionError) Unwrap() error {
	return ErrManifestDecryptionFailure
}

// MetadataIncompleteError names the signing metadata field an operation needed but did not find.
type MetadataIncompleteError struct {
	Image string
	Field string
}

func (e *MetadataIncompleteError) Error() string {
	if e.Image == "" {
		return fmt.Sprintf("%s: missing %q", ErrSigningMetadataIncomplete, e.Field)
	}
	return fmt.Sprintf("%s: missing %q in %s", ErrSigningMetadataIncomplete, e.Field, e.Image)
}

func (e *MetadataIncompleteError) Unwrap() error {
	return ErrSigningMetadataIncomplete
}

// ToolError carries the output of a failed subprocess invocation.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s: %v: %s", ErrExternalToolFailure, e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %s: %v", ErrExternalToolFailure, e.Tool, e.Err)
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrExternalToolFailure, e.Err}
}
