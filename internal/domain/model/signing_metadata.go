/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

// Property is one "Prop:" entry of a signed image.
type Property struct {
	Key   string
	Value string
}

// Properties keeps every property line in report order, which re-signing must reproduce.
// A key may repeat.
type Properties []Property

// Get returns the value of the first property named key.
func (p Properties) Get(key string) (string, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// SigningMetadata describes the verified-boot metadata of one image.
// Pointer fields are nil when the report did not carry them.
type SigningMetadata struct {
	PartitionSizeBytes    *uint64
	OriginalImageSize     *uint64
	PartitionName         *string
	RollbackIndex         uint64
	RollbackIndexLocation *uint64
	Salt                  []byte
	Algorithm             *string
	PublicKeyFingerprint  *string
	Flags                 uint32
	Properties            Properties
}

// WithRollbackIndex returns a copy of m carrying index.
func (m *SigningMetadata) WithRollbackIndex(index uint64) *SigningMetadata {
	c := *m
	c.Salt = append([]byte(nil), m.Salt...)
	c.Properties = append(Properties(nil), m.Properties...)
	c.RollbackIndex = index
	return &c
}
