/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSigningMetadata_WithRollbackIndex_DoesNotMutate(t *testing.T) {
	name := "boot"
	m := &SigningMetadata{
		PartitionName: &name,
		RollbackIndex: 3,
		Salt:          []byte{0x01, 0x02},
		Properties:    Properties{{Key: "k", Value: "v"}},
	}
	c := m.WithRollbackIndex(7)
	c.Salt[0] = 0xff
	c.Properties[0].Value = "changed"

	assert.Equal(t, uint64(3), m.RollbackIndex)
	assert.Equal(t, uint64(7), c.RollbackIndex)
	assert.Equal(t, []byte{0x01, 0x02}, m.Salt)
	v, ok := m.Properties.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
