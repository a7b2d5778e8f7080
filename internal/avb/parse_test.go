/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package avb

import (
	"testing"

	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootReport = `Footer version:           1.0
Image size:               100663296 bytes
Original image size:      41943040 bytes
VBMeta offset:            41943040
VBMeta size:              2112 bytes
--
Minimum libavb version:   1.0
Header Block:             256 bytes
Authentication Block:     576 bytes
Auxiliary Block:          1280 bytes
Public key (sha1):        2597C218AAE470A130F61162FEAAE70AFD97F011
Algorithm:                SHA256_RSA4096
Rollback Index:           5
Flags:                    0
Rollback Index Location:  0
Release String:           'avbtool 1.2.0'
Descriptors:
    Hash descriptor:
      Image Size:            41943040 bytes
      Hash Algorithm:        sha256
      Partition Name:        boot
      Salt:                  9b2fe6c47a4a2b1c
      Digest:                8e6b2b0a5b0c
      Flags:                 7
      Rollback Index:        99
    Prop: com.android.build.boot.os_version -> '14'
    Prop: com.android.build.boot.fingerprint -> 'vendor/device:14/UP1A/1:user/release-keys'
    Prop: com.android.build.boot.os_version -> '15'
`

const vbmetaSystemReport = `Minimum libavb version:   1.0
Header Block:             256 bytes
Public key (sha1):        cdbb77177f731920bbe0a0f94f84d9038ae0617d
Algorithm:                SHA256_RSA2048
Rollback Index:           1700000000
Flags:                    2
Rollback Index Location:  2
Release String:           'avbtool 1.2.0'
Descriptors:
    Hashtree descriptor:
      Version of dm-verity:  1
      Image Size:            1073741824 bytes
      Partition Name:        system
      Salt:                  aa55
      Root Digest:           00
      Flags:                 0
`

func TestParse_ChainedImage(t *testing.T) {
	md, err := Parse(bootReport)
	require.NoError(t, err)

	require.NotNil(t, md.PartitionSizeBytes)
	assert.Equal(t, uint64(100663296), *md.PartitionSizeBytes)
	require.NotNil(t, md.OriginalImageSize)
	assert.Equal(t, uint64(41943040), *md.OriginalImageSize)
	assert.Equal(t, uint64(5), md.RollbackIndex)
	assert.Equal(t, uint32(0), md.Flags)
	require.NotNil(t, md.RollbackIndexLocation)
	assert.Equal(t, uint64(0), *md.RollbackIndexLocation)
	assert.Equal(t, "boot", *md.PartitionName)
	assert.Equal(t, []byte{0x9b, 0x2f, 0xe6, 0xc4, 0x7a, 0x4a, 0x2b, 0x1c}, md.Salt)
	assert.Equal(t, "SHA256_RSA4096", *md.Algorithm)
	assert.Equal(t, "2597c218aae470a130f61162feaae70afd97f011", *md.PublicKeyFingerprint)
	// repeated keys are all re-signed, in report order
	assert.Equal(t, model.Properties{
		{Key: "com.android.build.boot.os_version", Value: "14"},
		{Key: "com.android.build.boot.fingerprint", Value: "vendor/device:14/UP1A/1:user/release-keys"},
		{Key: "com.android.build.boot.os_version", Value: "15"},
	}, md.Properties)
	v, ok := md.Properties.Get("com.android.build.boot.os_version")
	assert.True(t, ok)
	assert.Equal(t, "14", v)
}

func TestParse_AggregateImage(t *testing.T) {
	md, err := Parse(vbmetaSystemReport)
	require.NoError(t, err)

	assert.Nil(t, md.PartitionSizeBytes)
	assert.Nil(t, md.OriginalImageSize)
	assert.Equal(t, uint64(1700000000), md.RollbackIndex)
	assert.Equal(t, uint32(2), md.Flags)
	assert.Equal(t, uint64(2), *md.RollbackIndexLocation)
	assert.Equal(t, "SHA256_RSA2048", *md.Algorithm)
	// descriptor fields are still collected
	assert.Equal(t, "system", *md.PartitionName)
	assert.Empty(t, md.Properties)
}

func TestParse_DescriptorFieldsDoNotLeakIntoHeader(t *testing.T) {
	report := "Algorithm:                NONE\nDescriptors:\n    Rollback Index:        42\n    Flags:                 3\n"
	md, err := Parse(report)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), md.RollbackIndex)
	assert.Equal(t, uint32(0), md.Flags)
	assert.Nil(t, md.RollbackIndexLocation)
}

func TestParse_OriginalImageSizeFallback(t *testing.T) {
	md, err := Parse("Original image size:      4096 bytes\nRollback Index:           1\n")
	require.NoError(t, err)
	require.NotNil(t, md.PartitionSizeBytes)
	assert.Equal(t, uint64(4096), *md.PartitionSizeBytes)
}

func TestParse_IndentedImageSizeIgnored(t *testing.T) {
	md, err := Parse("Descriptors:\n      Image Size:            41943040 bytes\n   Image size: 1 bytes\n")
	require.NoError(t, err)
	assert.Nil(t, md.PartitionSizeBytes)
}

func TestParse_Malformed(t *testing.T) {
	for name, report := range map[string]string{
		"index":      "Rollback Index:           x\n",
		"flags":      "Flags:                    99999999999\n",
		"image size": "Image size:               -1 bytes\n",
		"salt":       "Salt:                     abc\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(report)
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	md, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), md.RollbackIndex)
	assert.Nil(t, md.Algorithm)
	assert.Nil(t, md.Salt)
}

func TestParse_RenderRoundTrip(t *testing.T) {
	in := &model.SigningMetadata{
		PartitionSizeBytes:   u64(67108864),
		PartitionName:        str("vendor_boot"),
		RollbackIndex:        9,
		Salt:                 []byte{1, 2, 3},
		Algorithm:            str("SHA256_RSA4096"),
		PublicKeyFingerprint: str("2597c218aae470a130f61162feaae70afd97f011"),
		Flags:                1,
		Properties:           model.Properties{{Key: "a", Value: "b c"}},
	}
	out, err := Parse(renderReport(in))
	require.NoError(t, err)
	assert.Equal(t, in.RollbackIndex, out.RollbackIndex)
	assert.Equal(t, *in.PartitionSizeBytes, *out.PartitionSizeBytes)
	assert.Equal(t, in.Salt, out.Salt)
	assert.Equal(t, in.Flags, out.Flags)
	assert.Equal(t, in.Properties, out.Properties)
}
