/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package avb reads and rewrites the verified-boot signing metadata of partition images.
package avb

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/kentakayama/arbkit/internal/domain/model"
)

const descriptorsMarker = "Descriptors:"

// Parse extracts signing metadata from an info_image report.
//
// Rollback index, rollback index location and flags are only taken from the header, which
// ends at the "Descriptors:" line. Other scalar fields keep their first occurrence.
func Parse(report string) (*model.SigningMetadata, error) {
	md := &model.SigningMetadata{}
	var imageSize *uint64
	inHeader := true

	sc := bufio.NewScanner(strings.NewReader(report))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == descriptorsMarker {
			inHeader = false
			continue
		}

		if inHeader {
			switch {
			case strings.HasPrefix(line, "Rollback Index Location:"):
				v, err := parseUint(line, "Rollback Index Location:", 64)
				if err != nil {
					return nil, err
				}
				md.RollbackIndexLocation = &v
				continue
			case strings.HasPrefix(line, "Rollback Index:"):
				v, err := parseUint(line, "Rollback Index:", 64)
				if err != nil {
					return nil, err
				}
				md.RollbackIndex = v
				continue
			case strings.HasPrefix(line, "Flags:"):
				v, err := parseUint(line, "Flags:", 32)
				if err != nil {
					return nil, err
				}
				md.Flags = uint32(v)
				continue
			}
		}

		switch {
		// the footer's size sits at column 0; descriptors indent their own "Image Size"
		case strings.HasPrefix(raw, "Image size:") && imageSize == nil:
			v, err := parseUint(line, "Image size:", 64)
			if err != nil {
				return nil, err
			}
			imageSize = &v
		case strings.HasPrefix(line, "Original image size:") && md.OriginalImageSize == nil:
			v, err := parseUint(line, "Original image size:", 64)
			if err != nil {
				return nil, err
			}
			md.OriginalImageSize = &v
		case strings.HasPrefix(line, "Partition Name:") && md.PartitionName == nil:
			if v := firstToken(line, "Partition Name:"); v != "" {
				md.PartitionName = &v
			}
		case strings.HasPrefix(line, "Salt:") && md.Salt == nil:
			if v := firstToken(line, "Salt:"); v != "" {
				salt, err := hex.DecodeString(v)
				if err != nil {
					return nil, fmt.Errorf("salt %q: %w", v, err)
				}
				md.Salt = salt
			}
		case strings.HasPrefix(line, "Algorithm:") && md.Algorithm == nil:
			if v := firstToken(line, "Algorithm:"); v != "" {
				md.Algorithm = &v
			}
		case strings.HasPrefix(line, "Public key (sha1):") && md.PublicKeyFingerprint == nil:
			if v := firstToken(line, "Public key (sha1):"); v != "" {
				v = strings.ToLower(v)
				md.PublicKeyFingerprint = &v
			}
		case strings.HasPrefix(line, "Prop:"):
			if p, ok := parseProp(line); ok {
				md.Properties = append(md.Properties, p)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if imageSize != nil {
		md.PartitionSizeBytes = imageSize
	} else if md.OriginalImageSize != nil {
		v := *md.OriginalImageSize
		md.PartitionSizeBytes = &v
	}
	return md, nil
}

func firstToken(line, prefix string) string {
	fields := strings.Fields(strings.TrimPrefix(line, prefix))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func parseUint(line, prefix string, bits int) (uint64, error) {
	tok := firstToken(line, prefix)
	v, err := strconv.ParseUint(tok, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", strings.TrimSuffix(prefix, ":"), tok, err)
	}
	return v, nil
}

// parseProp reads "Prop: key -> 'value'".
func parseProp(line string) (model.Property, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "Prop:"))
	key, value, ok := strings.Cut(rest, "->")
	if !ok {
		return model.Property{}, false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
		value = value[1 : len(value)-1]
	}
	if key == "" {
		return model.Property{}, false
	}
	return model.Property{Key: key, Value: value}, true
}
