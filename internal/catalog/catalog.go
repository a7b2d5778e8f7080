/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package catalog resolves partition labels to physical addressing parameters
// declared by firmware rawprogram manifests.
package catalog

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kentakayama/arbkit/internal/container"
	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/util"
	"github.com/sirupsen/logrus"
)

// Fallbacks lists, per label, the labels tried in order when the label itself is absent.
// Only boot has a known A/B fallback; slotted targets such as vbmeta_system are resolved
// with the suffix already applied by the caller.
var Fallbacks = map[string][]string{
	"boot": {"boot_a", "boot_b"},
}

// Source is one manifest document as read from disk.
type Source struct {
	Name    string
	Content []byte
}

// Catalog is the ordered set of partition records from a manifest set.
type Catalog struct {
	records []model.PartitionRecord
}

// Build parses sources in order. Encrypted sources are decoded with secret first.
// Malformed entries are logged and skipped; a container that fails its integrity
// checks aborts the build.
func Build(sources []Source, secret []byte, logger logrus.FieldLogger) (*Catalog, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Catalog{}
	for _, src := range sources {
		markup := src.Content
		if container.LooksEncrypted(markup) {
			body, err := container.Decode(markup, secret)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", src.Name, err)
			}
			markup = body
		}
		c.records = append(c.records, parseManifest(src.Name, markup, logger)...)
	}
	return c, nil
}

func parseManifest(name string, markup []byte, logger logrus.FieldLogger) []model.PartitionRecord {
	log := logger.WithField("manifest", name)
	seen := util.NewSet[string]()
	var out []model.PartitionRecord

	dec := xml.NewDecoder(bytes.NewReader(markup))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warnf("stopped parsing after %d entries: %v", len(out), err)
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "program" {
			continue
		}
		rec, err := recordFromAttrs(se.Attr)
		if err != nil {
			log.Warnf("skipping program entry: %v", err)
			continue
		}
		key := strings.ToLower(rec.Label)
		if seen.Has(key) {
			log.Debugf("skipping duplicate entry for %q", rec.Label)
			continue
		}
		seen.Add(key)
		rec.SourceManifest = name
		out = append(out, rec)
	}
	return out
}

func recordFromAttrs(attrs []xml.Attr) (model.PartitionRecord, error) {
	var rec model.PartitionRecord
	get := func(k string) (string, bool) {
		for _, a := range attrs {
			if a.Name.Local == k {
				return strings.TrimSpace(a.Value), true
			}
		}
		return "", false
	}

	label, _ := get("label")
	if label == "" {
		return rec, errors.New("missing label")
	}
	rec.Label = label
	rec.Filename, _ = get("filename")

	lun, ok := get("physical_partition_number")
	if !ok {
		return rec, fmt.Errorf("%s: missing physical_partition_number", label)
	}
	n, err := strconv.Atoi(lun)
	if err != nil || n < 0 {
		return rec, fmt.Errorf("%s: invalid physical_partition_number %q", label, lun)
	}
	rec.LUN = n

	start, ok := get("start_sector")
	if !ok {
		return rec, fmt.Errorf("%s: missing start_sector", label)
	}
	if rec.StartSector, err = strconv.ParseUint(start, 10, 64); err != nil {
		// some manifests express the start as a formula such as NUM_DISK_SECTORS-5.
		return rec, fmt.Errorf("%s: unsupported start_sector %q", label, start)
	}

	count, ok := get("num_partition_sectors")
	if !ok {
		return rec, fmt.Errorf("%s: missing num_partition_sectors", label)
	}
	if rec.SectorCount, err = strconv.ParseUint(count, 10, 64); err != nil {
		return rec, fmt.Errorf("%s: invalid num_partition_sectors %q", label, count)
	}
	return rec, nil
}

// Resolve returns the first record whose label matches case-insensitively, trying the
// fallback labels of Fallbacks afterwards.
func (c *Catalog) Resolve(label string) (model.PartitionRecord, error) {
	candidates := append([]string{label}, Fallbacks[strings.ToLower(label)]...)
	for _, l := range candidates {
		if rec, ok := c.lookup(l); ok {
			return rec, nil
		}
	}
	return model.PartitionRecord{}, fmt.Errorf("%w: %q", domain.ErrPartitionNotFound, label)
}

func (c *Catalog) lookup(label string) (model.PartitionRecord, bool) {
	for _, rec := range c.records {
		if strings.EqualFold(rec.Label, label) {
			return rec, true
		}
	}
	return model.PartitionRecord{}, false
}

// Records returns a copy of all records in build order.
func (c *Catalog) Records() []model.PartitionRecord {
	return append([]model.PartitionRecord(nil), c.records...)
}

func (c *Catalog) Len() int {
	return len(c.records)
}
