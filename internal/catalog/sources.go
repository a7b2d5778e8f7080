/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kentakayama/arbkit/internal/container"
)

const (
	PlainManifestPattern     = "rawprogram*.xml"
	EncryptedManifestPattern = "*.x"
)

// LoadSources reads the manifests of the first directory in dirs that holds plain
// rawprogram XML files. When none do, encrypted ".x" containers are collected from all
// dirs instead. Missing directories are skipped.
func LoadSources(dirs ...string) ([]Source, error) {
	for _, dir := range dirs {
		paths, err := filepath.Glob(filepath.Join(dir, PlainManifestPattern))
		if err != nil {
			return nil, err
		}
		if len(paths) > 0 {
			return readAll(paths)
		}
	}

	var encrypted []string
	for _, dir := range dirs {
		paths, err := filepath.Glob(filepath.Join(dir, EncryptedManifestPattern))
		if err != nil {
			return nil, err
		}
		encrypted = append(encrypted, paths...)
	}
	if len(encrypted) == 0 {
		return nil, fmt.Errorf("no %s or %s files in %v", PlainManifestPattern, EncryptedManifestPattern, dirs)
	}
	return readAll(encrypted)
}

func readAll(paths []string) ([]Source, error) {
	sort.Strings(paths)
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		out = append(out, Source{Name: filepath.Base(p), Content: data})
	}
	return out, nil
}

// DecryptDir decodes every encrypted manifest in src into dst, replacing the ".x" suffix
// with ".xml", and returns the written paths. Any container that fails its checks aborts.
func DecryptDir(src, dst string, secret []byte) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(src, EncryptedManifestPattern))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s files in %s", EncryptedManifestPattern, src)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return out, err
		}
		body, err := container.Decode(data, secret)
		if err != nil {
			return out, fmt.Errorf("decode %s: %w", filepath.Base(p), err)
		}
		name := strings.TrimSuffix(filepath.Base(p), ".x") + ".xml"
		target := filepath.Join(dst, name)
		if err := os.WriteFile(target, body, 0o644); err != nil {
			return out, err
		}
		out = append(out, target)
	}
	return out, nil
}
