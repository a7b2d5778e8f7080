/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package flash

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/sirupsen/logrus"
)

// Keyring registers signing keys in the key store by the fingerprint of their public half.
type Keyring struct {
	repo   service.SigningKeyRepository
	logger logrus.FieldLogger
}

func NewKeyring(repo service.SigningKeyRepository, logger logrus.FieldLogger) *Keyring {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Keyring{repo: repo, logger: logger}
}

// Register stores the key at path under label and returns its record. A configured
// fingerprint must match the one computed from the key. An already registered fingerprint
// is rejected with domain.ErrAlreadyExists unless replace is set.
func (k *Keyring) Register(ctx context.Context, label, path, fingerprint string, replace bool) (*model.SigningKey, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fp, err := avb.PublicKeyFingerprint(pemData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if fingerprint != "" && !strings.EqualFold(fingerprint, fp) {
		return nil, fmt.Errorf("%s: fingerprint %s does not match configured %s", path, fp, fingerprint)
	}
	key := &model.SigningKey{
		Fingerprint: fp,
		KeyPath:     path,
		Label:       label,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if replace {
		err = k.repo.Upsert(ctx, key)
	} else {
		key.ID, err = k.repo.Create(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	k.logger.WithFields(logrus.Fields{"label": label, "fingerprint": fp}).Info("signing key registered")
	return key, nil
}

// Seed registers every configured key, replacing earlier registrations of the same
// fingerprint. Keys whose file is absent are skipped.
func (k *Keyring) Seed(ctx context.Context, keys []config.KeyConfig) (int, error) {
	n := 0
	for _, kc := range keys {
		_, err := k.Register(ctx, kc.Label, kc.Path, kc.Fingerprint, true)
		if errors.Is(err, os.ErrNotExist) {
			k.logger.WithField("path", kc.Path).Debug("signing key not present, skipped")
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (k *Keyring) List(ctx context.Context) ([]*model.SigningKey, error) {
	return k.repo.List(ctx)
}
