/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"database/sql"
	"io"

	"github.com/kentakayama/arbkit/internal/avb"
	"github.com/kentakayama/arbkit/internal/catalog"
	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/device"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/event"
	"github.com/kentakayama/arbkit/internal/flash"
	"github.com/kentakayama/arbkit/internal/infra/sqlite"
	"github.com/kentakayama/arbkit/internal/infra/tool"
	"github.com/sirupsen/logrus"
)

type globalOptions struct {
	configPath string
	skipADB    bool
	skipReset  bool
}

// app wires the packages together on first use so that offline commands never touch
// the database or the device tools.
type app struct {
	opts globalOptions
	cfg  config.Config
	log  *logrus.Logger
	out  io.Writer
	sink service.EventSink

	runner  tool.Runner
	db      *sql.DB
	avbtool *tool.Avbtool
	cat     *catalog.Catalog
}

func newApp(opts globalOptions, out io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.SkipADB = cfg.SkipADB || opts.skipADB

	sink := service.EventSink(event.NewConsoleSink(out))
	if cfg.LogFormat == "json" {
		sink = event.Multi{sink, event.NewLogSink(cfg.Logger)}
	}
	return &app{
		opts:   opts,
		cfg:    cfg,
		log:    cfg.Logger,
		out:    out,
		sink:   sink,
		runner: tool.NewExecRunner(cfg.Logger),
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := sqlite.CloseDB(a.db); err != nil {
			a.log.WithError(err).Warn("closing database")
		}
	}
}

func (a *app) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := sqlite.InitDB(ctx, a.cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) keyring(ctx context.Context) (*flash.Keyring, error) {
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return flash.NewKeyring(sqlite.NewSigningKeyRepository(db), a.log), nil
}

// engine registers the configured keys and returns a patch engine backed by avbtool.
func (a *app) engine(ctx context.Context) (*avb.Engine, error) {
	kr, err := a.keyring(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := kr.Seed(ctx, a.cfg.Keys); err != nil {
		return nil, err
	}
	if a.avbtool == nil {
		a.avbtool = tool.NewAvbtool(a.runner, a.cfg.Tools)
	}
	return avb.NewEngine(a.avbtool, a.avbtool, sqlite.NewSigningKeyRepository(a.db), a.log), nil
}

func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cat != nil {
		return a.cat, nil
	}
	srcs, err := catalog.LoadSources(a.cfg.AllManifestDirs()...)
	if err != nil {
		return nil, err
	}
	c, err := catalog.Build(srcs, []byte(a.cfg.ManifestSecret), a.log)
	if err != nil {
		return nil, err
	}
	a.log.WithField("records", c.Len()).Debug("partition catalog loaded")
	a.cat = c
	return c, nil
}

func (a *app) transport() *tool.FirehoseTransport {
	return tool.NewFirehoseTransport(a.runner, a.cfg.Tools, a.cfg.EDL, a.log)
}

func (a *app) controller() *device.Controller {
	var bridge service.DebugBridge
	if !a.cfg.SkipADB {
		bridge = tool.NewADB(a.runner, a.cfg.Tools.ADB)
	}
	return device.NewController(bridge, tool.NewFastboot(a.runner, a.cfg.Tools.Fastboot), a.transport(),
		a.cfg.Delays, a.sink, a.log)
}

// flasher builds the flow runner. A catalog is loaded when needCatalog is set.
func (a *app) flasher(ctx context.Context, needCatalog bool) (*flash.Flasher, error) {
	engine, err := a.engine(ctx)
	if err != nil {
		return nil, err
	}
	deps := flash.Deps{
		Controller: a.controller(),
		Transport:  a.transport(),
		Engine:     engine,
		Sessions:   sqlite.NewFlashSessionRepository(a.db),
		Milestones: sqlite.NewMilestoneRepository(a.db),
		Sink:       a.sink,
		Logger:     a.log,
	}
	if needCatalog {
		c, err := a.catalog()
		if err != nil {
			return nil, err
		}
		deps.Catalog = c
	}
	if deps.ReceiptKey, err = config.LoadReceiptKey(a.cfg); err != nil {
		return nil, err
	}
	return flash.NewFlasher(deps, flash.Options{
		ImageDir:  a.cfg.ImageDir,
		WorkDir:   a.cfg.WorkDir,
		Delays:    a.cfg.Delays,
		SkipReset: a.opts.skipReset,
	}), nil
}
