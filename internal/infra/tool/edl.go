/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/sirupsen/logrus"
)

const (
	qualcommVendorID   = "05c6"
	emergencyProductID = "9008"
	defaultSysfsRoot   = "/sys"
	defaultMemoryName  = "UFS"
)

// FirehoseTransport reaches a device in emergency-download mode through the vendor
// Sahara server (programmer upload) and fh_loader (sector I/O).
type FirehoseTransport struct {
	runner     Runner
	fhLoader   string
	sahara     string
	loaderPath string
	port       string
	memoryName string
	sysfsRoot  string
	logger     logrus.FieldLogger
}

func NewFirehoseTransport(runner Runner, tools config.ToolsConfig, cfg config.EDLConfig, logger logrus.FieldLogger) *FirehoseTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &FirehoseTransport{
		runner:     runner,
		fhLoader:   tools.FhLoader,
		sahara:     tools.Sahara,
		loaderPath: cfg.LoaderPath,
		port:       cfg.Port,
		memoryName: cfg.MemoryName,
		sysfsRoot:  cfg.SysfsRoot,
		logger:     logger,
	}
	if t.fhLoader == "" {
		t.fhLoader = "fh_loader"
	}
	if t.sahara == "" {
		t.sahara = "QSaharaServer"
	}
	if t.memoryName == "" {
		t.memoryName = defaultMemoryName
	}
	if t.sysfsRoot == "" {
		t.sysfsRoot = defaultSysfsRoot
	}
	return t
}

// Detect scans USB devices for a Qualcomm emergency-download interface. A device whose
// serial driver has not bound yet is reported as not found so that callers keep polling.
func (t *FirehoseTransport) Detect(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	devices, err := filepath.Glob(filepath.Join(t.sysfsRoot, "bus", "usb", "devices", "*"))
	if err != nil {
		return "", false, err
	}
	for _, dev := range devices {
		if readAttr(dev, "idVendor") != qualcommVendorID || readAttr(dev, "idProduct") != emergencyProductID {
			continue
		}
		if t.port != "" {
			return t.port, true, nil
		}
		if tty := findTTY(dev); tty != "" {
			return tty, true, nil
		}
		t.logger.WithField("device", filepath.Base(dev)).Debug("emergency-download device has no serial port yet")
	}
	return "", false, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(b)))
}

func findTTY(dev string) string {
	for _, pattern := range []string{"*/ttyUSB*", "*/tty/ttyUSB*", "*/tty/ttyACM*"} {
		matches, _ := filepath.Glob(filepath.Join(dev, pattern))
		if len(matches) > 0 {
			return "/dev/" + filepath.Base(matches[0])
		}
	}
	return ""
}

// LoadProgrammer uploads the firehose programmer over Sahara.
func (t *FirehoseTransport) LoadProgrammer(ctx context.Context, port string) error {
	if t.loaderPath == "" {
		return errors.New("edl.loader_path is not configured")
	}
	if _, err := os.Stat(t.loaderPath); err != nil {
		return fmt.Errorf("programmer: %w", err)
	}
	_, err := t.runner.Run(ctx, t.sahara, "-p", port, "-s", "13:"+t.loaderPath)
	return err
}

func (t *FirehoseTransport) ReadPartition(ctx context.Context, req service.ReadRequest) error {
	t.logger.WithFields(logrus.Fields{"lun": req.LUN, "start": req.StartSector, "sectors": req.SectorCount}).
		Infof("reading into %s", filepath.Base(req.OutputPath))
	_, err := t.runner.Run(ctx, t.fhLoader,
		"--port="+req.Port,
		"--convertprogram2read",
		"--sendimage="+req.OutputPath,
		fmt.Sprintf("--lun=%d", req.LUN),
		fmt.Sprintf("--start_sector=%d", req.StartSector),
		fmt.Sprintf("--num_sectors=%d", req.SectorCount),
		"--zlpawarehost=1",
		"--noprompt",
		"--memoryname="+t.memoryName,
	)
	return err
}

func (t *FirehoseTransport) WritePartition(ctx context.Context, req service.WriteRequest) error {
	t.logger.WithFields(logrus.Fields{"lun": req.LUN, "start": req.StartSector}).
		Infof("flashing %s", filepath.Base(req.ImagePath))
	_, err := t.runner.Run(ctx, t.fhLoader,
		"--port="+req.Port,
		"--sendimage="+req.ImagePath,
		fmt.Sprintf("--lun=%d", req.LUN),
		fmt.Sprintf("--start_sector=%d", req.StartSector),
		"--zlpawarehost=1",
		"--noprompt",
		"--memoryname="+t.memoryName,
	)
	return err
}

func (t *FirehoseTransport) Reset(ctx context.Context, port string) error {
	_, err := t.runner.Run(ctx, t.fhLoader,
		"--port="+port,
		"--reset",
		"--noprompt",
		"--memoryname="+t.memoryName,
	)
	return err
}
