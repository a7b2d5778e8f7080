/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package device drives a handset between its communication modes.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kentakayama/arbkit/internal/config"
	"github.com/kentakayama/arbkit/internal/domain"
	"github.com/kentakayama/arbkit/internal/domain/model"
	"github.com/kentakayama/arbkit/internal/domain/service"
	"github.com/kentakayama/arbkit/internal/event"
	"github.com/sirupsen/logrus"
)

const (
	slotSuffixProp = "ro.boot.slot_suffix"
	currentSlotVar = "current-slot"
)

// Controller tracks the last confirmed mode of the single attached device.
type Controller struct {
	bridge     service.DebugBridge
	bootloader service.Bootloader
	transport  service.HardwareTransport
	delays     config.DelayConfig
	sink       service.EventSink
	logger     logrus.FieldLogger
	sleep      func(context.Context, time.Duration) error

	mode model.DeviceMode
	port string
}

func NewController(bridge service.DebugBridge, bootloader service.Bootloader, transport service.HardwareTransport,
	delays config.DelayConfig, sink service.EventSink, logger logrus.FieldLogger) *Controller {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{
		bridge:     bridge,
		bootloader: bootloader,
		transport:  transport,
		delays:     delays,
		sink:       event.OrDiscard(sink),
		logger:     logger,
		sleep:      Sleep,
		mode:       model.ModeUnknown,
	}
}

// Mode returns the last confirmed mode.
func (c *Controller) Mode() model.DeviceMode {
	return c.mode
}

// Port returns the emergency-download port found by the last probe.
func (c *Controller) Port() string {
	return c.port
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Probe asks each facility in turn whether the device is attached to it.
func (c *Controller) Probe(ctx context.Context) (model.DeviceMode, error) {
	if c.transport != nil {
		port, found, err := c.transport.Detect(ctx)
		if err != nil {
			return model.ModeUnknown, fmt.Errorf("detect emergency-download device: %w", err)
		}
		if found {
			c.port = port
			c.mode = model.ModeEmergencyDownload
			return c.mode, nil
		}
	}
	if c.bootloader != nil {
		ok, err := c.bootloader.Connected(ctx)
		if err != nil {
			return model.ModeUnknown, fmt.Errorf("probe bootloader: %w", err)
		}
		if ok {
			c.mode = model.ModeBootloaderFastboot
			return c.mode, nil
		}
	}
	if c.bridge != nil {
		ok, err := c.bridge.Connected(ctx)
		if err != nil {
			return model.ModeUnknown, fmt.Errorf("probe debug bridge: %w", err)
		}
		if ok {
			c.mode = model.ModeSystemDebugBridge
			return c.mode, nil
		}
	}
	return model.ModeUnknown, nil
}

// WaitForMode polls until the device reports target. It has no timeout of its own;
// a ctx deadline is reported as ErrDeviceModeTimeout.
func (c *Controller) WaitForMode(ctx context.Context, target model.DeviceMode) error {
	announced := false
	for {
		mode, err := c.Probe(ctx)
		if err != nil {
			return c.waitErr(ctx, target, err)
		}
		if mode == target {
			c.logger.WithField("mode", target).Debug("device mode confirmed")
			return nil
		}
		if !announced {
			c.sink.Emit(ctx, model.Event{
				Kind:    model.EventInfo,
				Step:    "wait",
				Message: fmt.Sprintf("waiting for device in %s mode", target),
				Fields:  map[string]any{"mode": target.String()},
			})
			announced = true
		}
		if err := c.sleep(ctx, c.delays.PollInterval()); err != nil {
			return c.waitErr(ctx, target, err)
		}
	}
}

func (c *Controller) waitErr(ctx context.Context, target model.DeviceMode, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: waiting for %s", domain.ErrDeviceModeTimeout, target)
	}
	return err
}

// RequestTransition issues the command that moves the device from one mode to another.
// Edges without a programmatic path report ManualActionRequired.
func (c *Controller) RequestTransition(ctx context.Context, from, to model.DeviceMode) (model.Transition, error) {
	tr := model.Transition{From: from, To: to}
	if from == to {
		tr.Outcome = model.AlreadyInMode
		return tr, nil
	}

	var (
		err    error
		settle = c.delays.AfterRebootCommand()
	)
	switch {
	case from == model.ModeSystemDebugBridge && to == model.ModeBootloaderFastboot:
		err = c.bridge.Reboot(ctx, "bootloader")
	case from == model.ModeSystemDebugBridge && to == model.ModeEmergencyDownload:
		err = c.bridge.Reboot(ctx, "edl")
	case from == model.ModeBootloaderFastboot && to == model.ModeSystemDebugBridge:
		err = c.bootloader.Reboot(ctx, "")
	case from == model.ModeEmergencyDownload && to == model.ModeSystemDebugBridge:
		if c.port == "" {
			if _, err := c.Probe(ctx); err != nil {
				return tr, err
			}
		}
		if c.port == "" {
			return tr, errors.New("no emergency-download port to reset")
		}
		err = c.transport.Reset(ctx, c.port)
		settle = c.delays.AfterReset()
	default:
		tr.Outcome = model.ManualActionRequired
		tr.Instruction = manualInstruction(to)
		c.sink.Emit(ctx, model.Event{
			Kind:    model.EventManualAction,
			Step:    "transition",
			Message: tr.Instruction,
			Fields:  map[string]any{"from": from.String(), "to": to.String()},
		})
		return tr, nil
	}
	if err != nil {
		return tr, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	tr.Outcome = model.TransitionIssued
	c.mode = model.ModeUnknown
	c.logger.WithFields(logrus.Fields{"from": from, "to": to}).Info("mode change issued")
	if err := c.sleep(ctx, settle); err != nil {
		return tr, err
	}
	return tr, nil
}

func manualInstruction(to model.DeviceMode) string {
	switch to {
	case model.ModeEmergencyDownload:
		return "boot the device into EDL mode now (power off, then hold the download key combination while connecting USB)"
	case model.ModeBootloaderFastboot:
		return "boot the device into fastboot mode now (power off, then hold volume down while powering on)"
	case model.ModeSystemDebugBridge:
		return "boot the device into the system with USB debugging enabled"
	default:
		return "put the device into a known mode"
	}
}

// Reach drives the device into target, surfacing a manual step when no command applies,
// and waits until the mode is confirmed.
func (c *Controller) Reach(ctx context.Context, target model.DeviceMode) error {
	from, err := c.Probe(ctx)
	if err != nil {
		return err
	}
	if from == target {
		return nil
	}
	if _, err := c.RequestTransition(ctx, from, target); err != nil {
		return err
	}
	return c.WaitForMode(ctx, target)
}

// ResolveActiveSlotSuffix queries the slot through the facility of the current mode.
func (c *Controller) ResolveActiveSlotSuffix(ctx context.Context) (string, bool) {
	var (
		raw string
		err error
	)
	switch c.mode {
	case model.ModeSystemDebugBridge:
		raw, err = c.bridge.GetProp(ctx, slotSuffixProp)
	case model.ModeBootloaderFastboot:
		raw, err = c.bootloader.GetVar(ctx, currentSlotVar)
	default:
		return "", false
	}
	if err != nil {
		c.logger.WithField("mode", c.mode).WithError(err).Warn("slot query failed")
		return "", false
	}
	return NormalizeSlotSuffix(raw)
}

// NormalizeSlotSuffix maps "a", "_a", "b" and "_b" to their suffix form.
func NormalizeSlotSuffix(raw string) (string, bool) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "_")
	switch s {
	case "a", "b":
		return "_" + s, true
	default:
		return "", false
	}
}

// DetectActiveSlot finds the active slot, preferring the debug bridge and falling back to
// the bootloader. Failure to detect yields an empty suffix with a warning. When the bridge
// is in use the device is returned to the system afterwards.
func (c *Controller) DetectActiveSlot(ctx context.Context, skipBridge bool) (model.SlotDetection, error) {
	if !skipBridge && c.bridge != nil {
		if ok, err := c.bridge.Connected(ctx); err == nil && ok {
			c.mode = model.ModeSystemDebugBridge
			if suffix, ok := c.ResolveActiveSlotSuffix(ctx); ok {
				return model.SlotDetection{Suffix: suffix, Source: model.ModeSystemDebugBridge}, nil
			}
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return model.SlotDetection{}, ctxErr
		}
		c.sink.Emit(ctx, model.Event{Kind: model.EventWarning, Step: "slot", Message: "active slot not detected via adb, trying fastboot"})
	}

	from, err := c.Probe(ctx)
	if err != nil {
		return model.SlotDetection{}, err
	}
	if skipBridge && from == model.ModeSystemDebugBridge {
		from = model.ModeUnknown
	}
	if _, err := c.RequestTransition(ctx, from, model.ModeBootloaderFastboot); err != nil {
		if ctx.Err() != nil {
			return model.SlotDetection{}, ctx.Err()
		}
		c.logger.WithError(err).Warn("reboot to bootloader failed")
		c.sink.Emit(ctx, model.Event{Kind: model.EventWarning, Step: "slot", Message: "reboot to bootloader failed: " + err.Error()})
	}
	if err := c.WaitForMode(ctx, model.ModeBootloaderFastboot); err != nil {
		return model.SlotDetection{}, err
	}

	det := model.SlotDetection{Source: model.ModeBootloaderFastboot}
	if suffix, ok := c.ResolveActiveSlotSuffix(ctx); ok {
		det.Suffix = suffix
	} else {
		det.Source = model.ModeUnknown
		det.Warning = "active slot could not be detected; continuing without a slot suffix"
		c.sink.Emit(ctx, model.Event{Kind: model.EventWarning, Step: "slot", Message: det.Warning})
	}

	if !skipBridge {
		if _, err := c.RequestTransition(ctx, model.ModeBootloaderFastboot, model.ModeSystemDebugBridge); err != nil {
			return det, err
		}
		if err := c.WaitForMode(ctx, model.ModeSystemDebugBridge); err != nil {
			return det, err
		}
	}
	return det, nil
}
