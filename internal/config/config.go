/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kentakayama/arbkit/resources"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	EnvConfigPath     = "ARBKIT_CONFIG"
	EnvImageDir       = "ARBKIT_IMAGE_DIR"
	EnvWorkDir        = "ARBKIT_WORK_DIR"
	EnvDatabasePath   = "ARBKIT_DATABASE"
	EnvManifestSecret = "ARBKIT_MANIFEST_SECRET"
	EnvLoaderPath     = "ARBKIT_EDL_LOADER"
	EnvEDLPort        = "ARBKIT_EDL_PORT"
	EnvReceiptKeyPath = "ARBKIT_RECEIPT_KEY"
	EnvLogLevel       = "ARBKIT_LOG_LEVEL"
	EnvSkipADB        = "SKIP_ADB"
)

// ToolsConfig holds the paths of the external executables.
type ToolsConfig struct {
	ADB      string `yaml:"adb"`
	Fastboot string `yaml:"fastboot"`
	FhLoader string `yaml:"fh_loader"`
	Sahara   string `yaml:"sahara"`
	Python   string `yaml:"python"`
	Avbtool  string `yaml:"avbtool"`
}

// EDLConfig captures the emergency-download transport settings.
type EDLConfig struct {
	LoaderPath string `yaml:"loader_path"`
	Port       string `yaml:"port"`
	MemoryName string `yaml:"memory_name"`
	SysfsRoot  string `yaml:"sysfs_root"`
}

// DelayConfig holds the fixed settle waits, in milliseconds.
type DelayConfig struct {
	PollIntervalMs       int `yaml:"poll_interval_ms"`
	AfterProgrammerMs    int `yaml:"after_programmer_ms"`
	BetweenOperationsMs  int `yaml:"between_operations_ms"`
	AfterResetMs         int `yaml:"after_reset_ms"`
	AfterRebootCommandMs int `yaml:"after_reboot_command_ms"`
}

func (d DelayConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

func (d DelayConfig) AfterProgrammer() time.Duration {
	return time.Duration(d.AfterProgrammerMs) * time.Millisecond
}

func (d DelayConfig) BetweenOperations() time.Duration {
	return time.Duration(d.BetweenOperationsMs) * time.Millisecond
}

func (d DelayConfig) AfterReset() time.Duration {
	return time.Duration(d.AfterResetMs) * time.Millisecond
}

func (d DelayConfig) AfterRebootCommand() time.Duration {
	return time.Duration(d.AfterRebootCommandMs) * time.Millisecond
}

// KeyConfig registers a signing key. Fingerprint may be left empty, in which case it is
// computed from the key file.
type KeyConfig struct {
	Label       string `yaml:"label"`
	Path        string `yaml:"path"`
	Fingerprint string `yaml:"fingerprint"`
}

// Config captures everything the toolkit needs at runtime.
type Config struct {
	ImageDir       string      `yaml:"image_dir"`
	ManifestDirs   []string    `yaml:"manifest_dirs"`
	WorkDir        string      `yaml:"work_dir"`
	DatabasePath   string      `yaml:"database"`
	ManifestSecret string      `yaml:"manifest_secret"`
	ReceiptKeyPath string      `yaml:"receipt_key"`
	LogLevel       string      `yaml:"log_level"`
	LogFormat      string      `yaml:"log_format"`
	SkipADB        bool        `yaml:"skip_adb"`
	Tools          ToolsConfig `yaml:"tools"`
	EDL            EDLConfig   `yaml:"edl"`
	Delays         DelayConfig `yaml:"delays"`
	Keys           []KeyConfig `yaml:"keys"`

	Logger *logrus.Logger `yaml:"-"`
}

// Default returns the embedded default configuration.
func Default() (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(resources.DefaultConfigYAML, &cfg); err != nil {
		return Config{}, fmt.Errorf("embedded config: %w", err)
	}
	return cfg, nil
}

// Load reads the defaults, overlays the YAML file at path (if any) and the environment,
// then validates the result.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return Config{}, err
	}
	cfg.Logger = logger
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ImageDir = envOrDefault(EnvImageDir, c.ImageDir)
	c.WorkDir = envOrDefault(EnvWorkDir, c.WorkDir)
	c.DatabasePath = envOrDefault(EnvDatabasePath, c.DatabasePath)
	c.ManifestSecret = envOrDefault(EnvManifestSecret, c.ManifestSecret)
	c.EDL.LoaderPath = envOrDefault(EnvLoaderPath, c.EDL.LoaderPath)
	c.EDL.Port = envOrDefault(EnvEDLPort, c.EDL.Port)
	c.ReceiptKeyPath = envOrDefault(EnvReceiptKeyPath, c.ReceiptKeyPath)
	c.LogLevel = envOrDefault(EnvLogLevel, c.LogLevel)
	c.SkipADB = boolEnvOrDefault(EnvSkipADB, c.SkipADB)
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.ImageDir == "" {
		return fmt.Errorf("invalid image_dir: must not be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("invalid work_dir: must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("invalid database: must not be empty")
	}
	if c.ManifestSecret == "" {
		return fmt.Errorf("invalid manifest_secret: must not be empty")
	}
	if c.Delays.PollIntervalMs <= 0 {
		return fmt.Errorf("invalid delays.poll_interval_ms: must be > 0")
	}
	for name, v := range map[string]int{
		"after_programmer_ms":     c.Delays.AfterProgrammerMs,
		"between_operations_ms":   c.Delays.BetweenOperationsMs,
		"after_reset_ms":          c.Delays.AfterResetMs,
		"after_reboot_command_ms": c.Delays.AfterRebootCommandMs,
	} {
		if v < 0 {
			return fmt.Errorf("invalid delays.%s: must be >= 0", name)
		}
	}
	for i, k := range c.Keys {
		if k.Path == "" {
			return fmt.Errorf("invalid keys[%d]: path must not be empty", i)
		}
	}
	return nil
}

// AllManifestDirs returns the directories scanned for manifests, defaulting to the image directory.
func (c Config) AllManifestDirs() []string {
	if len(c.ManifestDirs) > 0 {
		return c.ManifestDirs
	}
	return []string{c.ImageDir}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolEnvOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
