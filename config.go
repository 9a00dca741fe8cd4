// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// OutputFormat selects the encoding of encrypted artifacts.
type OutputFormat int

const (
	// Binary is the native age format.
	Binary OutputFormat = iota
	// ASCIIArmor is the PEM-style armored encoding (age -a).
	ASCIIArmor
)

func (f OutputFormat) String() string {
	if f == ASCIIArmor {
		return "ascii-armor"
	}
	return "binary"
}

// StreamingStrategy selects how the streaming adapter moves large inputs
// through age.
type StreamingStrategy int

const (
	// StrategyTempFile materializes sources to scoped temporary files.
	StrategyTempFile StreamingStrategy = iota
	// StrategyPipe streams through inheritable pipes, with the pty
	// reserved for prompt exchange.
	StrategyPipe
	// StrategyAuto decides path-based calls per call from endpoint types
	// and size; reader-to-writer stream calls use pipes.
	StrategyAuto
)

func (s StreamingStrategy) String() string {
	switch s {
	case StrategyPipe:
		return "pipe"
	case StrategyAuto:
		return "auto"
	default:
		return "tempfile"
	}
}

// TelemetryFormat selects the audit sink encoding.
type TelemetryFormat int

const (
	TelemetryText TelemetryFormat = iota
	TelemetryJSON
)

// Default automation budgets.
const (
	DefaultPromptTimeout       = 10 * time.Second
	DefaultOverallTimeout      = 120 * time.Second
	DefaultMaxPassphraseLength = 1024
)

// defaultPromptKeywords are the substrings recognized as age passphrase
// prompts. Matching is case-insensitive and does not require a line
// terminator.
var defaultPromptKeywords = []string{
	"enter passphrase",
	"confirm passphrase",
	"passphrase:",
}

// Config is the runtime configuration snapshot. It is frozen at manager
// construction and shared by immutable reference; callers must not
// mutate it afterwards.
type Config struct {
	Format              OutputFormat
	MaxPassphraseLength int
	Strategy            StreamingStrategy
	Telemetry           TelemetryFormat
	AuditLogPath        string

	// AllowedRoot, when set, rejects operation paths outside it.
	AllowedRoot string

	// BackupDirectory receives .bak files when set; otherwise backups
	// are created next to the original.
	BackupDirectory string

	PromptKeywords []string
	PromptTimeout  time.Duration
	OverallTimeout time.Duration

	AgeBinary    string
	KeygenBinary string
}

// DefaultConfig returns the production defaults, with the streaming
// strategy taken from CAGE_STREAMING_STRATEGY.
func DefaultConfig() *Config {
	return &Config{
		Format:              Binary,
		MaxPassphraseLength: DefaultMaxPassphraseLength,
		Strategy:            StrategyFromEnv(),
		Telemetry:           TelemetryText,
		PromptKeywords:      append([]string(nil), defaultPromptKeywords...),
		PromptTimeout:       DefaultPromptTimeout,
		OverallTimeout:      DefaultOverallTimeout,
		AgeBinary:           "age",
		KeygenBinary:        "age-keygen",
	}
}

// StrategyFromEnv reads CAGE_STREAMING_STRATEGY. Unknown values and the
// empty string mean StrategyTempFile.
func StrategyFromEnv() StreamingStrategy {
	switch strings.ToLower(os.Getenv("CAGE_STREAMING_STRATEGY")) {
	case "pipe", "pipes":
		return StrategyPipe
	case "auto":
		return StrategyAuto
	default:
		return StrategyTempFile
	}
}

// configFile is the on-disk representation of cage.toml.
type configFile struct {
	Encryption struct {
		Format              string `toml:"format"`
		MaxPassphraseLength int    `toml:"max_passphrase_length"`
	} `toml:"encryption"`
	Streaming struct {
		Strategy string `toml:"strategy"`
	} `toml:"streaming"`
	Telemetry struct {
		Format   string `toml:"format"`
		AuditLog string `toml:"audit_log"`
	} `toml:"telemetry"`
	Backup struct {
		Directory string `toml:"directory"`
	} `toml:"backup"`
	Timeouts struct {
		PromptSeconds  int `toml:"prompt_seconds"`
		OverallSeconds int `toml:"overall_seconds"`
	} `toml:"timeouts"`
}

// LoadConfig reads a cage.toml and overlays it on the defaults. The
// CAGE_STREAMING_STRATEGY environment variable wins over the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read config", Path: path, Err: err}
	}
	var cf configFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(cf.Encryption.Format) {
	case "", "binary":
	case "ascii-armor", "armor":
		cfg.Format = ASCIIArmor
	default:
		return nil, fmt.Errorf("parse %s: unknown output format %q", path, cf.Encryption.Format)
	}
	if cf.Encryption.MaxPassphraseLength > 0 {
		cfg.MaxPassphraseLength = cf.Encryption.MaxPassphraseLength
	}
	if os.Getenv("CAGE_STREAMING_STRATEGY") == "" {
		switch strings.ToLower(cf.Streaming.Strategy) {
		case "", "temp", "tempfile":
		case "pipe", "pipes":
			cfg.Strategy = StrategyPipe
		case "auto":
			cfg.Strategy = StrategyAuto
		default:
			return nil, fmt.Errorf("parse %s: unknown streaming strategy %q", path, cf.Streaming.Strategy)
		}
	}
	switch strings.ToLower(cf.Telemetry.Format) {
	case "", "text":
	case "json":
		cfg.Telemetry = TelemetryJSON
	default:
		return nil, fmt.Errorf("parse %s: unknown telemetry format %q", path, cf.Telemetry.Format)
	}
	cfg.AuditLogPath = cf.Telemetry.AuditLog
	cfg.BackupDirectory = cf.Backup.Directory
	if cf.Timeouts.PromptSeconds > 0 {
		cfg.PromptTimeout = time.Duration(cf.Timeouts.PromptSeconds) * time.Second
	}
	if cf.Timeouts.OverallSeconds > 0 {
		cfg.OverallTimeout = time.Duration(cf.Timeouts.OverallSeconds) * time.Second
	}
	return cfg, nil
}

// ConfigPath resolves the cage.toml location: CAGE_CONFIG if set,
// otherwise the XDG config directory.
func ConfigPath() string {
	if p := os.Getenv("CAGE_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "cage.toml"
	}
	return filepath.Join(dir, "cage", "cage.toml")
}
