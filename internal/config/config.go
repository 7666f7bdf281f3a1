/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides configuration management for the redo log engine.

The configuration system supports multiple sources with clear precedence:
 1. Command-line flags (highest priority)
 2. Environment variables
 3. Configuration file
 4. Default values (lowest priority)

Configuration File Format:
The configuration file uses TOML format for readability and ease of use.

Example configuration file:

	# redolog configuration
	log_group_home_dir = "/var/lib/redolog"
	log_buffer_size = 16777216   # 16MB
	log_file_size = 536870912    # 512MB circular data file
	thread_concurrency = 4
	encrypt_log = false
	file_flush_method = "fsync"
	file_backend = "file"
	log_write_ahead_size = 8192
	log_level = "info"
	log_json = false

IMPORTANT - Data-at-Rest Encryption:
When encrypt_log is enabled, you MUST provide a passphrase via the
REDOLOG_ENCRYPTION_PASSPHRASE environment variable (the engine derives the
block cipher key from it with PBKDF2).

Environment Variables:
  - REDOLOG_LOG_GROUP_HOME_DIR: directory holding the main log file and the circular data file
  - REDOLOG_LOG_BUFFER_SIZE: in-memory log buffer size, bytes
  - REDOLOG_LOG_FILE_SIZE: circular data file size, bytes
  - REDOLOG_THREAD_CONCURRENCY: expected number of concurrent MTR writers (passed into the engine's Config; nothing in the engine is sized from it)
  - REDOLOG_ENCRYPT_LOG: enable block-level log encryption (true/false)
  - REDOLOG_ENCRYPTION_PASSPHRASE: passphrase for encryption key derivation (required when encrypt_log is enabled)
  - REDOLOG_FILE_FLUSH_METHOD: fsync or O_DSYNC
  - REDOLOG_FILE_BACKEND: file (ordinary OS file) or pmem (mapped persistent-memory file)
  - REDOLOG_LOG_WRITE_AHEAD_SIZE: write-ahead size in bytes (passed into the engine's Config; the engine does not read it)
  - REDOLOG_LOG_LEVEL: log level (debug, info, warn, error)
  - REDOLOG_LOG_JSON: enable JSON logging (true/false)
  - REDOLOG_CONFIG_FILE: path to configuration file
  - REDOLOG_METRICS_ADDR: host:port the metrics/control HTTP server listens on
  - REDOLOG_NODE_ID: identifier this daemon advertises itself as
  - REDOLOG_DISCOVERY_ENABLED: advertise this daemon over mDNS (true/false)
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names for configuration.
const (
	EnvLogGroupHomeDir      = "REDOLOG_LOG_GROUP_HOME_DIR"
	EnvLogBufferSize        = "REDOLOG_LOG_BUFFER_SIZE"
	EnvLogFileSize          = "REDOLOG_LOG_FILE_SIZE"
	EnvThreadConcurrency    = "REDOLOG_THREAD_CONCURRENCY"
	EnvEncryptLog           = "REDOLOG_ENCRYPT_LOG"
	EnvEncryptionPassphrase = "REDOLOG_ENCRYPTION_PASSPHRASE"
	EnvFileFlushMethod      = "REDOLOG_FILE_FLUSH_METHOD"
	EnvFileBackend          = "REDOLOG_FILE_BACKEND"
	EnvLogWriteAheadSize    = "REDOLOG_LOG_WRITE_AHEAD_SIZE"
	EnvLogLevel             = "REDOLOG_LOG_LEVEL"
	EnvLogJSON              = "REDOLOG_LOG_JSON"
	EnvConfigFile           = "REDOLOG_CONFIG_FILE"
	EnvMetricsAddr          = "REDOLOG_METRICS_ADDR"
	EnvNodeID               = "REDOLOG_NODE_ID"
	EnvDiscoveryEnabled     = "REDOLOG_DISCOVERY_ENABLED"
)

// GetDefaultHomeDir returns the default directory for the log group.
// For root users, it uses /var/lib/redolog (Filesystem Hierarchy Standard).
// For non-root users, it uses ~/.local/share/redolog (XDG Base Directory).
func GetDefaultHomeDir() string {
	if os.Getuid() == 0 {
		return "/var/lib/redolog"
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "redolog")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "redolog")
	}
	return "./data"
}

// Default configuration file paths (searched in order).
var DefaultConfigPaths = []string{
	"/etc/redolog/redolog.conf",
	"$HOME/.config/redolog/redolog.conf",
	"./redolog.conf",
}

// Config holds all configuration values for the redo log engine.
type Config struct {
	// Physical log layout
	LogGroupHomeDir   string `toml:"log_group_home_dir" json:"log_group_home_dir"`
	LogBufferSize     int    `toml:"log_buffer_size" json:"log_buffer_size"`
	LogFileSize       uint64 `toml:"log_file_size" json:"log_file_size"`
	ThreadConcurrency int    `toml:"thread_concurrency" json:"thread_concurrency"`
	FileFlushMethod   string `toml:"file_flush_method" json:"file_flush_method"` // "fsync" or "o_dsync"
	FileBackend       string `toml:"file_backend" json:"file_backend"`           // "file" or "pmem"
	LogWriteAheadSize int    `toml:"log_write_ahead_size" json:"log_write_ahead_size"`

	// Buffer pool sizing, shared with the external buffer-pool collaborator
	BufferPoolSize int `toml:"buffer_pool_size" json:"buffer_pool_size"` // 0 = auto-size

	// Encryption configuration for data at rest
	EncryptLog           bool   `toml:"encrypt_log" json:"encrypt_log"`
	EncryptionPassphrase string `toml:"-" json:"-"` // not persisted to file for security

	// Logging configuration
	LogLevel string `toml:"log_level" json:"log_level"`
	LogJSON  bool   `toml:"log_json" json:"log_json"`

	// Daemon surface: metrics/control HTTP endpoint and optional mDNS
	// advertisement of it, for redologctl to find without a host:port.
	MetricsAddr      string `toml:"metrics_addr" json:"metrics_addr"`
	NodeID           string `toml:"node_id" json:"node_id"`
	DiscoveryEnabled bool   `toml:"discovery_enabled" json:"discovery_enabled"`

	// Metadata
	ConfigFile string `toml:"-" json:"-"` // path to loaded config file
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		LogGroupHomeDir:      GetDefaultHomeDir(),
		LogBufferSize:        16 * 1024 * 1024, // 16MB
		LogFileSize:          512 * 1024 * 1024, // 512MB circular data file
		ThreadConcurrency:    4,
		FileFlushMethod:      "fsync",
		FileBackend:          "file",
		LogWriteAheadSize:    8192,
		BufferPoolSize:       0, // auto-size
		EncryptLog:           false,
		EncryptionPassphrase: "",
		LogLevel:             "info",
		LogJSON:              false,
		MetricsAddr:          ":9187",
		NodeID:               defaultNodeID(),
		DiscoveryEnabled:     false,
	}
}

// defaultNodeID derives a stable-enough node identifier from the host
// name, falling back to a generic label when the hostname is
// unavailable (e.g. a sandboxed container with no hostname set).
func defaultNodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "redologd"
}

// Manager handles configuration loading, validation, and access.
type Manager struct {
	config *Config
	mu     sync.RWMutex

	// Callbacks for configuration changes (for hot-reload support)
	onReload []func(*Config)
}

// NewManager creates a new configuration manager with default values.
func NewManager() *Manager {
	return &Manager{
		config:   DefaultConfig(),
		onReload: make([]func(*Config), 0),
	}
}

// Global manager instance for convenience.
var globalManager = NewManager()

// Global returns the global configuration manager.
func Global() *Manager {
	return globalManager
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the configuration.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// OnReload registers a callback to be called when configuration is reloaded.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// notifyReload calls all registered reload callbacks.
func (m *Manager) notifyReload() {
	m.mu.RLock()
	callbacks := make([]func(*Config), len(m.onReload))
	copy(callbacks, m.onReload)
	cfg := m.config
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.LogGroupHomeDir == "" {
		errs = append(errs, "log_group_home_dir cannot be empty")
	}
	if c.LogBufferSize < 16*512 {
		errs = append(errs, fmt.Sprintf("log_buffer_size too small: %d (must be at least 16 blocks)", c.LogBufferSize))
	}
	if c.LogFileSize < 4*512 {
		errs = append(errs, fmt.Sprintf("log_file_size too small: %d (must hold the 4-block main file layout)", c.LogFileSize))
	}
	if c.ThreadConcurrency < 1 {
		errs = append(errs, fmt.Sprintf("invalid thread_concurrency: %d (must be >= 1)", c.ThreadConcurrency))
	}

	switch strings.ToLower(c.FileFlushMethod) {
	case "fsync", "o_dsync":
		// valid
	default:
		errs = append(errs, fmt.Sprintf("invalid file_flush_method: %s (must be fsync or o_dsync)", c.FileFlushMethod))
	}

	switch strings.ToLower(c.FileBackend) {
	case "file", "pmem":
		// valid
	default:
		errs = append(errs, fmt.Sprintf("invalid file_backend: %s (must be file or pmem)", c.FileBackend))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}

	// Encryption passphrase validation is intentionally NOT done here; it is
	// checked at startup so the config remains valid for display/save
	// purposes even without a passphrase set.

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// LoadFromFile loads configuration from a TOML file.
func (m *Manager) LoadFromFile(path string) error {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := parseTOML(string(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// This merges with existing configuration (env vars override file values).
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvLogGroupHomeDir); v != "" {
		cfg.LogGroupHomeDir = v
	}
	if v := os.Getenv(EnvLogBufferSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogBufferSize = n
		}
	}
	if v := os.Getenv(EnvLogFileSize); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.LogFileSize = n
		}
	}
	if v := os.Getenv(EnvThreadConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ThreadConcurrency = n
		}
	}
	if v := os.Getenv(EnvEncryptLog); v != "" {
		cfg.EncryptLog = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvEncryptionPassphrase); v != "" {
		cfg.EncryptionPassphrase = v
	}
	if v := os.Getenv(EnvFileFlushMethod); v != "" {
		cfg.FileFlushMethod = v
	}
	if v := os.Getenv(EnvFileBackend); v != "" {
		cfg.FileBackend = v
	}
	if v := os.Getenv(EnvLogWriteAheadSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogWriteAheadSize = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv(EnvNodeID); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv(EnvDiscoveryEnabled); v != "" {
		cfg.DiscoveryEnabled = strings.ToLower(v) == "true" || v == "1"
	}

	m.Set(cfg)
}

// FindConfigFile searches for a configuration file in default locations.
// Returns the path to the first file found, or empty string if none found.
func FindConfigFile() string {
	if envPath := os.Getenv(EnvConfigFile); envPath != "" {
		if _, err := os.Stat(os.ExpandEnv(envPath)); err == nil {
			return os.ExpandEnv(envPath)
		}
	}

	for _, path := range DefaultConfigPaths {
		expandedPath := os.ExpandEnv(path)
		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath
		}
	}

	return ""
}

// Load loads configuration from all sources with proper precedence.
// Order: defaults -> config file -> environment variables
// Command-line flags should be applied after calling this function.
func (m *Manager) Load() error {
	configPath := FindConfigFile()
	if configPath != "" {
		if err := m.LoadFromFile(configPath); err != nil {
			return err
		}
	}

	m.LoadFromEnv()

	return nil
}

// Reload reloads configuration from file and environment.
func (m *Manager) Reload() error {
	cfg := m.Get()
	configPath := cfg.ConfigFile

	if configPath == "" {
		configPath = FindConfigFile()
	}

	m.Set(DefaultConfig())

	if configPath != "" {
		if err := m.LoadFromFile(configPath); err != nil {
			return err
		}
	}

	m.LoadFromEnv()
	m.notifyReload()

	return nil
}

// parseTOML is a simple TOML parser for our configuration format.
// It handles the subset of TOML we need without external dependencies.
func parseTOML(data string, cfg *Config) error {
	lines := strings.Split(data, "\n")

	for lineNum, line := range lines {
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)

		if line == "" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("line %d: invalid syntax: %s", lineNum+1, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := applyConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum+1, err)
		}
	}

	return nil
}

// applyConfigValue applies a key-value pair to the configuration.
func applyConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "log_group_home_dir":
		cfg.LogGroupHomeDir = value
	case "log_buffer_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid log_buffer_size value: %s", value)
		}
		cfg.LogBufferSize = n
	case "log_file_size":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid log_file_size value: %s", value)
		}
		cfg.LogFileSize = n
	case "thread_concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid thread_concurrency value: %s", value)
		}
		cfg.ThreadConcurrency = n
	case "buffer_pool_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid buffer_pool_size value: %s", value)
		}
		cfg.BufferPoolSize = n
	case "encrypt_log":
		cfg.EncryptLog = strings.ToLower(value) == "true" || value == "1"
	case "file_flush_method":
		cfg.FileFlushMethod = value
	case "file_backend":
		cfg.FileBackend = value
	case "log_write_ahead_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid log_write_ahead_size value: %s", value)
		}
		cfg.LogWriteAheadSize = n
	case "log_level":
		cfg.LogLevel = value
	case "log_json":
		cfg.LogJSON = strings.ToLower(value) == "true" || value == "1"
	case "metrics_addr":
		cfg.MetricsAddr = value
	case "node_id":
		cfg.NodeID = value
	case "discovery_enabled":
		cfg.DiscoveryEnabled = strings.ToLower(value) == "true" || value == "1"
	default:
		// Ignore unknown keys for forward compatibility
	}

	return nil
}

// String returns a string representation of the configuration.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("redolog Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Log Group Home:      %s\n", c.LogGroupHomeDir))
	sb.WriteString(fmt.Sprintf("  Log Buffer Size:     %d\n", c.LogBufferSize))
	sb.WriteString(fmt.Sprintf("  Log File Size:       %d\n", c.LogFileSize))
	sb.WriteString(fmt.Sprintf("  Thread Concurrency:  %d\n", c.ThreadConcurrency))
	sb.WriteString(fmt.Sprintf("  File Flush Method:   %s\n", c.FileFlushMethod))
	sb.WriteString(fmt.Sprintf("  File Backend:        %s\n", c.FileBackend))
	sb.WriteString(fmt.Sprintf("  Encrypt Log:         %v\n", c.EncryptLog))
	sb.WriteString(fmt.Sprintf("  Log Level:           %s\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("  Log JSON:            %v\n", c.LogJSON))
	if c.ConfigFile != "" {
		sb.WriteString(fmt.Sprintf("  Config File:         %s\n", c.ConfigFile))
	}
	return sb.String()
}

// IsEncryptionEnabled returns true if data-at-rest encryption is enabled.
func (c *Config) IsEncryptionEnabled() bool {
	return c.EncryptLog
}

// ToTOML returns the configuration as a TOML string.
func (c *Config) ToTOML() string {
	var sb strings.Builder
	sb.WriteString("# redolog configuration file\n\n")
	sb.WriteString("# Physical log layout\n")
	sb.WriteString(fmt.Sprintf("log_group_home_dir = \"%s\"\n", c.LogGroupHomeDir))
	sb.WriteString(fmt.Sprintf("log_buffer_size = %d\n", c.LogBufferSize))
	sb.WriteString(fmt.Sprintf("log_file_size = %d\n", c.LogFileSize))
	sb.WriteString(fmt.Sprintf("thread_concurrency = %d\n", c.ThreadConcurrency))
	sb.WriteString(fmt.Sprintf("file_flush_method = \"%s\"\n", c.FileFlushMethod))
	sb.WriteString(fmt.Sprintf("file_backend = \"%s\"\n", c.FileBackend))
	sb.WriteString(fmt.Sprintf("log_write_ahead_size = %d\n\n", c.LogWriteAheadSize))
	sb.WriteString("# Buffer pool\n")
	sb.WriteString(fmt.Sprintf("buffer_pool_size = %d\n\n", c.BufferPoolSize))
	sb.WriteString("# Data-at-rest encryption\n")
	sb.WriteString("# When enabled, set REDOLOG_ENCRYPTION_PASSPHRASE before starting\n")
	sb.WriteString(fmt.Sprintf("encrypt_log = %v\n\n", c.EncryptLog))
	sb.WriteString("# Logging\n")
	sb.WriteString(fmt.Sprintf("log_level = \"%s\"\n", c.LogLevel))
	sb.WriteString(fmt.Sprintf("log_json = %v\n", c.LogJSON))
	return sb.String()
}

// SaveToFile saves the configuration to a file.
func (c *Config) SaveToFile(path string) error {
	path = os.ExpandEnv(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(c.ToTOML()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// validate is an internal method that validates configuration.
func (m *Manager) validate(cfg *Config) error {
	return cfg.Validate()
}
