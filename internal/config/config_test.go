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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogBufferSize != 16*1024*1024 {
		t.Errorf("Expected default log_buffer_size 16MB, got %d", cfg.LogBufferSize)
	}
	if cfg.LogFileSize != 512*1024*1024 {
		t.Errorf("Expected default log_file_size 512MB, got %d", cfg.LogFileSize)
	}
	if cfg.ThreadConcurrency != 4 {
		t.Errorf("Expected default thread_concurrency 4, got %d", cfg.ThreadConcurrency)
	}
	if cfg.FileFlushMethod != "fsync" {
		t.Errorf("Expected default file_flush_method 'fsync', got '%s'", cfg.FileFlushMethod)
	}
	if cfg.FileBackend != "file" {
		t.Errorf("Expected default file_backend 'file', got '%s'", cfg.FileBackend)
	}
	if cfg.EncryptLog {
		t.Errorf("Expected default encrypt_log false, got %v", cfg.EncryptLog)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log_level 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != false {
		t.Errorf("Expected default log_json false, got %v", cfg.LogJSON)
	}
}

func validTestConfig() *Config {
	return DefaultConfig()
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid default config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "log buffer too small",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.LogBufferSize = 100
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "log file too small",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.LogFileSize = 10
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid thread concurrency",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.ThreadConcurrency = 0
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid flush method",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.FileFlushMethod = "bogus"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid file backend",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.FileBackend = "bogus"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.LogLevel = "invalid"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "empty home dir",
			cfg: func() *Config {
				cfg := validTestConfig()
				cfg.LogGroupHomeDir = ""
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "redolog_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `# Test configuration
log_group_home_dir = "/tmp/redolog-test"
log_buffer_size = 1048576
log_file_size = 2097152
thread_concurrency = 8
log_level = "debug"
log_json = true
`

	configPath := filepath.Join(tmpDir, "redolog.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()

	if cfg.LogGroupHomeDir != "/tmp/redolog-test" {
		t.Errorf("Expected log_group_home_dir '/tmp/redolog-test', got '%s'", cfg.LogGroupHomeDir)
	}
	if cfg.LogBufferSize != 1048576 {
		t.Errorf("Expected log_buffer_size 1048576, got %d", cfg.LogBufferSize)
	}
	if cfg.ThreadConcurrency != 8 {
		t.Errorf("Expected thread_concurrency 8, got %d", cfg.ThreadConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true, got %v", cfg.LogJSON)
	}
	if cfg.ConfigFile != configPath {
		t.Errorf("Expected ConfigFile '%s', got '%s'", configPath, cfg.ConfigFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	origBufSize := os.Getenv(EnvLogBufferSize)
	origLevel := os.Getenv(EnvLogLevel)
	origJSON := os.Getenv(EnvLogJSON)
	origPassphrase := os.Getenv(EnvEncryptionPassphrase)

	defer func() {
		os.Setenv(EnvLogBufferSize, origBufSize)
		os.Setenv(EnvLogLevel, origLevel)
		os.Setenv(EnvLogJSON, origJSON)
		os.Setenv(EnvEncryptionPassphrase, origPassphrase)
	}()

	os.Setenv(EnvLogBufferSize, "2097152")
	os.Setenv(EnvLogLevel, "debug")
	os.Setenv(EnvLogJSON, "true")
	os.Setenv(EnvEncryptionPassphrase, "testpassword")

	mgr := NewManager()
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	if cfg.LogBufferSize != 2097152 {
		t.Errorf("Expected log_buffer_size 2097152 from env, got %d", cfg.LogBufferSize)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log_level 'debug' from env, got '%s'", cfg.LogLevel)
	}
	if cfg.LogJSON != true {
		t.Errorf("Expected log_json true from env, got %v", cfg.LogJSON)
	}
	if cfg.EncryptionPassphrase != "testpassword" {
		t.Errorf("Expected encryption_passphrase 'testpassword' from env, got '%s'", cfg.EncryptionPassphrase)
	}
}

func TestLoadFromEnvDaemonSurface(t *testing.T) {
	origAddr := os.Getenv(EnvMetricsAddr)
	origNode := os.Getenv(EnvNodeID)
	origDiscovery := os.Getenv(EnvDiscoveryEnabled)

	defer func() {
		os.Setenv(EnvMetricsAddr, origAddr)
		os.Setenv(EnvNodeID, origNode)
		os.Setenv(EnvDiscoveryEnabled, origDiscovery)
	}()

	os.Setenv(EnvMetricsAddr, ":9999")
	os.Setenv(EnvNodeID, "node-a")
	os.Setenv(EnvDiscoveryEnabled, "true")

	mgr := NewManager()
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if cfg.MetricsAddr != ":9999" {
		t.Errorf("Expected metrics_addr ':9999' from env, got '%s'", cfg.MetricsAddr)
	}
	if cfg.NodeID != "node-a" {
		t.Errorf("Expected node_id 'node-a' from env, got '%s'", cfg.NodeID)
	}
	if !cfg.DiscoveryEnabled {
		t.Error("Expected discovery_enabled true from env")
	}
}

func TestDefaultConfigHasDaemonSurfaceDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MetricsAddr == "" {
		t.Error("expected a non-empty default metrics_addr")
	}
	if cfg.NodeID == "" {
		t.Error("expected a non-empty default node_id")
	}
	if cfg.DiscoveryEnabled {
		t.Error("expected discovery disabled by default")
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "redolog_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `log_buffer_size = 1048576
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "redolog.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	origBufSize := os.Getenv(EnvLogBufferSize)
	defer os.Setenv(EnvLogBufferSize, origBufSize)
	os.Setenv(EnvLogBufferSize, "4194304")

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	if cfg.LogBufferSize != 4194304 {
		t.Errorf("Expected log_buffer_size 4194304 (env override), got %d", cfg.LogBufferSize)
	}
}

func TestToTOML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogGroupHomeDir = "/var/lib/redolog"
	cfg.LogBufferSize = 16777216

	toml := cfg.ToTOML()

	if !contains(toml, "log_group_home_dir = \"/var/lib/redolog\"") {
		t.Error("TOML output missing log_group_home_dir")
	}
	if !contains(toml, "log_buffer_size = 16777216") {
		t.Error("TOML output missing log_buffer_size")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "redolog_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := DefaultConfig()
	cfg.ThreadConcurrency = 16

	configPath := filepath.Join(tmpDir, "subdir", "redolog.conf")
	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	loaded := mgr.Get()
	if loaded.ThreadConcurrency != 16 {
		t.Errorf("Expected thread_concurrency 16, got %d", loaded.ThreadConcurrency)
	}
}

func TestReload(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "redolog_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `thread_concurrency = 2
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "redolog.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.ThreadConcurrency != 2 {
		t.Errorf("Expected initial thread_concurrency 2, got %d", cfg.ThreadConcurrency)
	}

	reloadCalled := false
	mgr.OnReload(func(c *Config) {
		reloadCalled = true
	})

	newContent := `thread_concurrency = 6
log_level = "debug"
`
	if err := os.WriteFile(configPath, []byte(newContent), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cfg = mgr.Get()
	if cfg.ThreadConcurrency != 6 {
		t.Errorf("Expected reloaded thread_concurrency 6, got %d", cfg.ThreadConcurrency)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected reloaded log_level 'debug', got '%s'", cfg.LogLevel)
	}
	if !reloadCalled {
		t.Error("Reload callback was not called")
	}
}

func TestGlobalManager(t *testing.T) {
	mgr := Global()
	if mgr == nil {
		t.Error("Global() returned nil")
	}

	mgr2 := Global()
	if mgr != mgr2 {
		t.Error("Global() returned different instances")
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	str := cfg.String()

	if !contains(str, "Log Buffer Size:") {
		t.Error("String() missing Log Buffer Size")
	}
	if !contains(str, "Thread Concurrency:") {
		t.Error("String() missing Thread Concurrency")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestEncryptionConfigFromFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "redolog_config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `thread_concurrency = 4
encrypt_log = true
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "redolog.conf")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if !cfg.EncryptLog {
		t.Error("Expected encrypt_log true from file, got false")
	}
}

func TestEncryptionConfigFromEnv(t *testing.T) {
	origEnabled := os.Getenv(EnvEncryptLog)
	origPassphrase := os.Getenv(EnvEncryptionPassphrase)

	defer func() {
		os.Setenv(EnvEncryptLog, origEnabled)
		os.Setenv(EnvEncryptionPassphrase, origPassphrase)
	}()

	os.Setenv(EnvEncryptLog, "true")
	os.Setenv(EnvEncryptionPassphrase, "test-passphrase")

	mgr := NewManager()
	mgr.LoadFromEnv()

	cfg := mgr.Get()

	if !cfg.EncryptLog {
		t.Error("Expected encrypt_log true from env, got false")
	}
	if cfg.EncryptionPassphrase != "test-passphrase" {
		t.Errorf("Expected encryption_passphrase 'test-passphrase' from env, got '%s'", cfg.EncryptionPassphrase)
	}
}

func TestEncryptionConfigToTOML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EncryptLog = true

	toml := cfg.ToTOML()

	if !contains(toml, "encrypt_log = true") {
		t.Error("TOML output missing encrypt_log")
	}
}

func TestIsEncryptionEnabled(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.IsEncryptionEnabled() {
		t.Error("Expected IsEncryptionEnabled() to return false for default config")
	}

	cfg.EncryptLog = true
	if !cfg.IsEncryptionEnabled() {
		t.Error("Expected IsEncryptionEnabled() to return true when enabled")
	}
}
