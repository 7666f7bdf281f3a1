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
Package main is the entry point for redologd, the standalone redo log
daemon.

Startup Flow:
=============

  1. Load configuration from file, environment, then command-line flags
     (each source overriding the previous).
  2. Open the main log file and circular data file under the configured
     home directory, reopening at the last checkpoint if one exists.
  3. Open a local buffer pool over a heap file in the same home
     directory, so the engine has a real OldestDirtyProvider behind
     it, with its checkpoint preflush writes backed by a small async
     I/O worker pool instead of the checkpoint caller's own goroutine.
  4. Start the Prometheus metrics/control HTTP server.
  5. Optionally advertise this instance over mDNS so redologctl can find
     it without an operator supplying a host:port.
  6. Block until SIGINT/SIGTERM, then drain in-flight MTRs, checkpoint,
     and close every file handle through the cooperative shutdown
     barrier.

Command-Line Flags:
====================

  -home-dir   : directory holding the main log file, data file, and heap file
  -metrics-addr : host:port the metrics/control HTTP server listens on
  -node-id    : identifier this daemon advertises itself as
  -discovery  : advertise this daemon over mDNS
  -log-level  : debug, info, warn, error
  -log-json   : enable JSON log output
  -config     : path to a configuration file
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firefly-research/redolog/internal/config"
	"github.com/firefly-research/redolog/internal/discovery"
	"github.com/firefly-research/redolog/internal/logging"
	"github.com/firefly-research/redolog/internal/metrics"
	"github.com/firefly-research/redolog/internal/storage/disk"
	"github.com/firefly-research/redolog/internal/storage/redo"
)

// Version is the daemon's reported version string.
const Version = "1.0.0"

func printUsage() {
	fmt.Println()
	fmt.Println("redologd - standalone InnoDB-style redo log daemon")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  redologd [options]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Printf("  -home-dir <path>       Directory for log files (default: %s)\n", config.GetDefaultHomeDir())
	fmt.Println("  -metrics-addr <addr>   Metrics/control HTTP listen address (default: :9187)")
	fmt.Println("  -node-id <id>          Identifier this daemon advertises (default: hostname)")
	fmt.Println("  -discovery             Advertise this daemon over mDNS")
	fmt.Println("  -log-level <level>     Log level: debug, info, warn, error (default: info)")
	fmt.Println("  -log-json              Enable JSON log output")
	fmt.Println("  -config <path>         Path to configuration file")
	fmt.Println("  -version               Show version information")
	fmt.Println("  -help                  Show this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  REDOLOG_LOG_GROUP_HOME_DIR   Directory for log files")
	fmt.Println("  REDOLOG_METRICS_ADDR         Metrics/control HTTP listen address")
	fmt.Println("  REDOLOG_NODE_ID              Identifier this daemon advertises")
	fmt.Println("  REDOLOG_DISCOVERY_ENABLED    Advertise this daemon over mDNS (true/false)")
	fmt.Println("  REDOLOG_ENCRYPTION_PASSPHRASE  Passphrase for block encryption")
	fmt.Println()
}

func main() {
	cfgMgr := config.Global()
	if err := cfgMgr.Load(); err != nil {
		if config.FindConfigFile() != "" {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	cfg := cfgMgr.Get()

	homeDir := flag.String("home-dir", cfg.LogGroupHomeDir, "Directory for log files")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Metrics/control HTTP listen address")
	nodeID := flag.String("node-id", cfg.NodeID, "Identifier this daemon advertises")
	enableDiscovery := flag.Bool("discovery", cfg.DiscoveryEnabled, "Advertise this daemon over mDNS")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", cfg.LogJSON, "Enable JSON log output")
	configFile := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("redologd version %s\n", Version)
		os.Exit(0)
	}
	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *configFile != "" {
		if err := cfgMgr.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file: %v\n", err)
			os.Exit(1)
		}
		cfgMgr.LoadFromEnv()
		cfg = cfgMgr.Get()
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "home-dir":
			cfg.LogGroupHomeDir = *homeDir
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "node-id":
			cfg.NodeID = *nodeID
		case "discovery":
			cfg.DiscoveryEnabled = *enableDiscovery
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-json":
			cfg.LogJSON = *logJSON
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfgMgr.Set(cfg)

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("main")

	if cfg.EncryptLog && cfg.EncryptionPassphrase == "" {
		log.Error("encrypt_log is enabled but no passphrase was provided", "env", config.EnvEncryptionPassphrase)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogGroupHomeDir, 0o750); err != nil {
		log.Error("failed to create log group home directory", "dir", cfg.LogGroupHomeDir, "error", err)
		os.Exit(1)
	}

	log.Info("redologd starting",
		"version", Version,
		"home_dir", cfg.LogGroupHomeDir,
		"metrics_addr", cfg.MetricsAddr,
		"node_id", cfg.NodeID,
	)

	flushMethod := redo.FlushMethodFsync
	if strings.EqualFold(cfg.FileFlushMethod, "o_dsync") {
		flushMethod = redo.FlushMethodODSync
	}

	var mainBackend, dataBackend redo.FileBackend
	var err error
	if strings.EqualFold(cfg.FileBackend, "pmem") {
		mainBackend, err = redo.OpenMappedFileBackend(filepath.Join(cfg.LogGroupHomeDir, "redolog.main"), int64(redo.MainFileSize))
		if err != nil {
			log.Error("failed to map main log file", "error", err)
			os.Exit(1)
		}
		dataBackend, err = redo.OpenMappedFileBackend(filepath.Join(cfg.LogGroupHomeDir, "redolog.data"), int64(cfg.LogFileSize))
		if err != nil {
			log.Error("failed to map circular data file", "error", err)
			os.Exit(1)
		}
	} else {
		mainBackend, err = redo.OpenFileBackend(filepath.Join(cfg.LogGroupHomeDir, "redolog.main"), flushMethod)
		if err != nil {
			log.Error("failed to open main log file", "error", err)
			os.Exit(1)
		}
		dataBackend, err = redo.OpenFileBackend(filepath.Join(cfg.LogGroupHomeDir, "redolog.data"), flushMethod)
		if err != nil {
			log.Error("failed to open circular data file", "error", err)
			os.Exit(1)
		}
	}

	heapPath := filepath.Join(cfg.LogGroupHomeDir, "redolog.pages")
	heapFile, err := disk.OpenHeapFile(heapPath)
	if os.IsNotExist(err) {
		heapFile, err = disk.CreateHeapFile(heapPath)
	}
	if err != nil {
		log.Error("failed to open heap file", "error", err)
		os.Exit(1)
	}
	bufferPool := disk.NewBufferPool(heapFile, cfg.BufferPoolSize)
	bufferPool.EnableAsyncPreflush(disk.DefaultAsyncIOConfig())

	engineCfg := redo.Config{
		LogBufferSize:        cfg.LogBufferSize,
		LogFileSize:          cfg.LogFileSize,
		LogGroupHomeDir:      cfg.LogGroupHomeDir,
		ThreadConcurrency:    cfg.ThreadConcurrency,
		EncryptLog:           cfg.EncryptLog,
		EncryptionPassphrase: cfg.EncryptionPassphrase,
		FlushMethod:          flushMethod,
		LogWriteAheadSize:    cfg.LogWriteAheadSize,
	}

	engine, err := redo.OpenEngine(engineCfg, mainBackend, dataBackend, bufferPool)
	if err != nil {
		engine, err = redo.NewEngine(engineCfg, mainBackend, dataBackend, bufferPool)
		if err != nil {
			log.Error("failed to initialize redo log engine", "error", err)
			os.Exit(1)
		}
		log.Info("initialized a new redo log (no existing checkpoint found)")
	} else {
		log.Info("reopened redo log at last checkpoint", "lsn", engine.LogGetLSN())
	}

	metricsSrv := metrics.NewServer(cfg, cfg.MetricsAddr)
	if err := metricsSrv.Start(); err != nil {
		log.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}

	var advertiser *discovery.Advertiser
	if cfg.DiscoveryEnabled {
		advertiser, err = discovery.NewAdvertiser(discovery.Config{
			NodeID:      cfg.NodeID,
			MetricsAddr: normalizedMetricsAddr(cfg.MetricsAddr),
			HomeDir:     cfg.LogGroupHomeDir,
			Version:     Version,
			Enabled:     true,
		})
		if err != nil {
			log.Error("failed to start mDNS advertisement", "error", err)
		} else {
			log.Info("advertising redologd instance over mDNS", "service", discovery.ServiceType, "node_id", cfg.NodeID)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runFreeCheckLoop(groupCtx, engine, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("redologd is ready", "lsn", engine.LogGetLSN())
	sig := <-sigCh
	log.Info("received shutdown signal, draining", "signal", sig.String())
	cancel()
	if err := group.Wait(); err != nil {
		log.Warn("background driver loop exited with error", "error", err)
	}

	if advertiser != nil {
		advertiser.Stop()
	}
	if err := metricsSrv.Stop(); err != nil {
		log.Error("error stopping metrics server", "error", err)
	}
	if err := engine.ShutdownAndMarkFiles(false); err != nil {
		log.Error("error during engine shutdown", "error", err)
		os.Exit(1)
	}
	if err := heapFile.Close(); err != nil {
		log.Error("error closing heap file", "error", err)
	}

	log.Info("redologd stopped")
}

// runFreeCheckLoop periodically calls LogFreeCheck so a daemon with no
// incoming write traffic still notices and services a checkpoint-age
// threshold crossing, the same way InnoDB's master thread polls
// log_free_check between user-driven calls. It returns nil on context
// cancellation (shutdown), never as an error path of its own.
func runFreeCheckLoop(ctx context.Context, e *redo.Engine, log *logging.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.LogFreeCheck(); err != nil {
				log.Error("log free check failed", "error", err)
			}
		}
	}
}

// normalizedMetricsAddr guards against an empty metrics_addr reaching
// discovery.NewAdvertiser, which requires a net.SplitHostPort-parseable
// address.
func normalizedMetricsAddr(addr string) string {
	if addr == "" {
		return ":9187"
	}
	return addr
}
