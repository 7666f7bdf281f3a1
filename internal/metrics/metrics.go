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
Package metrics provides Prometheus-compatible metrics for the redo log
engine.

METRIC CATEGORIES:
==================
- LSN: current lsn, flushed-to-disk lsn, last checkpoint lsn
- MTRs: started, committed, commit latency
- Group commit: write waves, flush waves, waiters piggybacked per wave
- Checkpoints: triggered (sync/async), checkpoint age
- I/O: bytes written, bytes flushed, fsync count

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format.

EXAMPLE METRICS:
================

	redolog_current_lsn 8192
	redolog_flushed_to_disk_lsn 4096
	redolog_mtrs_committed_total 1024
	redolog_group_commit_waves_total{wave="write"} 512
	redolog_checkpoints_total{kind="sync"} 3
*/
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/firefly-research/redolog/internal/config"
	"github.com/firefly-research/redolog/internal/logging"
)

// Metrics holds all redo log engine metrics.
type Metrics struct {
	// LSN gauges
	CurrentLSN        atomic.Uint64
	FlushedToDiskLSN  atomic.Uint64
	LastCheckpointLSN atomic.Uint64

	// MTR metrics
	MtrsStarted           atomic.Uint64
	MtrsCommitted         atomic.Uint64
	MtrCommitLatencySum   atomic.Uint64 // microseconds
	MtrCommitLatencyCount atomic.Uint64

	// Group commit metrics
	WriteWaves            atomic.Uint64
	FlushWaves            atomic.Uint64
	WriteWavesPiggybacked atomic.Uint64
	FlushWavesPiggybacked atomic.Uint64

	// Checkpoint metrics
	CheckpointsSync    atomic.Uint64
	CheckpointsAsync   atomic.Uint64
	CheckpointAgeBytes atomic.Uint64

	// I/O metrics (bytes)
	BytesWritten atomic.Uint64
	BytesFlushed atomic.Uint64
	FsyncCount   atomic.Uint64

	// Buffer pool metrics, read from the external collaborator
	DirtyPages  atomic.Int64
	PinnedPages atomic.Int64
}

// Global metrics instance
var globalMetrics = &Metrics{}

// Get returns the global metrics instance.
func Get() *Metrics {
	return globalMetrics
}

// RecordMtrStart records a started mini-transaction.
func (m *Metrics) RecordMtrStart() {
	m.MtrsStarted.Add(1)
}

// RecordMtrCommit records a committed mini-transaction and its latency.
func (m *Metrics) RecordMtrCommit(latency time.Duration) {
	m.MtrsCommitted.Add(1)
	m.MtrCommitLatencySum.Add(uint64(latency.Microseconds()))
	m.MtrCommitLatencyCount.Add(1)
}

// AverageMtrCommitLatency returns the average commit latency in
// microseconds.
func (m *Metrics) AverageMtrCommitLatency() float64 {
	count := m.MtrCommitLatencyCount.Load()
	if count == 0 {
		return 0
	}
	return float64(m.MtrCommitLatencySum.Load()) / float64(count)
}

// RecordWriteWave records one write-wave group commit, and how many
// waiters piggybacked on it instead of becoming the writer themselves.
func (m *Metrics) RecordWriteWave(piggybacked uint64) {
	m.WriteWaves.Add(1)
	m.WriteWavesPiggybacked.Add(piggybacked)
}

// RecordFlushWave records one flush-wave group commit.
func (m *Metrics) RecordFlushWave(piggybacked uint64) {
	m.FlushWaves.Add(1)
	m.FlushWavesPiggybacked.Add(piggybacked)
}

// RecordCheckpoint records a checkpoint write, tagged by whether it was
// triggered synchronously (age exceeded max_checkpoint_age) or
// asynchronously (background threshold crossed).
func (m *Metrics) RecordCheckpoint(sync bool) {
	if sync {
		m.CheckpointsSync.Add(1)
	} else {
		m.CheckpointsAsync.Add(1)
	}
}

// RecordWrite records a successful write-wave append to the circular
// data file.
func (m *Metrics) RecordWrite(n uint64) {
	m.BytesWritten.Add(n)
}

// RecordFlush records a successful flush-wave fsync, including the
// bytes it covered.
func (m *Metrics) RecordFlush(n uint64) {
	m.BytesFlushed.Add(n)
	m.FsyncCount.Add(1)
}

// Server provides an HTTP server for Prometheus metrics.
type Server struct {
	config *config.Config
	server *http.Server
	logger *logging.Logger
	addr   string
}

// NewServer creates a new metrics server listening on addr.
func NewServer(cfg *config.Config, addr string) *Server {
	return &Server{
		config: cfg,
		logger: logging.NewLogger("metrics"),
		addr:   addr,
	}
}

// Start starts the metrics HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting metrics server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("stopping metrics server")
	return s.server.Shutdown(ctx)
}

// handleMetrics handles the /metrics endpoint in Prometheus format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := Get()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP redolog_current_lsn End of the logical log stream\n")
	fmt.Fprintf(w, "# TYPE redolog_current_lsn gauge\n")
	fmt.Fprintf(w, "redolog_current_lsn %d\n", m.CurrentLSN.Load())

	fmt.Fprintf(w, "# HELP redolog_flushed_to_disk_lsn Durable frontier of the log stream\n")
	fmt.Fprintf(w, "# TYPE redolog_flushed_to_disk_lsn gauge\n")
	fmt.Fprintf(w, "redolog_flushed_to_disk_lsn %d\n", m.FlushedToDiskLSN.Load())

	fmt.Fprintf(w, "# HELP redolog_last_checkpoint_lsn LSN of the last durable checkpoint\n")
	fmt.Fprintf(w, "# TYPE redolog_last_checkpoint_lsn gauge\n")
	fmt.Fprintf(w, "redolog_last_checkpoint_lsn %d\n", m.LastCheckpointLSN.Load())

	fmt.Fprintf(w, "# HELP redolog_checkpoint_age_bytes Distance between current lsn and last checkpoint\n")
	fmt.Fprintf(w, "# TYPE redolog_checkpoint_age_bytes gauge\n")
	fmt.Fprintf(w, "redolog_checkpoint_age_bytes %d\n", m.CheckpointAgeBytes.Load())

	fmt.Fprintf(w, "# HELP redolog_mtrs_started_total Mini-transactions started\n")
	fmt.Fprintf(w, "# TYPE redolog_mtrs_started_total counter\n")
	fmt.Fprintf(w, "redolog_mtrs_started_total %d\n", m.MtrsStarted.Load())

	fmt.Fprintf(w, "# HELP redolog_mtrs_committed_total Mini-transactions committed\n")
	fmt.Fprintf(w, "# TYPE redolog_mtrs_committed_total counter\n")
	fmt.Fprintf(w, "redolog_mtrs_committed_total %d\n", m.MtrsCommitted.Load())

	fmt.Fprintf(w, "# HELP redolog_mtr_commit_latency_avg_microseconds Average MTR commit latency\n")
	fmt.Fprintf(w, "# TYPE redolog_mtr_commit_latency_avg_microseconds gauge\n")
	fmt.Fprintf(w, "redolog_mtr_commit_latency_avg_microseconds %.2f\n", m.AverageMtrCommitLatency())

	fmt.Fprintf(w, "# HELP redolog_group_commit_waves_total Group commit waves run\n")
	fmt.Fprintf(w, "# TYPE redolog_group_commit_waves_total counter\n")
	fmt.Fprintf(w, "redolog_group_commit_waves_total{wave=\"write\"} %d\n", m.WriteWaves.Load())
	fmt.Fprintf(w, "redolog_group_commit_waves_total{wave=\"flush\"} %d\n", m.FlushWaves.Load())

	fmt.Fprintf(w, "# HELP redolog_group_commit_piggybacked_total Waiters covered by someone else's wave\n")
	fmt.Fprintf(w, "# TYPE redolog_group_commit_piggybacked_total counter\n")
	fmt.Fprintf(w, "redolog_group_commit_piggybacked_total{wave=\"write\"} %d\n", m.WriteWavesPiggybacked.Load())
	fmt.Fprintf(w, "redolog_group_commit_piggybacked_total{wave=\"flush\"} %d\n", m.FlushWavesPiggybacked.Load())

	fmt.Fprintf(w, "# HELP redolog_checkpoints_total Checkpoints written\n")
	fmt.Fprintf(w, "# TYPE redolog_checkpoints_total counter\n")
	fmt.Fprintf(w, "redolog_checkpoints_total{kind=\"sync\"} %d\n", m.CheckpointsSync.Load())
	fmt.Fprintf(w, "redolog_checkpoints_total{kind=\"async\"} %d\n", m.CheckpointsAsync.Load())

	fmt.Fprintf(w, "# HELP redolog_bytes_written_total Bytes appended to the circular data file\n")
	fmt.Fprintf(w, "# TYPE redolog_bytes_written_total counter\n")
	fmt.Fprintf(w, "redolog_bytes_written_total %d\n", m.BytesWritten.Load())

	fmt.Fprintf(w, "# HELP redolog_bytes_flushed_total Bytes made durable via fsync\n")
	fmt.Fprintf(w, "# TYPE redolog_bytes_flushed_total counter\n")
	fmt.Fprintf(w, "redolog_bytes_flushed_total %d\n", m.BytesFlushed.Load())

	fmt.Fprintf(w, "# HELP redolog_fsync_total Number of fsync calls issued by the flush wave\n")
	fmt.Fprintf(w, "# TYPE redolog_fsync_total counter\n")
	fmt.Fprintf(w, "redolog_fsync_total %d\n", m.FsyncCount.Load())

	fmt.Fprintf(w, "# HELP redolog_dirty_pages Buffer pool pages pending write-out\n")
	fmt.Fprintf(w, "# TYPE redolog_dirty_pages gauge\n")
	fmt.Fprintf(w, "redolog_dirty_pages %d\n", m.DirtyPages.Load())

	fmt.Fprintf(w, "# HELP redolog_pinned_pages Buffer pool pages currently pinned\n")
	fmt.Fprintf(w, "# TYPE redolog_pinned_pages gauge\n")
	fmt.Fprintf(w, "redolog_pinned_pages %d\n", m.PinnedPages.Load())
}
