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

package redo

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-research/redolog/internal/metrics"
)

// safetyMargin is the additional cushion subtracted from every
// calibration threshold below, matching the ~10% derating the reference
// engine applies on top of the raw capacity fractions.
const safetyMarginNum, safetyMarginDen = 9, 10

// CheckpointThresholds are derived once from log_capacity at startup.
type CheckpointThresholds struct {
	MaxModifiedAgeAsync  uint64
	MaxModifiedAgeSync   uint64
	MaxCheckpointAgeAsync uint64
	MaxCheckpointAge     uint64
}

// ComputeThresholds derives the four age thresholds from capacity,
// applying the ~10% safety margin to each.
func ComputeThresholds(capacity uint64) CheckpointThresholds {
	derate := func(v uint64) uint64 {
		return v * safetyMarginNum / safetyMarginDen
	}
	return CheckpointThresholds{
		MaxModifiedAgeAsync:   derate(capacity - capacity/8),
		MaxModifiedAgeSync:    derate(capacity - capacity/16),
		MaxCheckpointAgeAsync: derate(capacity - capacity/32),
		MaxCheckpointAge:      derate(capacity),
	}
}

// OldestDirtyProvider is the buffer pool collaborator's contribution:
// the LSN of the oldest not-yet-flushed page, or NoLSN if the buffer
// pool is clean. PreflushTo asks it to write out pages older than the
// given LSN so the oldest-dirty mark can advance past it.
type OldestDirtyProvider interface {
	OldestModifiedLSN() LSN
	PreflushTo(target LSN) error
}

// CheckpointEngine selects a safe LSN from the oldest dirty page,
// flushes redo to cover it, writes a durable checkpoint record, and
// throttles writers by age. It never runs two checkpoint writes
// concurrently: n_pending_checkpoint_writes is at most 1.
type CheckpointEngine struct {
	mu               sync.Mutex
	thresholds       CheckpointThresholds
	lastCheckpointLSN LSN
	nextCheckpointNo  uint64
	pendingWrites     atomic.Int32

	main    *MainLogFile
	dirty   OldestDirtyProvider
	writer  *FlushCoordinator

	rateLimiter rateLimiter
}

// NewCheckpointEngine wires a checkpoint engine to its collaborators.
func NewCheckpointEngine(capacity uint64, main *MainLogFile, dirty OldestDirtyProvider, writer *FlushCoordinator, initialLSN LSN) *CheckpointEngine {
	return &CheckpointEngine{
		thresholds:        ComputeThresholds(capacity),
		lastCheckpointLSN: initialLSN,
		nextCheckpointNo:  1,
		main:              main,
		dirty:             dirty,
		writer:            writer,
		rateLimiter:       rateLimiter{interval: 15 * time.Second},
	}
}

// LastCheckpointLSN returns the most recently published checkpoint LSN.
func (c *CheckpointEngine) LastCheckpointLSN() LSN {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheckpointLSN
}

// CurrentCheckpointNo returns the generation number that will be
// stamped into any block closing right now (next_checkpoint_no).
func (c *CheckpointEngine) CurrentCheckpointNo() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextCheckpointNo
}

// CheckpointAge returns lsn - last_checkpoint_lsn.
func (c *CheckpointEngine) CheckpointAge(lsn LSN) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lsn <= c.lastCheckpointLSN {
		return 0
	}
	return uint64(lsn - c.lastCheckpointLSN)
}

// ModificationAge returns lsn - oldest_dirty_lsn, or 0 if the buffer
// pool is clean.
func (c *CheckpointEngine) ModificationAge(lsn LSN) uint64 {
	oldest := c.dirty.OldestModifiedLSN()
	if oldest == NoLSN || lsn <= oldest {
		return 0
	}
	return uint64(lsn - oldest)
}

// MarginCheckpointAge implements log_margin_checkpoint_age: called from
// prepare-write with the size of the record about to be appended. If
// admitting margin more bytes would push checkpoint_age past capacity,
// it runs a synchronous checkpoint first. A margin larger than the
// entire capacity can never be satisfied by checkpointing alone; that is
// a rate-limited warning and NOT an error returned to the caller — the
// caller's commit will itself fail downstream when it can't fit.
func (c *CheckpointEngine) MarginCheckpointAge(lsn LSN, margin uint64) {
	capacity := c.thresholds.MaxCheckpointAge
	metrics.Get().CheckpointAgeBytes.Store(c.CheckpointAge(lsn))
	if margin > capacity {
		if c.rateLimiter.allow() {
			logCapacityWarning(margin, capacity)
		}
		return
	}

	if c.CheckpointAge(lsn)+margin > capacity {
		_ = c.Checkpoint()
	}
}

// Checkpoint implements log_checkpoint: observes flush_lsn =
// max(oldest_dirty_lsn, current lsn), flushes redo up to flush_lsn,
// records a durable checkpoint, and publishes last_checkpoint_lsn. It
// returns false without doing anything if a checkpoint write is already
// in flight (n_pending_checkpoint_writes > 0) or no progress would be
// made.
func (c *CheckpointEngine) Checkpoint() bool {
	return c.checkpoint(true)
}

// checkpoint runs Checkpoint, recording it in metrics as synchronous, or
// as asynchronous (the background age threshold was crossed) when
// syncCheckpoint is false.
func (c *CheckpointEngine) checkpoint(syncCheckpoint bool) bool {
	if !c.pendingWrites.CompareAndSwap(0, 1) {
		return false
	}
	defer c.pendingWrites.Store(0)

	currentLSN := c.writer.CurrentLSN()
	oldest := c.dirty.OldestModifiedLSN()
	flushLSN := currentLSN
	if oldest != NoLSN && oldest > flushLSN {
		flushLSN = oldest
	}

	c.mu.Lock()
	if flushLSN <= c.lastCheckpointLSN {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	if err := c.writer.WriteUpTo(flushLSN, true); err != nil {
		return false
	}

	c.mu.Lock()
	no := c.nextCheckpointNo
	c.nextCheckpointNo++
	c.mu.Unlock()

	seqBit, dataOffset := c.writer.DataFilePosition(flushLSN)
	rec := CheckpointRecord{
		LSN:            flushLSN,
		SequenceBit:    seqBit,
		DataFileOffset: dataOffset,
		CheckpointNo:   no,
	}
	if err := c.main.WriteCheckpoint(rec); err != nil {
		return false
	}

	c.mu.Lock()
	c.lastCheckpointLSN = flushLSN
	c.mu.Unlock()

	m := metrics.Get()
	m.LastCheckpointLSN.Store(uint64(flushLSN))
	m.RecordCheckpoint(syncCheckpoint)
	return true
}

// MakeCheckpoint implements log_make_checkpoint: repeatedly preflushes
// all dirty pages and retries Checkpoint until it succeeds.
func (c *CheckpointEngine) MakeCheckpoint() error {
	for {
		if err := c.dirty.PreflushTo(LSN(^uint64(0))); err != nil {
			return err
		}
		if c.Checkpoint() {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

// CheckpointMargin implements log_checkpoint_margin: if
// modification_age exceeds max_modified_age_sync, it asks the buffer
// pool to preflush pages far enough to close the gap; independently, if
// checkpoint_age exceeds max_checkpoint_age_async, it runs a checkpoint.
// Both conditions are rechecked until clear.
func (c *CheckpointEngine) CheckpointMargin(currentLSN LSN) error {
	for {
		progressed := false

		modAge := c.ModificationAge(currentLSN)
		if modAge > c.thresholds.MaxModifiedAgeSync {
			advance := modAge - c.thresholds.MaxModifiedAgeSync
			oldest := c.dirty.OldestModifiedLSN()
			if oldest != NoLSN {
				if err := c.dirty.PreflushTo(oldest + LSN(advance)); err != nil {
					return err
				}
			}
			progressed = true
		}

		if c.CheckpointAge(currentLSN) > c.thresholds.MaxCheckpointAgeAsync {
			c.checkpoint(false)
			progressed = true
		}

		if !progressed {
			return nil
		}
		if c.ModificationAge(currentLSN) <= c.thresholds.MaxModifiedAgeSync &&
			c.CheckpointAge(currentLSN) <= c.thresholds.MaxCheckpointAgeAsync {
			return nil
		}
	}
}

// rateLimiter gates a repeated warning to at most once per interval.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) < r.interval {
		return false
	}
	r.last = now
	return true
}
