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
	"time"

	redoerrors "github.com/firefly-research/redolog/internal/errors"
	"github.com/firefly-research/redolog/internal/metrics"
)

// LogMode selects how an MTR's records interact with the redo stream.
type LogMode int

const (
	// LogModeAll is the default: records are written to the redo log.
	LogModeAll LogMode = iota
	// LogModeNoRedo suppresses redo writes for this MTR (e.g. operations
	// on objects that are themselves rebuilt from scratch on recovery).
	LogModeNoRedo
	// LogModeNone forbids any modification being registered at all;
	// committing an MTR with modifications under this mode is a
	// contract violation.
	LogModeNone
)

// recordBuffer is the MTR's local staging area: a simple growable byte
// slice standing in for mtr_buf_t's linked list of fixed-capacity
// blocks. Records are variable-length encodings appended by callers
// before commit; nothing here is durable until commit streams it into
// the global log buffer.
type recordBuffer struct {
	data []byte
}

func (b *recordBuffer) append(p []byte) {
	b.data = append(b.data, p...)
}

func (b *recordBuffer) len() int {
	return len(b.data)
}

// Mtr is a mini-transaction: the atomic unit of page-level modification
// grouping. One Mtr maps to one contiguous LSN interval.
type Mtr struct {
	engine *Engine

	started            bool
	committed          bool
	modifications      bool
	madeDirty          bool
	insideBufferInvalidation bool

	logMode LogMode
	log     recordBuffer
	memo    Memo

	startLSN  LSN
	commitLSN LSN

	startedAt time.Time
}

// NewMtr allocates an unstarted mini-transaction bound to engine.
func NewMtr(engine *Engine) *Mtr {
	return &Mtr{engine: engine}
}

// Start transitions the MTR to active: empty local buffers, log_mode =
// ALL, flags cleared, commit_lsn = 0.
func (m *Mtr) Start() {
	m.started = true
	m.committed = false
	m.modifications = false
	m.madeDirty = false
	m.logMode = LogModeAll
	m.log = recordBuffer{}
	m.memo = Memo{}
	m.startLSN = NoLSN
	m.commitLSN = NoLSN
	m.startedAt = time.Now()
	metrics.Get().RecordMtrStart()
}

// SetLogMode changes the MTR's log mode. Must be called before any
// record is appended.
func (m *Mtr) SetLogMode(mode LogMode) {
	m.logMode = mode
}

// PushLatch records that obj was acquired with the given slot type, in
// acquisition order.
func (m *Mtr) PushLatch(t SlotType, obj Latchable) {
	if !m.started {
		return
	}
	m.memo.Push(t, obj)
}

// MemoModifyPage records obj as modified in this MTR (obj must already
// hold an X or SX latch recorded in the memo); it pushes a MODIFY marker
// unless one is already present, and sets modifications_flag /
// made_dirty_flag.
func (m *Mtr) MemoModifyPage(obj Latchable) {
	m.memo.PushModify(obj)
	m.modifications = true
	m.madeDirty = true
}

// AppendRecord appends raw redo record bytes to the MTR's local buffer.
func (m *Mtr) AppendRecord(rec []byte) {
	m.log.append(rec)
	m.modifications = true
}

// CommitLSN returns the LSN the MTR's records end at, valid only after
// Commit returns.
func (m *Mtr) CommitLSN() LSN {
	return m.commitLSN
}

// StartLSN returns the LSN the MTR's records begin at, valid only after
// Commit returns.
func (m *Mtr) StartLSN() LSN {
	return m.startLSN
}

// Commit runs the five-step commit protocol: prepare write, finish
// write, flush-order insertion, latch release, and local buffer
// teardown. It is a contract violation to commit an unstarted or
// already-committed MTR, or an MTR with modifications under
// LogModeNone.
func (m *Mtr) Commit() error {
	if !m.started {
		return redoerrors.MTRNotStarted()
	}
	if m.committed {
		return redoerrors.MTRAlreadyCommitted()
	}
	if m.modifications && m.logMode == LogModeNone {
		return redoerrors.LogModeViolation()
	}

	if !m.modifications || m.logMode == LogModeNone {
		// Read-only / no-redo MTR: skip straight to latch release, no
		// flush-order acquisition, no LSN advance.
		m.memo.ReleaseAll()
		m.teardown()
		metrics.Get().RecordMtrCommit(time.Since(m.startedAt))
		return nil
	}

	length, err := m.prepareWrite()
	if err != nil {
		return err
	}

	startLSN, commitLSN, err := m.finishWrite(length)
	if err != nil {
		return err
	}
	m.startLSN = startLSN
	m.commitLSN = commitLSN

	if m.madeDirty {
		// finishWrite already acquired flushOrderMu before releasing
		// engine.mu, preserving the mandated log_mutex-before-
		// flush_order_mutex acquisition order; this call site only
		// releases it once the flush-list insertion is done.
		m.memo.ForEachDirtyPageReverse(func(p DirtyPage) {
			p.MarkDirty(m.startLSN, m.commitLSN)
		})
		m.engine.flushOrderMu.Unlock()
	}

	m.memo.ReleaseAll()
	m.teardown()
	metrics.Get().RecordMtrCommit(time.Since(m.startedAt))
	return nil
}

// prepareWrite is step 1 of the commit protocol. For LogModeNoRedo it
// returns 0 without touching the log buffer; it does not check that the
// local buffer is empty. Otherwise it appends a trailing sentinel byte, extends the
// global buffer if needed, and consults the checkpoint engine's margin
// check before returning the prepared length.
func (m *Mtr) prepareWrite() (int, error) {
	if m.logMode == LogModeNoRedo {
		return 0, nil
	}

	m.log.append([]byte{0})
	length := m.log.len()

	m.engine.mu.Lock()
	if m.engine.buffer.NeedsExtension(length) {
		m.engine.buffer.Extend(length)
	}
	currentLSN := m.engine.flush.CurrentLSN()
	m.engine.mu.Unlock()

	m.engine.checkpoint.MarginCheckpointAge(currentLSN, uint64(length))
	return length, nil
}

// finishWrite is step 2: under the engine's log mutex, stream the MTR's
// record bytes into the global log buffer via the block-framing writer,
// advancing the LSN, and return the (start_lsn, commit_lsn) pair.
//
// When the MTR made any page dirty, this also acquires flushOrderMu
// before engine.mu is released (never the reverse order: log_mutex is
// always acquired, and still held, at the moment flush_order_mutex is
// taken) so that two concurrent commits cannot interleave their
// flush-list insertions out of commit_lsn order. The caller - Commit -
// is responsible for unlocking flushOrderMu once it has finished the
// flush-list insertion under it.
func (m *Mtr) finishWrite(length int) (startLSN, commitLSN LSN, err error) {
	m.engine.mu.Lock()
	defer m.engine.mu.Unlock()

	startLSN = m.engine.flush.CurrentLSN()
	framed := EncodeRecordGroup(m.log.data, false, m.engine.data.SequenceBit())
	if err := m.engine.writeIntoBuffer(framed); err != nil {
		return NoLSN, NoLSN, err
	}
	commitLSN = m.engine.flush.AdvanceLSN(len(framed))

	m.engine.checkFlushOrCheckpoint = m.engine.checkFlushOrCheckpoint ||
		m.engine.buffer.NeedsExtension(int(commitLSN-startLSN))

	if m.madeDirty {
		m.engine.flushOrderMu.Lock()
	}

	return startLSN, commitLSN, nil
}

func (m *Mtr) teardown() {
	m.log = recordBuffer{}
	m.memo = Memo{}
	m.committed = true
}
