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
	"fmt"
	"sync"
	"time"

	"github.com/firefly-research/redolog/internal/storage"
)

// Config is the set of name-level configuration inputs the engine
// accepts, matching the names operators already know from the physical
// log format.
type Config struct {
	LogBufferSize    int    // bytes, >= 16 blocks and >= 4 pages
	LogFileSize      uint64 // circular data file size, bytes
	LogGroupHomeDir  string
	ThreadConcurrency int
	EncryptLog       bool
	EncryptionPassphrase string
	FlushMethod      FlushMethod
	LogWriteAheadSize int
}

// buildCipher constructs the block cipher cfg calls for, or nil if
// encryption is disabled.
func buildCipher(cfg Config) (*storage.BlockCipher, error) {
	return storage.NewBlockCipher(storage.EncryptionConfig{
		Enabled:    cfg.EncryptLog,
		Passphrase: cfg.EncryptionPassphrase,
	})
}

// shutdownState tracks the cooperative shutdown barrier.
type shutdownState int32

const (
	shutdownNone shutdownState = iota
	shutdownRequested
	shutdownDone
)

// Engine wires together every L1-L7 component and exposes the
// operations the rest of the storage layer calls: beginning MTRs,
// log_write_up_to, log_get_lsn, checkpoints, and the shutdown barrier.
// It is the one process-wide handle MTRs are constructed against,
// rather than a package-level singleton.
type Engine struct {
	mu sync.Mutex // log_mutex: guards buffer, checkFlushOrCheckpoint, and block-framing state

	buffer *LogBuffer
	flush  *FlushCoordinator
	main   *MainLogFile
	data   *CircularDataFile

	checkpoint *CheckpointEngine
	dirty      OldestDirtyProvider

	flushOrderMu sync.Mutex // flush_order_mutex

	checkFlushOrCheckpoint bool

	// block-framing cursor: tracks the header/payload/trailer position
	// within the active buffer half as bytes are appended, so that a
	// record straddling a block boundary initialises the next block's
	// header before continuing (§4.2's edge case).
	framing blockFramingState

	encrypted bool

	shutdown shutdownState
	shutdownCh chan struct{}
}

type blockFramingState struct {
	blockStart int // offset within the active half where the current block begins
	inBlock    int // bytes already written into the current block's payload
	firstRecGroupPending bool
}

// NewEngine creates and formats a brand-new redo log: a fresh main
// file, a fresh (zeroed) circular data file, and an in-memory buffer
// sized per cfg. This is log_sys::create().
func NewEngine(cfg Config, mainBackend, dataBackend FileBackend, dirty OldestDirtyProvider) (*Engine, error) {
	main, err := CreateMainLogFile(mainBackend, cfg.LogFileSize, 0)
	if err != nil {
		return nil, err
	}
	data := NewCircularDataFile(dataBackend, int64(cfg.LogFileSize), true)

	halfSize := cfg.LogBufferSize
	if halfSize < 16*BlockSize {
		halfSize = 16 * BlockSize
	}
	buffer := NewLogBuffer(halfSize)

	fc := NewFlushCoordinator(buffer, data, main, FirstLSN, 0)
	cipher, err := buildCipher(cfg)
	if err != nil {
		return nil, err
	}
	fc.SetCipher(cipher)

	e := &Engine{
		buffer:     buffer,
		flush:      fc,
		main:       main,
		data:       data,
		dirty:      dirty,
		encrypted:  cfg.EncryptLog,
		shutdownCh: make(chan struct{}),
	}
	e.checkpoint = NewCheckpointEngine(cfg.LogFileSize, main, dirty, fc, FirstLSN)
	fc.SetLogMutex(&e.mu)

	InitBlock(buffer.ActiveHalf()[0:BlockSize], FirstLSN)
	e.framing = blockFramingState{blockStart: 0, inBlock: 0, firstRecGroupPending: true}

	return e, nil
}

// OpenEngine reopens an existing redo log at the last durable
// checkpoint, recomputing thresholds from cfg and resuming the LSN
// stream from the checkpoint's recorded position.
func OpenEngine(cfg Config, mainBackend, dataBackend FileBackend, dirty OldestDirtyProvider) (*Engine, error) {
	main, err := OpenMainLogFile(mainBackend)
	if err != nil {
		return nil, err
	}
	ckpt, err := main.ReadLatestCheckpoint()
	if err != nil {
		return nil, err
	}

	data := NewCircularDataFile(dataBackend, int64(main.DataFileSize()), ckpt.SequenceBit)

	halfSize := cfg.LogBufferSize
	if halfSize < 16*BlockSize {
		halfSize = 16 * BlockSize
	}
	buffer := NewLogBuffer(halfSize)

	fc := NewFlushCoordinator(buffer, data, main, ckpt.LSN, int64(ckpt.DataFileOffset))
	cipher, err := buildCipher(cfg)
	if err != nil {
		return nil, err
	}
	fc.SetCipher(cipher)

	e := &Engine{
		buffer:     buffer,
		flush:      fc,
		main:       main,
		data:       data,
		dirty:      dirty,
		encrypted:  cfg.EncryptLog,
		shutdownCh: make(chan struct{}),
	}
	e.checkpoint = NewCheckpointEngine(main.DataFileSize(), main, dirty, fc, ckpt.LSN)
	fc.SetLogMutex(&e.mu)

	InitBlock(buffer.ActiveHalf()[0:BlockSize], ckpt.LSN)
	e.framing = blockFramingState{blockStart: 0, inBlock: 0, firstRecGroupPending: true}

	return e, nil
}

// BeginMtr returns a started mini-transaction bound to this engine.
func (e *Engine) BeginMtr() *Mtr {
	m := NewMtr(e)
	m.Start()
	return m
}

// LogGetLSN returns log.lsn, the end of the logical stream.
func (e *Engine) LogGetLSN() LSN {
	return e.flush.CurrentLSN()
}

// LogPeekLSN is an alias of LogGetLSN for callers that want to
// communicate they are only peeking (no side effect either way).
func (e *Engine) LogPeekLSN() LSN {
	return e.LogGetLSN()
}

// LogWriteUpTo implements log_write_up_to(lsn, flush_to_disk).
func (e *Engine) LogWriteUpTo(lsn LSN, flushToDisk bool) error {
	return e.flush.WriteUpTo(lsn, flushToDisk)
}

// LogCheckpoint implements log_checkpoint().
func (e *Engine) LogCheckpoint() bool {
	return e.checkpoint.Checkpoint()
}

// LogMakeCheckpoint implements log_make_checkpoint().
func (e *Engine) LogMakeCheckpoint() error {
	return e.checkpoint.MakeCheckpoint()
}

// RegisterTablespace stamps spaceID/name into the log's tablespace
// enumeration table, durably. Called by DDL collaborators (CREATE
// TABLESPACE, file-per-table import) so an operator inspecting the log
// out-of-band can see which tablespace IDs it currently covers.
func (e *Engine) RegisterTablespace(spaceID uint32, name string) error {
	return e.main.WriteTablespaceRecord(spaceID, name)
}

// Tablespaces returns the log's current tablespace enumeration table.
func (e *Engine) Tablespaces() ([]TablespaceRecord, error) {
	return e.main.ReadTablespaceRecords()
}

// LogFreeCheck implements log_free_check(): the pre-statement gate that
// calls into the checkpoint engine's margin logic using the current LSN.
func (e *Engine) LogFreeCheck() error {
	return e.checkpoint.CheckpointMargin(e.LogGetLSN())
}

// EngineStatus is a point-in-time snapshot of the engine's state, the
// Go equivalent of the reference engine's log_print diagnostic dump.
// It is read-only: taking a snapshot never mutates engine state.
type EngineStatus struct {
	CurrentLSN        LSN
	FlushedToDiskLSN  LSN
	LastCheckpointLSN LSN
	CheckpointAge     uint64
	ModificationAge   uint64
	BufFree           int
	BufHalfSize       int
}

// Status returns a snapshot of the engine's current LSN, checkpoint,
// and buffer state, for operator tooling and metrics exposition.
func (e *Engine) Status() EngineStatus {
	lsn := e.LogGetLSN()
	return EngineStatus{
		CurrentLSN:        lsn,
		FlushedToDiskLSN:  e.flush.FlushedToDiskLSN(),
		LastCheckpointLSN: e.checkpoint.LastCheckpointLSN(),
		CheckpointAge:     e.checkpoint.CheckpointAge(lsn),
		ModificationAge:   e.checkpoint.ModificationAge(lsn),
		BufFree:           e.buffer.BufFree(),
		BufHalfSize:       e.buffer.HalfSize(),
	}
}

// writeIntoBuffer streams rec into the active buffer half using the
// block-framing rules: it writes up to the remaining payload capacity of
// the current block, then initialises the next block's header (stamping
// the LSN the write has reached) before continuing. A block's
// first-record-group field is set when the first record starts in it,
// and a block that becomes full is stamped with the current checkpoint
// number as it closes; the still-open last block's checkpoint-number
// field is not stamped. Must be called with e.mu held.
func (e *Engine) writeIntoBuffer(rec []byte) error {
	half := e.buffer.ActiveHalf()
	payloadStart := PayloadStart(e.encrypted)
	payloadCap := PayloadSizePlain
	if e.encrypted {
		payloadCap = PayloadSizeEncrypted
	}

	// After a buffer switch the open block has been copied to the start
	// of the new active half and bufFree reset to its offset within it.
	if e.buffer.BufFree() != e.framing.blockStart+payloadStart+e.framing.inBlock {
		e.framing.blockStart = 0
	}

	// Fast path: a record that fits entirely within the remaining
	// capacity of the current, still-open block is a straight copy into
	// it; only when it fills the block exactly is the next block
	// initialised.
	if len(rec) > 0 && len(rec) <= payloadCap-e.framing.inBlock {
		blockBuf := half[e.framing.blockStart : e.framing.blockStart+BlockSize]
		if e.framing.firstRecGroupPending {
			SetFirstRecGroup(blockBuf, uint16(payloadStart+e.framing.inBlock))
			e.framing.firstRecGroupPending = false
		}
		e.buffer.AppendFast(e.framing.blockStart+payloadStart+e.framing.inBlock, rec)
		e.framing.inBlock += len(rec)
		if e.framing.inBlock == payloadCap {
			SetDataLen(blockBuf, uint16(BlockSize))
			SetCheckpointNo(blockBuf, e.checkpoint.CurrentCheckpointNo())
			nextStart := e.framing.blockStart + BlockSize
			if nextStart+BlockSize > len(half) {
				return fmt.Errorf("redo: log buffer exhausted mid-record; extension should have prevented this")
			}
			nextLSN := e.flush.CurrentLSN() + LSN(len(rec))
			InitBlock(half[nextStart:nextStart+BlockSize], nextLSN)
			e.framing.blockStart = nextStart
			e.framing.inBlock = 0
			e.framing.firstRecGroupPending = true
		} else {
			SetDataLen(blockBuf, uint16(payloadStart+e.framing.inBlock))
		}
		e.buffer.SetBufFree(e.framing.blockStart + payloadStart + e.framing.inBlock)
		return nil
	}

	pos := 0
	for pos < len(rec) {
		blockBuf := half[e.framing.blockStart : e.framing.blockStart+BlockSize]

		if e.framing.firstRecGroupPending {
			SetFirstRecGroup(blockBuf, uint16(payloadStart+e.framing.inBlock))
			e.framing.firstRecGroupPending = false
		}

		remaining := payloadCap - e.framing.inBlock
		n := len(rec) - pos
		if n > remaining {
			n = remaining
		}

		dst := blockBuf[payloadStart+e.framing.inBlock : payloadStart+e.framing.inBlock+n]
		copy(dst, rec[pos:pos+n])
		pos += n
		e.framing.inBlock += n

		if e.framing.inBlock == payloadCap {
			SetDataLen(blockBuf, uint16(BlockSize))
			SetCheckpointNo(blockBuf, e.checkpoint.CurrentCheckpointNo())

			nextStart := e.framing.blockStart + BlockSize
			if nextStart+BlockSize > len(half) {
				return fmt.Errorf("redo: log buffer exhausted mid-record; extension should have prevented this")
			}
			nextLSN := e.flush.CurrentLSN() + LSN(pos)
			InitBlock(half[nextStart:nextStart+BlockSize], nextLSN)

			e.framing.blockStart = nextStart
			e.framing.inBlock = 0
			e.framing.firstRecGroupPending = true
		} else {
			SetDataLen(blockBuf, uint16(payloadStart+e.framing.inBlock))
		}
	}
	e.buffer.SetBufFree(e.framing.blockStart + payloadStart + e.framing.inBlock)
	return nil
}

// ShutdownAndMarkFiles implements logs_empty_and_mark_files_at_shutdown:
// it loops until there is no pending checkpoint write and the buffer
// pool reports no dirty pages, then performs a final full checkpoint,
// flushes the data file, and closes both files. fastShutdown2 skips the
// checkpoint and relies on crash recovery instead.
func (e *Engine) ShutdownAndMarkFiles(fastShutdown2 bool) error {
	for {
		if e.dirty.OldestModifiedLSN() == NoLSN && e.checkpoint.pendingWrites.Load() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !fastShutdown2 {
		if err := e.checkpoint.MakeCheckpoint(); err != nil {
			return err
		}
	}

	if err := e.data.backend.Sync(); err != nil {
		return err
	}
	if err := e.data.backend.Close(); err != nil {
		return err
	}
	return e.main.backend.Close()
}
