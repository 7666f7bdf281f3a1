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

	"github.com/firefly-research/redolog/internal/metrics"
	"github.com/firefly-research/redolog/internal/storage"
)

// FlushCoordinator owns the two pipelined group-commit waves (write:
// memory -> OS page cache, flush: OS page cache -> stable medium) and
// the circular data file they drain into. It is the component
// log_write_up_to and log_checkpoint both call into.
type FlushCoordinator struct {
	mu sync.Mutex

	buffer *LogBuffer
	data   *CircularDataFile
	main   *MainLogFile

	writeLock *GroupCommitLock
	flushLock *GroupCommitLock

	// cipher encrypts each block's payload in place just before it is
	// checksummed and written out, when log encryption is enabled. Nil
	// means blocks are written in plaintext.
	cipher *storage.BlockCipher

	// logMu is the engine's log_mutex (Engine.mu), set by SetLogMutex
	// once an Engine wires this coordinator up. The buffer switch in
	// runWriteWave must happen while this is held - the switch mutates
	// firstInUse/bufFree, the same state Mtr.finishWrite mutates under
	// log_mutex - and must be released again before the physical disk
	// write, which does not need log_mutex. Nil when a coordinator is
	// exercised standalone (e.g. checkpoint engine unit tests with no
	// Engine in the picture), in which case the switch runs unlocked.
	logMu *sync.Mutex

	currentLSN        LSN
	writeLSN          LSN
	flushedToDiskLSN  LSN

	// baseLSN/baseOffset record the LSN the coordinator started at and
	// the data-file byte offset it corresponds to, so a checkpoint LSN
	// can be translated back into a data-file offset (DataFilePosition).
	baseLSN    LSN
	baseOffset int64
}

// NewFlushCoordinator wires a coordinator to its buffer and on-disk
// files, starting the LSN stream at startLSN (the last durable
// checkpoint's LSN on recovery, or FirstLSN for a brand-new log).
func NewFlushCoordinator(buffer *LogBuffer, data *CircularDataFile, main *MainLogFile, startLSN LSN, startOffset int64) *FlushCoordinator {
	return &FlushCoordinator{
		buffer:           buffer,
		data:             data,
		main:             main,
		writeLock:        NewGroupCommitLock(),
		flushLock:        NewGroupCommitLock(),
		currentLSN:       startLSN,
		writeLSN:         startLSN,
		flushedToDiskLSN: startLSN,
		baseLSN:          startLSN,
		baseOffset:       startOffset,
	}
}

// SetCipher installs the block cipher used to encrypt blocks at write
// time. A nil cipher (the default) leaves blocks in plaintext.
func (f *FlushCoordinator) SetCipher(c *storage.BlockCipher) {
	f.cipher = c
}

// SetLogMutex installs the engine's log_mutex, which runWriteWave must
// hold while performing the buffer switch (see the logMu field comment).
func (f *FlushCoordinator) SetLogMutex(mu *sync.Mutex) {
	f.logMu = mu
}

// CurrentLSN returns log.lsn: the end of the logical stream, including
// bytes still only in memory.
func (f *FlushCoordinator) CurrentLSN() LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentLSN
}

// FlushedToDiskLSN returns flushed_to_disk_lsn.
func (f *FlushCoordinator) FlushedToDiskLSN() LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushedToDiskLSN
}

// AdvanceLSN records that length additional bytes (including framing)
// have been appended to the active buffer half, advancing log.lsn. It
// must be called under the caller's log_mutex-equivalent (Engine.mu);
// FlushCoordinator itself does not serialise callers of this method.
func (f *FlushCoordinator) AdvanceLSN(length int) LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentLSN += LSN(length)
	metrics.Get().CurrentLSN.Store(uint64(f.currentLSN))
	return f.currentLSN
}

// DataFilePosition translates an LSN into the (sequence_bit,
// data_file_offset) pair a checkpoint record needs, derived from the
// circular file's own bookkeeping at the moment of the call. This is
// only meaningful for an LSN that has already been durably written.
func (f *FlushCoordinator) DataFilePosition(lsn LSN) (sequenceBit bool, offset uint64) {
	f.mu.Lock()
	delta := int64(lsn - f.baseLSN)
	base := f.baseOffset
	f.mu.Unlock()

	size := f.data.FileSize()
	pos := (base + delta) % size
	// Parity of how many times we've wrapped past base tells us the bit;
	// the circular file itself is the source of truth for "now", so for
	// the common case (checkpointing near the write frontier) we read
	// its live bit directly.
	return f.data.SequenceBit(), uint64(pos)
}

// WriteUpTo implements log_write_up_to(lsn, flush_to_disk): ensures the
// in-memory buffer contents up to lsn have been written to the OS (the
// write wave) and, if flushToDisk, that they are durable on the medium
// (the flush wave). Both waves use the covering optimisation so many
// concurrent callers collapse into at most one write and one flush.
// WriteUpTo is fatal, not fallible, on I/O error: per the engine's error
// taxonomy a failed write or flush is a process-ending event, not a
// recoverable condition the caller can react to. Because fatal panics,
// WriteUpTo returns nil whenever it returns; callers such as the
// checkpoint engine still check the error result.
func (f *FlushCoordinator) WriteUpTo(lsn LSN, flushToDisk bool) error {
	if res := f.writeLock.Acquire(lsn); res == Acquired {
		if err := f.runWriteWave(lsn); err != nil {
			f.writeLock.Release(f.writeLSNSnapshot())
			fatal("log_write", err)
		}
	}

	if !flushToDisk {
		return nil
	}

	if res := f.flushLock.Acquire(lsn); res == Acquired {
		if err := f.runFlushWave(lsn); err != nil {
			f.flushLock.Release(f.flushedLSNSnapshot())
			fatal("log_flush", err)
		}
	}
	return nil
}

func (f *FlushCoordinator) writeLSNSnapshot() LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLSN
}

func (f *FlushCoordinator) flushedLSNSnapshot() LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushedToDiskLSN
}

// runWriteWave drains every byte appended to the buffer since the last
// write, snapshotting (write_buf, start, end) and performing the buffer
// switch, then writes that slice to the circular data file WITHOUT
// holding the engine's log_mutex — only writeLock serialises concurrent
// writers of the same half.
func (f *FlushCoordinator) runWriteWave(targetLSN LSN) error {
	if f.logMu != nil {
		f.logMu.Lock()
	}
	half, start, end := f.buffer.Switch()
	if f.logMu != nil {
		f.logMu.Unlock()
	}

	if end > start {
		if f.cipher != nil {
			if err := encryptBlocks(f.cipher, half, start, end); err != nil {
				return err
			}
		}
		stampBlockChecksums(half, start, end)
		if err := f.data.AppendWrapped(half[start:end]); err != nil {
			return err
		}
		metrics.Get().RecordWrite(uint64(end - start))
	}

	f.mu.Lock()
	if targetLSN > f.writeLSN {
		f.writeLSN = targetLSN
	}
	writeLSN := f.writeLSN
	f.mu.Unlock()

	f.writeLock.SetPending(writeLSN)
	f.writeLock.Release(writeLSN)
	return nil
}

// encryptBlocks encrypts the payload of every 512-byte block touched by
// [start, end), writing a fresh nonce into each block's key slot. It
// must run before stampBlockChecksums, since the trailer covers the
// ciphertext, matching how a reader would validate and then decrypt.
func encryptBlocks(c *storage.BlockCipher, half []byte, start, end int) error {
	first := (start / BlockSize) * BlockSize
	for off := first; off < end; off += BlockSize {
		if off+BlockSize > len(half) {
			break
		}
		block := half[off : off+BlockSize]
		keySlot := KeySlot(block)
		payload := block[PayloadStart(true):TrailerOffset(true)]
		if err := c.EncryptBlock(payload, keySlot, BlockNoOf(block)); err != nil {
			return err
		}
	}
	return nil
}

// stampBlockChecksums computes and stores the CRC-32C trailer for every
// 512-byte block touched by the half-open range [start, end), including
// a still-open trailing block (it is being handed to disk now, so it
// needs a valid trailer even though the block-framing layer may still
// append more bytes into the next half after the switch).
func stampBlockChecksums(half []byte, start, end int) {
	first := (start / BlockSize) * BlockSize
	for off := first; off < end; off += BlockSize {
		if off+BlockSize > len(half) {
			break
		}
		StoreChecksum(half[off : off+BlockSize])
	}
}

// runFlushWave forces the circular data file durable and publishes
// flushed_to_disk_lsn.
func (f *FlushCoordinator) runFlushWave(targetLSN LSN) error {
	if err := f.data.backend.Sync(); err != nil {
		return err
	}

	f.mu.Lock()
	if targetLSN > f.flushedToDiskLSN {
		f.flushedToDiskLSN = targetLSN
	}
	flushedLSN := f.flushedToDiskLSN
	f.mu.Unlock()

	metrics.Get().RecordFlush(uint64(targetLSN))
	metrics.Get().FlushedToDiskLSN.Store(uint64(flushedLSN))
	f.flushLock.SetPending(flushedLSN)
	f.flushLock.Release(flushedLSN)
	return nil
}
