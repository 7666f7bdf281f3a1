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

// PageSize is the alignment unit used when extending the in-memory log
// buffer (log_buffer_size itself need not be page aligned, but a
// reallocation always rounds up to it).
const PageSize = 4096

// LogBuffer is the double-buffered in-memory staging area records are
// copied into before they reach disk. It is a ping-pong of two
// contiguous halves: one "active" half being appended to under
// log_mutex, one "being written" half that a single writer drains
// without holding log_mutex (safe because the switch leaves the old
// half immutable until the next switch, itself gated on the prior write
// completing via the write-wave group-commit lock).
type LogBuffer struct {
	buf          []byte // 2 * halfSize bytes
	halfSize     int
	firstInUse   int // 0 or 1: which half is active
	bufFree      int // offset within the active half of the next free byte
	bufNextToWrite int // offset within the active half already copied out
	maxBufFree   int // extension trigger: half of one half's size (halfSize/2)
}

// NewLogBuffer allocates a fresh double buffer with each half sized
// halfSize bytes (log_buffer_size).
func NewLogBuffer(halfSize int) *LogBuffer {
	b := &LogBuffer{
		buf:      make([]byte, 2*halfSize),
		halfSize: halfSize,
	}
	b.maxBufFree = halfSize / 2
	return b
}

// ActiveHalf returns the active half's backing slice.
func (b *LogBuffer) ActiveHalf() []byte {
	return b.buf[b.firstInUse*b.halfSize : (b.firstInUse+1)*b.halfSize]
}

// InactiveHalf returns the half currently being drained to disk.
func (b *LogBuffer) InactiveHalf() []byte {
	return b.buf[(1-b.firstInUse)*b.halfSize : (2-b.firstInUse)*b.halfSize]
}

// HalfSize returns the capacity of one half.
func (b *LogBuffer) HalfSize() int {
	return b.halfSize
}

// BufFree returns the active half's current write offset.
func (b *LogBuffer) BufFree() int {
	return b.bufFree
}

// MaxBufFree returns the extension threshold: once a prepared record
// length would exceed this, the buffer must grow before the record is
// written.
func (b *LogBuffer) MaxBufFree() int {
	return b.maxBufFree
}

// NeedsExtension reports whether appending a record of the given length
// (already including framing overhead) would exceed half the buffer.
func (b *LogBuffer) NeedsExtension(length int) bool {
	return length > b.halfSize/2
}

// Append copies data into the active half starting at bufFree and
// advances bufFree. The caller (the block-framing layer one level up)
// is responsible for never calling this across a buffer switch.
func (b *LogBuffer) Append(data []byte) {
	half := b.ActiveHalf()
	copy(half[b.bufFree:], data)
	b.bufFree += len(data)
}

// Switch performs a buffer-switch: the last partial block from the end
// of the active half is copied to the start of the other half (so a
// record straddling the switch continues coherently), first_in_use
// flips, and bufFree resets to bufFree mod BlockSize.
//
// Returns the snapshot of the half that is now inactive (to be written
// to disk) along with the byte range [bufNextToWrite, bufFree) that is
// new since the last write.
func (b *LogBuffer) Switch() (writeHalf []byte, start, end int) {
	active := b.ActiveHalf()
	start = b.bufNextToWrite
	end = b.bufFree

	partialStart := (b.bufFree / BlockSize) * BlockSize
	partial := active[partialStart:b.bufFree]

	other := b.InactiveHalf()
	copy(other, partial)

	writeHalf = active
	b.firstInUse = 1 - b.firstInUse
	b.bufFree = b.bufFree % BlockSize
	b.bufNextToWrite = 0

	return writeHalf, start, end
}

// AppendFast copies data directly into the active half at offset,
// without touching block-framing state, for callers (Engine.writeIntoBuffer)
// that already track the write cursor themselves via block-framing
// state rather than bufFree. It is only safe to call when the caller
// has already established that data fits entirely within the remaining
// payload capacity of the current block; callers that cannot make that
// guarantee must fall back to the general block-by-block copy.
func (b *LogBuffer) AppendFast(offset int, data []byte) {
	half := b.ActiveHalf()
	copy(half[offset:offset+len(data)], data)
}

// SetBufFree publishes the engine's block-framing write cursor (an
// absolute offset within the active half) as bufFree, so Switch and
// Status observe the true write frontier even though the framing layer
// tracks position in (blockStart, inBlock) terms rather than a single
// running offset.
func (b *LogBuffer) SetBufFree(pos int) {
	b.bufFree = pos
}

// Extend reallocates the buffer to accommodate a record of length
// bytes: the new half size is length rounded up to PageSize, the
// existing active half's live bytes are copied into the new buffer's
// active half, and maxBufFree is recomputed.
func (b *LogBuffer) Extend(length int) {
	newHalfSize := roundUpPage(length)
	if newHalfSize <= b.halfSize {
		return
	}

	newBuf := make([]byte, 2*newHalfSize)
	activeOff := 0
	if b.firstInUse == 1 {
		activeOff = newHalfSize
	}
	copy(newBuf[activeOff:], b.ActiveHalf())

	b.buf = newBuf
	b.halfSize = newHalfSize
	b.maxBufFree = newHalfSize / 2
}

func roundUpPage(n int) int {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}
