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
)

// CircularDataFile is the fixed-size, wrap-around region that holds the
// physical redo byte stream. A single append never exceeds file_size in
// one call, and a split write (one that would run past end-of-file)
// flips the sequence bit used to tell live bytes from stale tail bytes
// left over from a previous lap.
type CircularDataFile struct {
	mu         sync.Mutex
	backend    FileBackend
	fileSize   int64
	cursor     int64
	sequenceBit bool
}

// NewCircularDataFile wraps backend as a circular region of the given
// fixed size, starting at cursor 0 with the given initial sequence bit
// (callers recovering an existing file pass the bit recorded in the main
// file's header; fresh files start at true per the header format in
// §6 of the physical layout).
func NewCircularDataFile(backend FileBackend, fileSize int64, initialSequenceBit bool) *CircularDataFile {
	return &CircularDataFile{
		backend:     backend,
		fileSize:    fileSize,
		sequenceBit: initialSequenceBit,
	}
}

// SequenceBit returns the file's current sequence bit.
func (c *CircularDataFile) SequenceBit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequenceBit
}

// Cursor returns the current write cursor.
func (c *CircularDataFile) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// AppendWrapped writes data starting at the current cursor, splitting
// the write at end-of-file if necessary. A split write flips the
// sequence bit and resets the cursor to 0 before writing the remainder;
// a write landing exactly at end-of-file resets the cursor without a
// flip (the flip is strictly wrap-consuming, not boundary-touching).
func (c *CircularDataFile) AppendWrapped(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(data)) >= c.fileSize {
		return fmt.Errorf("redo: append of %d bytes is not strictly less than file size %d", len(data), c.fileSize)
	}

	remaining := c.fileSize - c.cursor
	if int64(len(data)) <= remaining {
		if err := c.backend.Write(c.cursor, data); err != nil {
			return err
		}
		c.cursor += int64(len(data))
		if c.cursor == c.fileSize {
			c.cursor = 0
		}
		return nil
	}

	// Split write: first segment fills to EOF, second segment continues
	// from offset 0 after the sequence bit flips.
	first := data[:remaining]
	second := data[remaining:]
	if err := c.backend.Write(c.cursor, first); err != nil {
		return err
	}
	c.sequenceBit = !c.sequenceBit
	c.cursor = 0
	if err := c.backend.Write(c.cursor, second); err != nil {
		return err
	}
	c.cursor = int64(len(second))
	return nil
}

// ReadWrapped reads length bytes starting at the given (pre-wrap) offset,
// splitting the read at end-of-file exactly as AppendWrapped splits
// writes. It performs no sequence-bit interpretation; callers needing to
// stop at the live/stale boundary apply that rule themselves (see
// record framing in §6 of the on-disk format).
func (c *CircularDataFile) ReadWrapped(offset int64, length int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	offset = offset % c.fileSize
	out := make([]byte, length)
	remaining := c.fileSize - offset
	if int64(length) <= remaining {
		if err := c.backend.Read(offset, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if err := c.backend.Read(offset, out[:remaining]); err != nil {
		return nil, err
	}
	if err := c.backend.Read(0, out[remaining:]); err != nil {
		return nil, err
	}
	return out, nil
}

// FileSize returns the fixed size of the circular region.
func (c *CircularDataFile) FileSize() int64 {
	return c.fileSize
}
