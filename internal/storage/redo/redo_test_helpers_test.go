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

// memBackend is an in-memory FileBackend test double standing in for a
// real file: fixed-size byte slice, bounds-checked reads/writes, no
// actual durability semantics (Sync is a no-op that always succeeds).
type memBackend struct {
	mu   sync.Mutex
	data []byte
	path string
}

func newMemBackend(size int) *memBackend {
	return &memBackend{data: make([]byte, size)}
}

func (b *memBackend) Read(offset int64, dst []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 || offset+int64(len(dst)) > int64(len(b.data)) {
		return fmt.Errorf("memBackend: read out of range offset=%d len=%d size=%d", offset, len(dst), len(b.data))
	}
	copy(dst, b.data[offset:offset+int64(len(dst))])
	return nil
}

func (b *memBackend) Write(offset int64, src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 || offset+int64(len(src)) > int64(len(b.data)) {
		return fmt.Errorf("memBackend: write out of range offset=%d len=%d size=%d", offset, len(src), len(b.data))
	}
	copy(b.data[offset:offset+int64(len(src))], src)
	return nil
}

func (b *memBackend) Sync() error         { return nil }
func (b *memBackend) DurableWrites() bool { return false }
func (b *memBackend) Close() error        { return nil }

func (b *memBackend) Rename(newPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = newPath
	return nil
}

// fakeDirtyProvider is a minimal OldestDirtyProvider test double: callers
// set oldest directly and PreflushTo just advances it, with no real
// buffer pool behind it.
type fakeDirtyProvider struct {
	mu     sync.Mutex
	oldest LSN
}

func (f *fakeDirtyProvider) OldestModifiedLSN() LSN {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oldest
}

func (f *fakeDirtyProvider) PreflushTo(target LSN) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if target >= f.oldest {
		f.oldest = NoLSN
	}
	return nil
}

func (f *fakeDirtyProvider) setOldest(lsn LSN) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oldest = lsn
}

// fakePage is a minimal Latchable/DirtyPage test double for exercising
// the MTR memo without a real buffer pool.
type fakePage struct {
	id          uint64
	sUnlatched  int
	sxUnlatched int
	xUnlatched  int
	unfixed     int
	dirtiedFrom LSN
	dirtiedTo   LSN
	releaseLog  *[]uint64 // when set, UnlatchX appends the page's id here
}

func (p *fakePage) ID() uint64  { return p.id }
func (p *fakePage) UnlatchS()   { p.sUnlatched++ }
func (p *fakePage) UnlatchSX()  { p.sxUnlatched++ }
func (p *fakePage) UnlatchX() {
	p.xUnlatched++
	if p.releaseLog != nil {
		*p.releaseLog = append(*p.releaseLog, p.id)
	}
}
func (p *fakePage) UnfixPage()  { p.unfixed++ }
func (p *fakePage) MarkDirty(startLSN, endLSN LSN) {
	p.dirtiedFrom = startLSN
	p.dirtiedTo = endLSN
}

// newTestEngine builds a fully wired Engine over in-memory backends,
// sized small enough for fast, deterministic tests.
func newTestEngine(t interface{ Fatalf(string, ...interface{}) }, bufSize int, dataFileSize uint64) (*Engine, *fakeDirtyProvider) {
	mainBackend := newMemBackend(MainFileSize)
	dataBackend := newMemBackend(int(dataFileSize))
	dirty := &fakeDirtyProvider{}

	cfg := Config{
		LogBufferSize: bufSize,
		LogFileSize:   dataFileSize,
	}
	e, err := NewEngine(cfg, mainBackend, dataBackend, dirty)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, dirty
}

// newEncryptedTestEngine is newTestEngine with block encryption enabled.
func newEncryptedTestEngine(t interface{ Fatalf(string, ...interface{}) }, bufSize int, dataFileSize uint64) (*Engine, *fakeDirtyProvider) {
	mainBackend := newMemBackend(MainFileSize)
	dataBackend := newMemBackend(int(dataFileSize))
	dirty := &fakeDirtyProvider{}

	cfg := Config{
		LogBufferSize:        bufSize,
		LogFileSize:          dataFileSize,
		EncryptLog:           true,
		EncryptionPassphrase: "test-only-passphrase",
	}
	e, err := NewEngine(cfg, mainBackend, dataBackend, dirty)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, dirty
}
