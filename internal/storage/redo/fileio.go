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
	"os"

	"golang.org/x/sys/unix"

	redoerrors "github.com/firefly-research/redolog/internal/errors"
)

// FlushMethod selects how a FileBackend guarantees durability of writes.
// It mirrors the choice InnoDB exposes as innodb_flush_method: either
// every WriteAt is itself durable (O_DSYNC-equivalent), or writes are
// buffered and a separate Sync call is required before a write is
// considered durable.
type FlushMethod int

const (
	// FlushMethodFsync buffers writes and requires an explicit Sync.
	FlushMethodFsync FlushMethod = iota
	// FlushMethodODSync opens the file so that every WriteAt is durable
	// on return, making the explicit Sync a cheap no-op.
	FlushMethodODSync
)

// FileBackend is the minimal durable byte-addressable file abstraction
// the redo engine needs from the file system. It exists so the circular
// data file and main log file never call os.File directly, the same
// separation InnoDB draws between log0log.cc and its os0file.cc layer.
type FileBackend interface {
	// Read fills dst entirely from the given absolute offset.
	Read(offset int64, dst []byte) error
	// Write stores src entirely at the given absolute offset. It is only
	// guaranteed durable after a following Sync unless the backend's
	// FlushMethod is FlushMethodODSync.
	Write(offset int64, src []byte) error
	// Sync forces any buffered writes to stable storage.
	Sync() error
	// DurableWrites reports whether Write alone is already durable,
	// letting callers skip a redundant Sync call (the writes_are_durable
	// optimization).
	DurableWrites() bool
	// Rename moves the backing file to newPath, letting a caller that
	// has formatted a replacement log file under a scratch name swap it
	// in under the live one atomically.
	Rename(newPath string) error
	// Close releases the underlying file handle.
	Close() error
}

// osFileBackend implements FileBackend on top of *os.File.
type osFileBackend struct {
	path   string
	file   *os.File
	method FlushMethod
}

// OpenFileBackend opens (creating if necessary) a fixed-layout file at
// path for use as redo log storage. When method is FlushMethodODSync the
// file is opened with O_SYNC so every write is durable on return,
// matching SRV_O_DSYNC in the reference engine.
func OpenFileBackend(path string, method FlushMethod) (FileBackend, error) {
	flags := os.O_RDWR | os.O_CREATE
	if method == FlushMethodODSync {
		flags |= os.O_SYNC
	}
	f, err := os.OpenFile(path, flags, 0o640)
	if err != nil {
		return nil, redoerrors.OpenFailed(path, err)
	}
	return &osFileBackend{path: path, file: f, method: method}, nil
}

func (b *osFileBackend) Read(offset int64, dst []byte) error {
	if _, err := b.file.ReadAt(dst, offset); err != nil {
		return redoerrors.ReadFailed(b.path, offset, err)
	}
	return nil
}

func (b *osFileBackend) Write(offset int64, src []byte) error {
	if _, err := b.file.WriteAt(src, offset); err != nil {
		return redoerrors.WriteFailed(b.path, offset, err)
	}
	return nil
}

func (b *osFileBackend) Sync() error {
	if b.method == FlushMethodODSync {
		return nil
	}
	if err := b.file.Sync(); err != nil {
		return redoerrors.FlushFailed(b.path, err)
	}
	return nil
}

func (b *osFileBackend) DurableWrites() bool {
	return b.method == FlushMethodODSync
}

func (b *osFileBackend) Rename(newPath string) error {
	if err := os.Rename(b.path, newPath); err != nil {
		return redoerrors.OpenFailed(newPath, err)
	}
	b.path = newPath
	return nil
}

func (b *osFileBackend) Close() error {
	return b.file.Close()
}

// mmapFileBackend implements FileBackend over a persistent-memory-backed
// file mapped directly into the process's address space: Read and Write
// are plain memory copies against the mapping rather than syscalls, and
// Sync drives an msync so the mapped pages are forced out past any
// volatile cache, matching the "always durable once synced, non-temporal
// stores" variant InnoDB reserves for PMEM-backed log devices.
type mmapFileBackend struct {
	path string
	file *os.File
	data []byte
}

// OpenMappedFileBackend opens (creating and sizing if necessary) a
// fixed-layout file at path and maps its full size into memory with
// MAP_SHARED, so writes through the returned FileBackend land directly
// on the backing device without an intervening page-cache copy.
func OpenMappedFileBackend(path string, size int64) (FileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, redoerrors.OpenFailed(path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, redoerrors.OpenFailed(path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, redoerrors.OpenFailed(path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, redoerrors.OpenFailed(path, err)
	}

	return &mmapFileBackend{path: path, file: f, data: data}, nil
}

func (b *mmapFileBackend) Read(offset int64, dst []byte) error {
	if offset < 0 || offset+int64(len(dst)) > int64(len(b.data)) {
		return redoerrors.ReadFailed(b.path, offset, os.ErrInvalid)
	}
	copy(dst, b.data[offset:offset+int64(len(dst))])
	return nil
}

func (b *mmapFileBackend) Write(offset int64, src []byte) error {
	if offset < 0 || offset+int64(len(src)) > int64(len(b.data)) {
		return redoerrors.WriteFailed(b.path, offset, os.ErrInvalid)
	}
	copy(b.data[offset:offset+int64(len(src))], src)
	return nil
}

// Sync msyncs the mapping. Unlike osFileBackend's buffered path, this is
// never skipped: MAP_SHARED writes are visible to other mappers
// immediately but are not guaranteed past a power loss until msync'd.
func (b *mmapFileBackend) Sync() error {
	if err := unix.Msync(b.data, unix.MS_SYNC); err != nil {
		return redoerrors.FlushFailed(b.path, err)
	}
	return nil
}

// DurableWrites reports true: once Sync has been called after a write,
// the mapped pages are durable, and a PMEM-backed mapping using
// non-temporal stores needs no separate write-durability distinction
// the way a page-cache-backed file does.
func (b *mmapFileBackend) DurableWrites() bool {
	return true
}

func (b *mmapFileBackend) Rename(newPath string) error {
	if err := os.Rename(b.path, newPath); err != nil {
		return redoerrors.OpenFailed(newPath, err)
	}
	b.path = newPath
	return nil
}

func (b *mmapFileBackend) Close() error {
	if err := unix.Munmap(b.data); err != nil {
		return redoerrors.FlushFailed(b.path, err)
	}
	return b.file.Close()
}
