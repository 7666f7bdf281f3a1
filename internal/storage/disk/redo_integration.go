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

package disk

import (
	"sync"

	"github.com/firefly-research/redolog/internal/metrics"
	"github.com/firefly-research/redolog/internal/storage/redo"
)

// PageHandle is the buffer pool's Latchable/DirtyPage implementation
// handed to an Mtr's memo when a page is fetched for modification. It
// carries just enough context (the owning pool and the page's id) to
// dispatch unlatch/unfix/mark-dirty back onto the pool's frame table.
type PageHandle struct {
	bp *BufferPool
	id PageID
}

// ID identifies the page for memo lookups (memo_modify_page, flush-list
// dedup within one MTR).
func (h PageHandle) ID() uint64 { return uint64(h.id) }

// UnlatchS releases the page's shared latch.
func (h PageHandle) UnlatchS() { h.bp.unlatchFrame(h.id, false) }

// UnlatchSX releases the page's SX latch (modelled as the writer side
// of the same rw-lock as X; see the Frame.latch comment).
func (h PageHandle) UnlatchSX() { h.bp.unlatchFrame(h.id, true) }

// UnlatchX releases the page's exclusive latch.
func (h PageHandle) UnlatchX() { h.bp.unlatchFrame(h.id, true) }

// UnfixPage drops the buffer-pool pin taken when the page was fetched.
func (h PageHandle) UnfixPage() {
	_ = h.bp.UnpinPage(h.id, false)
}

// MarkDirty stamps the page's modification LSN range and inserts it
// into the buffer pool's flush list, as required by MTR commit step 3.
// It is called while the engine holds the flush-order mutex, exactly
// where the commit protocol requires flush-list insertion to happen.
func (h PageHandle) MarkDirty(startLSN, endLSN redo.LSN) {
	h.bp.markFrameDirty(h.id, startLSN, endLSN)
}

// FetchForModify fetches a page, X-latches it, and returns a PageHandle
// ready to be pushed into an Mtr's memo as a PAGE_X_FIX slot. Callers
// still call mtr.MemoModifyPage(handle) once they've actually written a
// redo record for it.
func (bp *BufferPool) FetchForModify(pageID PageID) (*Page, PageHandle, error) {
	page, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, PageHandle{}, err
	}
	bp.latchFrame(pageID, true)
	return page, PageHandle{bp: bp, id: pageID}, nil
}

// FetchForRead fetches a page, S-latches it, and returns a PageHandle
// ready to be pushed into an Mtr's memo as a PAGE_S_FIX slot.
func (bp *BufferPool) FetchForRead(pageID PageID) (*Page, PageHandle, error) {
	page, err := bp.FetchPage(pageID)
	if err != nil {
		return nil, PageHandle{}, err
	}
	bp.latchFrame(pageID, false)
	return page, PageHandle{bp: bp, id: pageID}, nil
}

func (bp *BufferPool) latchFrame(pageID PageID, exclusive bool) {
	bp.mu.Lock()
	frame := bp.pageTable[pageID]
	bp.mu.Unlock()
	if frame == nil {
		return
	}
	if exclusive {
		frame.latch.Lock()
	} else {
		frame.latch.RLock()
	}
}

func (bp *BufferPool) unlatchFrame(pageID PageID, exclusive bool) {
	bp.mu.Lock()
	frame := bp.pageTable[pageID]
	bp.mu.Unlock()
	if frame == nil {
		return
	}
	if exclusive {
		frame.latch.Unlock()
	} else {
		frame.latch.RUnlock()
	}
}

func (bp *BufferPool) markFrameDirty(pageID PageID, startLSN, endLSN redo.LSN) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	frame, ok := bp.pageTable[pageID]
	if !ok {
		return
	}
	wasDirty := frame.dirty
	frame.dirty = true
	if frame.oldestModLSN == 0 || uint64(startLSN) < frame.oldestModLSN {
		frame.oldestModLSN = uint64(startLSN)
	}
	if uint64(endLSN) > frame.newestModLSN {
		frame.newestModLSN = uint64(endLSN)
	}
	if frame.page != nil && uint64(endLSN) > frame.page.PageLSN() {
		frame.page.SetPageLSN(uint64(endLSN))
	}
	if !wasDirty {
		metrics.Get().DirtyPages.Add(1)
	}
}

// OldestModifiedLSN implements redo.OldestDirtyProvider: it returns the
// smallest oldestModLSN across every dirty frame, or redo.NoLSN if the
// pool is clean. This is the flush list's head in InnoDB terms, modelled
// here as a scan since the buffer pool's frame table is the same size
// class the LRU-K eviction scan already walks.
func (bp *BufferPool) OldestModifiedLSN() redo.LSN {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var oldest uint64
	for _, frame := range bp.pageTable {
		if !frame.dirty || frame.oldestModLSN == 0 {
			continue
		}
		if oldest == 0 || frame.oldestModLSN < oldest {
			oldest = frame.oldestModLSN
		}
	}
	if oldest == 0 {
		return redo.NoLSN
	}
	return redo.LSN(oldest)
}

// PreflushTo asks the buffer pool to write out every dirty page whose
// oldest modification LSN is at or before target, advancing the flush
// list's head past target. Passing the maximum LSN preflushes
// everything (log_make_checkpoint's new_oldest = LSN_MAX).
//
// When EnableAsyncPreflush has been called, the writes are dispatched
// to the background worker pool and waited on together instead of
// being issued one at a time on this goroutine.
func (bp *BufferPool) PreflushTo(target redo.LSN) error {
	bp.mu.Lock()
	aio := bp.asyncIO
	var toFlush []PageID
	for id, frame := range bp.pageTable {
		if frame.dirty && uint64(target) >= frame.oldestModLSN {
			toFlush = append(toFlush, id)
		}
	}
	bp.mu.Unlock()

	if aio == nil {
		for _, id := range toFlush {
			if err := bp.FlushPage(id); err != nil {
				return err
			}
		}
		return nil
	}
	return bp.preflushAsync(aio, toFlush)
}

func (bp *BufferPool) preflushAsync(aio *AsyncIO, ids []PageID) error {
	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		bp.mu.Lock()
		frame, ok := bp.pageTable[id]
		bp.mu.Unlock()
		if !ok || !frame.dirty {
			continue
		}

		offset := bp.heapFile.PageOffset(id)
		data := frame.page.Data()
		priority := int(frame.oldestModLSN)
		wg.Add(1)
		pageID := id
		err := aio.WriteAsync(pageID, offset, data, priority, func(err error) {
			defer wg.Done()
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			bp.mu.Lock()
			if f, ok := bp.pageTable[pageID]; ok {
				f.dirty = false
				f.oldestModLSN, f.newestModLSN = 0, 0
			}
			bp.mu.Unlock()
			metrics.Get().DirtyPages.Add(-1)
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}

	wg.Wait()
	return firstErr
}
