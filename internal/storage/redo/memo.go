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

import redoerrors "github.com/firefly-research/redolog/internal/errors"

// SlotType discriminates the kind of resource a memo slot holds. Each
// type has distinct release semantics, dispatched from a single release
// entry point.
type SlotType int

const (
	SlotModify SlotType = iota
	SlotSLock
	SlotSXLock
	SlotXLock
	SlotBufFix
	SlotPageSFix
	SlotPageSXFix
	SlotPageXFix
)

// Latchable is the opaque, non-owning handle a memo slot holds a
// reference to: a page frame or an rw-lock, supplied by the buffer pool
// collaborator. The memo never owns the object's lifetime; it only
// bounds it to the MTR's commit.
type Latchable interface {
	// ID identifies the underlying page or lock, used to locate an
	// existing slot for memo_modify_page and flush-list insertion.
	ID() uint64
	// UnlatchS/SX/X drop the corresponding rw-lock; UnfixPage drops a
	// buffer-pool pin. Only the method matching the slot's type is ever
	// called.
	UnlatchS()
	UnlatchSX()
	UnlatchX()
	UnfixPage()
}

// DirtyPage is a Latchable that can also be inserted into the buffer
// pool's flush list. PAGE_X_FIX and PAGE_SX_FIX slots satisfy this.
type DirtyPage interface {
	Latchable
	MarkDirty(startLSN, endLSN LSN)
}

// memoSlot is one entry in the MTR's ordered memo. Slots are appended
// in acquisition order and released strictly LIFO; a released slot has
// its Object field nulled in place rather than being removed, so memo
// indices remain stable during the reverse walk.
type memoSlot struct {
	Type   SlotType
	Object Latchable
}

// Memo is the MTR's ordered record of acquired latches and pins.
type Memo struct {
	slots []memoSlot
}

// Push appends a new slot in acquisition order.
func (m *Memo) Push(t SlotType, obj Latchable) {
	m.slots = append(m.slots, memoSlot{Type: t, Object: obj})
}

// PushModify records that obj (which must already be X- or SX-latched)
// was modified in this MTR, unless a MODIFY marker for it is already
// present. The marker has no resource of its own; it exists purely so a
// page is recorded as modified at most once per MTR.
func (m *Memo) PushModify(obj Latchable) {
	for _, s := range m.slots {
		if s.Type == SlotModify && s.Object != nil && s.Object.ID() == obj.ID() {
			return
		}
	}
	m.Push(SlotModify, obj)
}

// ReleaseSlot nulls the slot holding obj with the given type, dispatching
// to the matching unlatch/unfix method. It is a contract violation to
// release an object never recorded in the memo.
func (m *Memo) ReleaseSlot(obj Latchable, t SlotType) error {
	for i := range m.slots {
		s := &m.slots[i]
		if s.Type != t || s.Object == nil || s.Object.ID() != obj.ID() {
			continue
		}
		releaseOne(*s)
		s.Object = nil
		return nil
	}
	return redoerrors.MemoSlotNotFound()
}

// ReleaseAll walks the memo in reverse acquisition order, releasing
// every still-held slot. MODIFY markers are skipped (no resource to
// release). This is step 4 of the MTR commit protocol.
func (m *Memo) ReleaseAll() {
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := &m.slots[i]
		if s.Object == nil || s.Type == SlotModify {
			continue
		}
		releaseOne(*s)
		s.Object = nil
	}
}

// ForEachDirtyPageReverse walks the memo in reverse, invoking fn for
// every still-held PAGE_X_FIX or PAGE_SX_FIX slot. This is step 3 of the
// commit protocol: flush-list insertion happens before latch release,
// and in reverse-memo order exactly like release does.
func (m *Memo) ForEachDirtyPageReverse(fn func(DirtyPage)) {
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := m.slots[i]
		if s.Object == nil {
			continue
		}
		if s.Type != SlotPageXFix && s.Type != SlotPageSXFix {
			continue
		}
		if dp, ok := s.Object.(DirtyPage); ok {
			fn(dp)
		}
	}
}

// Empty reports whether the memo has no slots at all (used by the
// empty-commit fast path: no latches, no modifications).
func (m *Memo) Empty() bool {
	return len(m.slots) == 0
}

func releaseOne(s memoSlot) {
	switch s.Type {
	case SlotSLock:
		s.Object.UnlatchS()
	case SlotSXLock:
		s.Object.UnlatchSX()
	case SlotXLock:
		s.Object.UnlatchX()
	case SlotBufFix:
		s.Object.UnfixPage()
	case SlotPageSFix:
		s.Object.UnlatchS()
		s.Object.UnfixPage()
	case SlotPageSXFix:
		s.Object.UnlatchSX()
		s.Object.UnfixPage()
	case SlotPageXFix:
		s.Object.UnlatchX()
		s.Object.UnfixPage()
	}
}
