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

import "testing"

func TestMemoPushModifyDeduplicates(t *testing.T) {
	var m Memo
	p := &fakePage{id: 7}
	m.Push(SlotPageXFix, p)
	m.PushModify(p)
	m.PushModify(p)

	count := 0
	for _, s := range m.slots {
		if s.Type == SlotModify {
			count++
		}
	}
	if count != 1 {
		t.Errorf("MODIFY marker count = %d, want 1", count)
	}
}

func TestMemoReleaseAllIsLIFO(t *testing.T) {
	var m Memo
	var order []uint64
	pages := []*fakePage{{id: 1, releaseLog: &order}, {id: 2, releaseLog: &order}, {id: 3, releaseLog: &order}}
	for _, p := range pages {
		m.Push(SlotPageXFix, p)
	}

	// Each page's UnlatchX appends its id to order, recording the release order.
	m.ReleaseAll()

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("expected reverse acquisition order [3 2 1], got %v", order)
	}
	for _, p := range pages {
		if p.xUnlatched != 1 || p.unfixed != 1 {
			t.Errorf("page %d: xUnlatched=%d unfixed=%d, want 1,1", p.id, p.xUnlatched, p.unfixed)
		}
	}
}

func TestMemoReleaseAllSkipsModifyMarkers(t *testing.T) {
	var m Memo
	p := &fakePage{id: 1}
	m.Push(SlotPageXFix, p)
	m.PushModify(p)

	m.ReleaseAll()
	if p.xUnlatched != 1 {
		t.Errorf("xUnlatched = %d, want 1 (MODIFY marker must not trigger another release)", p.xUnlatched)
	}
}

func TestMemoReleaseSlotNotFound(t *testing.T) {
	var m Memo
	p := &fakePage{id: 1}
	if err := m.ReleaseSlot(p, SlotXLock); err == nil {
		t.Fatal("expected error releasing a slot never recorded in the memo")
	}
}

func TestMemoForEachDirtyPageReverseOnlyPageFixSlots(t *testing.T) {
	var m Memo
	xPage := &fakePage{id: 1}
	sPage := &fakePage{id: 2}
	m.Push(SlotPageXFix, xPage)
	m.Push(SlotPageSFix, sPage)
	m.PushModify(xPage)

	var seen []uint64
	m.ForEachDirtyPageReverse(func(dp DirtyPage) {
		seen = append(seen, dp.ID())
	})

	if len(seen) != 1 || seen[0] != 1 {
		t.Errorf("ForEachDirtyPageReverse visited %v, want [1] (S-fixed page is not a dirty candidate)", seen)
	}
}

func TestMemoEmpty(t *testing.T) {
	var m Memo
	if !m.Empty() {
		t.Fatal("freshly constructed Memo should be Empty")
	}
	m.Push(SlotSLock, &fakePage{id: 1})
	if m.Empty() {
		t.Fatal("Memo with a slot should not be Empty")
	}
}
