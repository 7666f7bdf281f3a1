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

func TestLogBufferAppendAdvancesBufFree(t *testing.T) {
	b := NewLogBuffer(4096)
	b.Append([]byte("hello"))
	if b.BufFree() != 5 {
		t.Errorf("BufFree = %d, want 5", b.BufFree())
	}
}

func TestLogBufferAppendFastWritesAtOffsetAndSetBufFreePublishes(t *testing.T) {
	b := NewLogBuffer(4096)
	b.AppendFast(100, []byte("payload"))
	half := b.ActiveHalf()
	if string(half[100:107]) != "payload" {
		t.Errorf("AppendFast wrote %q at offset 100, want %q", half[100:107], "payload")
	}
	if b.BufFree() != 0 {
		t.Errorf("BufFree = %d before SetBufFree, want 0 (AppendFast must not touch it)", b.BufFree())
	}
	b.SetBufFree(107)
	if b.BufFree() != 107 {
		t.Errorf("BufFree = %d after SetBufFree(107), want 107", b.BufFree())
	}
}

func TestLogBufferNeedsExtension(t *testing.T) {
	b := NewLogBuffer(4096)
	if b.NeedsExtension(2000) {
		t.Error("2000 bytes should not need extension of a 4096-byte half")
	}
	if !b.NeedsExtension(3000) {
		t.Error("3000 bytes should need extension of a 4096-byte half")
	}
}

func TestLogBufferSwitchCarriesPartialBlock(t *testing.T) {
	b := NewLogBuffer(4096)
	payload := make([]byte, 600) // spans into a second, partial block
	for i := range payload {
		payload[i] = byte(i)
	}
	b.Append(payload)

	writeHalf, start, end := b.Switch()
	if start != 0 || end != 600 {
		t.Errorf("Switch range = [%d,%d), want [0,600)", start, end)
	}
	if len(writeHalf) != 4096 {
		t.Errorf("writeHalf len = %d, want 4096", len(writeHalf))
	}

	// The partial block (bytes [512,600)) should have been copied to the
	// start of the new active half.
	newActive := b.ActiveHalf()
	for i := 0; i < 600-512; i++ {
		if newActive[i] != payload[512+i] {
			t.Fatalf("partial block byte %d not carried over: got %d want %d", i, newActive[i], payload[512+i])
		}
	}
	if b.BufFree() != 600%BlockSize {
		t.Errorf("BufFree after switch = %d, want %d", b.BufFree(), 600%BlockSize)
	}
}

func TestLogBufferExtendGrowsAndPreservesData(t *testing.T) {
	b := NewLogBuffer(4096)
	b.Append([]byte("preserved"))
	b.Extend(9000)

	if b.HalfSize() < 9000 {
		t.Fatalf("HalfSize = %d, want >= 9000", b.HalfSize())
	}
	got := b.ActiveHalf()[:9]
	if string(got) != "preserved" {
		t.Errorf("ActiveHalf prefix after Extend = %q, want %q", got, "preserved")
	}
}

func TestLogBufferExtendNoOpWhenAlreadyBigEnough(t *testing.T) {
	b := NewLogBuffer(8192)
	b.Extend(100)
	if b.HalfSize() != 8192 {
		t.Errorf("HalfSize changed on no-op Extend: got %d, want 8192", b.HalfSize())
	}
}
