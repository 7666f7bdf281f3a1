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

func TestInitBlockStampsBlockNo(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, 513)
	if got := BlockNoOf(block); got != BlockNo(513) {
		t.Errorf("BlockNoOf = %d, want %d", got, BlockNo(513))
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, FirstLSN)
	SetDataLen(block, 100)
	copy(block[blockOffPayload:], []byte("hello world"))
	StoreChecksum(block)

	if !VerifyChecksum(block) {
		t.Fatal("VerifyChecksum returned false for an untouched freshly-stamped block")
	}

	block[20] ^= 0xFF
	if VerifyChecksum(block) {
		t.Fatal("VerifyChecksum returned true after corrupting payload byte")
	}
}

func TestFlushBitIndependentOfBlockNo(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, 1024)
	before := BlockNoOf(block)

	SetFlushBit(block, true)
	if !FlushBit(block) {
		t.Fatal("FlushBit false after SetFlushBit(true)")
	}
	if got := BlockNoOf(block); got != before {
		t.Errorf("BlockNoOf changed after SetFlushBit: got %d, want %d", got, before)
	}

	SetFlushBit(block, false)
	if FlushBit(block) {
		t.Fatal("FlushBit true after SetFlushBit(false)")
	}
}

func TestFirstRecGroupFieldRoundTrip(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, FirstLSN)
	SetFirstRecGroup(block, 42)
	if got := FirstRecGroup(block); got != 42 {
		t.Errorf("FirstRecGroup = %d, want 42", got)
	}
}

func TestCheckpointNoFieldRoundTrip(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, FirstLSN)
	SetCheckpointNo(block, 0x1_0000_0007) // only the low 32 bits should be stored
	if got := CheckpointNo(block); got != 7 {
		t.Errorf("CheckpointNo = %d, want 7", got)
	}
}

func TestPayloadCapacityEncryptedSmallerThanPlain(t *testing.T) {
	if PayloadSizeEncrypted >= PayloadSizePlain {
		t.Fatalf("encrypted payload capacity %d should be smaller than plain %d", PayloadSizeEncrypted, PayloadSizePlain)
	}
	if PayloadSizePlain != BlockSize-blockHeaderSize-blockTrailerSize {
		t.Errorf("PayloadSizePlain = %d, want %d", PayloadSizePlain, BlockSize-blockHeaderSize-blockTrailerSize)
	}
	if PayloadSizePlain != 496 {
		t.Errorf("PayloadSizePlain = %d, want 496", PayloadSizePlain)
	}
	if PayloadSizeEncrypted != 486 {
		t.Errorf("PayloadSizeEncrypted = %d, want 486", PayloadSizeEncrypted)
	}
}

func TestValidateChecksumOrErrorReportsCorruption(t *testing.T) {
	block := make([]byte, BlockSize)
	InitBlock(block, FirstLSN)
	StoreChecksum(block)
	if err := ValidateChecksumOrError(block); err != nil {
		t.Fatalf("unexpected error on valid block: %v", err)
	}

	block[0] ^= 0xFF
	if err := ValidateChecksumOrError(block); err == nil {
		t.Fatal("expected error on corrupted block, got nil")
	}
}
