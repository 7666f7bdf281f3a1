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
	"encoding/binary"
	"hash/crc32"

	redoerrors "github.com/firefly-research/redolog/internal/errors"
)

// Block header layout (12 bytes), payload, and a CRC-32C trailer (4 bytes).
//
//	offset 0:  block number, 4 bytes BE. Top bit is the flush-bit; the
//	           remaining 31 bits wrap per BlockNo.
//	offset 4:  data length, 2 bytes BE (0..BlockSize means "full").
//	offset 6:  first-record-group offset, 2 bytes BE.
//	offset 8:  low 32 bits of the checkpoint number the block was last
//	           written under, 4 bytes BE.
//	offset 12: payload.
//	last 4 bytes: CRC-32C over everything preceding it.
const (
	blockHeaderSize  = 12
	blockTrailerSize = 4

	blockOffBlockNo       = 0
	blockOffDataLen       = 4
	blockOffFirstRecGroup = 6
	blockOffCheckpointNo  = 8
	blockOffPayload       = blockHeaderSize

	// KeySlotSize is the number of bytes a block reserves at the front of
	// its payload for a per-block encryption key slot when encryption is
	// enabled: randNonceSize bytes of fresh randomness plus
	// keyVersionSize bytes of key-version material (storage.NonceSize),
	// matching LOG_BLOCK_KEY rather than a full CTR nonce. The cipher
	// widens this back out to a full IV using the block's own block
	// number (see storage.BlockCipher.EncryptBlock).
	KeySlotSize = 10

	// PayloadSizePlain is the payload capacity of an unencrypted block.
	PayloadSizePlain = BlockSize - blockHeaderSize - blockTrailerSize // 496

	// PayloadSizeEncrypted is the payload capacity of a block that
	// reserves a key slot.
	PayloadSizeEncrypted = PayloadSizePlain - KeySlotSize // 486

	flushBitMask uint32 = 0x80000000
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the CRC-32C of a block's header+payload region (the
// first BlockSize-4 bytes).
func checksum(block []byte) uint32 {
	return crc32.Checksum(block[:BlockSize-blockTrailerSize], crc32cTable)
}

// InitBlock zeroes and stamps a fresh block header for lsn. Equivalent to
// log_block_init: called both when the buffer is first created and
// whenever a record write spills into a new block.
func InitBlock(block []byte, lsn LSN) {
	for i := range block {
		block[i] = 0
	}
	binary.BigEndian.PutUint32(block[blockOffBlockNo:], BlockNo(lsn))
}

// DataLen returns the block's data-length field.
func DataLen(block []byte) uint16 {
	return binary.BigEndian.Uint16(block[blockOffDataLen:])
}

// SetDataLen sets the block's data-length field.
func SetDataLen(block []byte, n uint16) {
	binary.BigEndian.PutUint16(block[blockOffDataLen:], n)
}

// FirstRecGroup returns the block's first-record-group offset.
func FirstRecGroup(block []byte) uint16 {
	return binary.BigEndian.Uint16(block[blockOffFirstRecGroup:])
}

// SetFirstRecGroup sets the block's first-record-group offset. A value of
// 0 means "no record group starts in this block" (its predecessor's
// record runs through it).
func SetFirstRecGroup(block []byte, off uint16) {
	binary.BigEndian.PutUint16(block[blockOffFirstRecGroup:], off)
}

// SetCheckpointNo stamps the low 32 bits of the checkpoint generation
// this block was written under. Engine.writeIntoBuffer calls it when a
// block becomes full; a block that is still open when the write wave
// writes it out is not stamped.
func SetCheckpointNo(block []byte, no uint64) {
	binary.BigEndian.PutUint32(block[blockOffCheckpointNo:], uint32(no))
}

// CheckpointNo returns the block's checkpoint-number field.
func CheckpointNo(block []byte) uint32 {
	return binary.BigEndian.Uint32(block[blockOffCheckpointNo:])
}

// SetFlushBit sets or clears the flush-bit in the block-number field.
func SetFlushBit(block []byte, set bool) {
	v := binary.BigEndian.Uint32(block[blockOffBlockNo:])
	if set {
		v |= flushBitMask
	} else {
		v &^= flushBitMask
	}
	binary.BigEndian.PutUint32(block[blockOffBlockNo:], v)
}

// FlushBit reports whether the block's flush-bit is set.
func FlushBit(block []byte) bool {
	return binary.BigEndian.Uint32(block[blockOffBlockNo:])&flushBitMask != 0
}

// BlockNoOf returns the block-number field with the flush-bit masked off.
func BlockNoOf(block []byte) uint32 {
	return binary.BigEndian.Uint32(block[blockOffBlockNo:]) & blockNoMask
}

// StoreChecksum computes and writes the trailing CRC-32C.
func StoreChecksum(block []byte) {
	binary.BigEndian.PutUint32(block[BlockSize-blockTrailerSize:], checksum(block))
}

// VerifyChecksum reports whether the stored trailer matches the computed
// CRC-32C of the block.
func VerifyChecksum(block []byte) bool {
	want := binary.BigEndian.Uint32(block[BlockSize-blockTrailerSize:])
	return want == checksum(block)
}

// TrailerOffset returns the offset of a block's CRC-32C trailer, i.e. the
// end of the payload region; the key slot, when reserved, is taken out of
// the payload, so both layouts give the same offset.
func TrailerOffset(encrypted bool) int {
	if encrypted {
		return blockOffPayload + KeySlotSize + PayloadSizeEncrypted
	}
	return blockOffPayload + PayloadSizePlain
}

// PayloadStart returns the offset at which record bytes begin, skipping
// the key slot when encryption is enabled.
func PayloadStart(encrypted bool) int {
	if encrypted {
		return blockOffPayload + KeySlotSize
	}
	return blockOffPayload
}

// KeySlot returns the mutable key-slot region of an encrypted block.
func KeySlot(block []byte) []byte {
	return block[blockOffPayload : blockOffPayload+KeySlotSize]
}

// ValidateChecksumOrError verifies a block's checksum, returning a
// structured Storage-category error (not a panic) on mismatch; recovery
// parsing is out of this engine's scope but collaborators that read
// blocks back (e.g. the round-trip tests) still need a typed failure.
func ValidateChecksumOrError(block []byte) error {
	if !VerifyChecksum(block) {
		return redoerrors.CorruptBlock("block checksum mismatch")
	}
	return nil
}
