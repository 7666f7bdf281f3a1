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
	"fmt"
	"hash/crc32"
)

// Every MTR commit installs exactly one record group into the data
// stream, framed as:
//
//	varint header: (size << 2) | (skip_bit << 1) | sequence_bit
//	payload: size - 4 bytes (the MTR's local log buffer)
//	trailer: CRC-32C(4) over the payload
//
// A reader walks the stream applying its own expected sequence bit; a
// record whose sequence_bit disagrees marks the live end of the log
// (the rest is a stale tail from a previous lap). skip_bit marks a
// padding record with no logical payload (used to round out a block
// boundary); readers skip it without interpreting the payload.

// EncodeRecordGroup frames payload as one data-file record.
func EncodeRecordGroup(payload []byte, skipBit, sequenceBit bool) []byte {
	size := uint64(len(payload) + 4)
	header := size << 2
	if skipBit {
		header |= 0x2
	}
	if sequenceBit {
		header |= 0x1
	}

	var hdrBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdrBuf[:], header)

	out := make([]byte, 0, n+len(payload)+4)
	out = append(out, hdrBuf[:n]...)
	out = append(out, payload...)

	crc := crc32.Checksum(payload, crc32cTable)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)
	return out
}

// DecodeRecordGroup parses one record starting at the front of buf,
// returning the payload, the flags, and the number of bytes consumed.
func DecodeRecordGroup(buf []byte) (payload []byte, skipBit, sequenceBit bool, consumed int, err error) {
	header, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, false, false, 0, fmt.Errorf("redo: truncated record header")
	}
	size := header >> 2
	skipBit = header&0x2 != 0
	sequenceBit = header&0x1 != 0

	if size < 4 {
		return nil, false, false, 0, fmt.Errorf("redo: record size %d too small to hold a trailer", size)
	}
	total := n + int(size)
	if total > len(buf) {
		return nil, false, false, 0, fmt.Errorf("redo: truncated record payload")
	}

	payloadLen := int(size) - 4
	payload = buf[n : n+payloadLen]
	gotCRC := binary.BigEndian.Uint32(buf[n+payloadLen : total])
	wantCRC := crc32.Checksum(payload, crc32cTable)
	if gotCRC != wantCRC {
		return nil, false, false, 0, fmt.Errorf("redo: record CRC mismatch")
	}

	return payload, skipBit, sequenceBit, total, nil
}
