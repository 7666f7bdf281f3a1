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
	"sync"

	redoerrors "github.com/firefly-research/redolog/internal/errors"
)

// The main log file is exactly four 512-byte blocks. Block 0 is the
// header; blocks 1 and 3 are alternating checkpoint ring slots; block 2
// is reserved.
const (
	MainFileSize = 4 * BlockSize

	headerBlockNo  = 0
	checkpointSlot0BlockNo = 1
	reservedBlockNo = 2
	checkpointSlot1BlockNo = 3

	// FormatCurrent is the 4-byte format tag stamped into the header.
	FormatCurrent uint32 = 0x50485953

	headerOffFormat     = 0
	headerOffKeyVersion = 4
	headerOffSize       = 8 // top bit: sequence bit; low 47 bits: data_file_size
	headerOffCreator    = 16
	headerCreatorSize   = 32
	headerOffCrypt      = headerOffCreator + headerCreatorSize // CRYPT_MSG/KEY/NONCE, 16 bytes each, optional

	sizeSeqBitMask uint64 = 1 << 63

	// checkpointRecordSize is the 19-byte durable checkpoint record:
	// tag(1) + LSN(8) + packed{sequence_bit:1,data_file_offset:47}(6) + CRC32C(4).
	checkpointRecordSize = 19

	tagFileCheckpoint byte = 14 | 0x80 // FILE_CHECKPOINT | 14, high bit marks the tag kind per the physical format

	creatorString = "redolog v10.5"

	// Reserved block 2 holds a fixed-capacity table of tablespace
	// identifier enumeration records: which tablespace IDs the data file
	// currently covers, stamped by whatever DDL operation most recently
	// created or dropped a tablespace. This is not consulted by normal
	// write-path operation; it exists for an operator or a recovery
	// collaborator that needs to reconcile tablespace IDs against the
	// log without scanning the data file itself.
	tsNameSize      = 28
	tsRecordSize    = 4 + tsNameSize + 4 // spaceID + name + CRC32C
	tsCountOffset   = blockOffPayload
	tsTableOffset   = blockOffPayload + 2
	tsMaxRecords    = (PayloadSizePlain - 2) / tsRecordSize
)

// TablespaceRecord identifies one tablespace covered by the log's
// reserved enumeration table.
type TablespaceRecord struct {
	SpaceID uint32
	Name    string
}

// CheckpointRecord is the durable record published at the end of a
// successful log_checkpoint: the LSN covered, and the circular data file
// position (sequence bit + byte offset) that corresponds to it.
type CheckpointRecord struct {
	LSN             LSN
	SequenceBit     bool
	DataFileOffset  uint64 // 47 bits
	CheckpointNo    uint64
}

// MainLogFile owns the header block and the two-slot checkpoint ring.
type MainLogFile struct {
	mu      sync.Mutex
	backend FileBackend

	dataFileSize uint64
	keyVersion   uint32
	nextSlot     int // 0 or 1, selects which of the two ring blocks receives the next write
	nextCheckpointNo uint64
}

// CreateMainLogFile formats a brand-new main file: header block with the
// given data file size and an initial sequence bit of true, followed by
// a first checkpoint record at LSN 1 / offset 0 written into slot 0.
func CreateMainLogFile(backend FileBackend, dataFileSize uint64, keyVersion uint32) (*MainLogFile, error) {
	if dataFileSize%BlockSize != 0 {
		return nil, fmt.Errorf("redo: data file size %d is not a multiple of %d", dataFileSize, BlockSize)
	}

	m := &MainLogFile{
		backend:      backend,
		dataFileSize: dataFileSize,
		keyVersion:   keyVersion,
		nextCheckpointNo: 1,
	}

	if err := m.writeHeader(true); err != nil {
		return nil, err
	}
	if err := m.WriteCheckpoint(CheckpointRecord{LSN: FirstLSN, SequenceBit: true, DataFileOffset: 0, CheckpointNo: 1}); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenMainLogFile reads back an existing main file's header, without
// touching the checkpoint ring (callers that need the last checkpoint
// call ReadLatestCheckpoint separately, which chooses between the two
// ring slots by CRC and checkpoint number).
func OpenMainLogFile(backend FileBackend) (*MainLogFile, error) {
	header := make([]byte, BlockSize)
	if err := backend.Read(headerBlockNo*BlockSize, header); err != nil {
		return nil, err
	}
	if err := ValidateChecksumOrError(header); err != nil {
		return nil, err
	}
	format := binary.BigEndian.Uint32(header[headerOffFormat:])
	if format != FormatCurrent {
		return nil, redoerrors.CorruptBlock(fmt.Sprintf("unrecognised main file format %#x", format))
	}
	keyVersion := binary.BigEndian.Uint32(header[headerOffKeyVersion:])
	sizeField := binary.BigEndian.Uint64(header[headerOffSize:])
	dataFileSize := sizeField &^ sizeSeqBitMask

	return &MainLogFile{
		backend:          backend,
		dataFileSize:     dataFileSize,
		keyVersion:       keyVersion,
	}, nil
}

func (m *MainLogFile) writeHeader(initialSequenceBit bool) error {
	block := make([]byte, BlockSize)
	InitBlock(block, NoLSN)
	binary.BigEndian.PutUint32(block[headerOffFormat:], FormatCurrent)
	binary.BigEndian.PutUint32(block[headerOffKeyVersion:], m.keyVersion)

	sizeField := m.dataFileSize
	if initialSequenceBit {
		sizeField |= sizeSeqBitMask
	}
	binary.BigEndian.PutUint64(block[headerOffSize:], sizeField)
	copy(block[headerOffCreator:headerOffCreator+headerCreatorSize], creatorString)

	StoreChecksum(block)
	if err := m.backend.Write(headerBlockNo*BlockSize, block); err != nil {
		return err
	}
	return m.backend.Sync()
}

// DataFileSize returns the configured size of the circular data file, as
// recorded in the main file's header.
func (m *MainLogFile) DataFileSize() uint64 {
	return m.dataFileSize
}

// WriteCheckpoint durably appends a checkpoint record to the ring,
// alternating between the two slots so a torn write can be recovered
// from the other slot by CRC validation.
func (m *MainLogFile) WriteCheckpoint(rec CheckpointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	block := make([]byte, BlockSize)
	InitBlock(block, NoLSN)
	encodeCheckpointRecord(block[blockOffPayload:], rec)
	SetCheckpointNo(block, rec.CheckpointNo)
	StoreChecksum(block)

	blockNo := checkpointSlot0BlockNo
	if m.nextSlot == 1 {
		blockNo = checkpointSlot1BlockNo
	}
	if err := m.backend.Write(int64(blockNo)*BlockSize, block); err != nil {
		return err
	}
	if err := m.backend.Sync(); err != nil {
		return err
	}
	m.nextSlot = 1 - m.nextSlot
	if rec.CheckpointNo > m.nextCheckpointNo {
		m.nextCheckpointNo = rec.CheckpointNo + 1
	}
	return nil
}

// ReadLatestCheckpoint reads both ring slots and returns the valid
// record with the higher checkpoint number (a torn write leaves one slot
// with a bad CRC, which is skipped).
func (m *MainLogFile) ReadLatestCheckpoint() (CheckpointRecord, error) {
	var candidates []CheckpointRecord
	for _, blockNo := range []int{checkpointSlot0BlockNo, checkpointSlot1BlockNo} {
		block := make([]byte, BlockSize)
		if err := m.backend.Read(int64(blockNo)*BlockSize, block); err != nil {
			return CheckpointRecord{}, err
		}
		if !VerifyChecksum(block) {
			continue
		}
		rec, err := decodeCheckpointRecord(block[blockOffPayload:])
		if err != nil {
			continue
		}
		rec.CheckpointNo = uint64(CheckpointNo(block))
		candidates = append(candidates, rec)
	}
	if len(candidates) == 0 {
		return CheckpointRecord{}, redoerrors.CorruptBlock("no valid checkpoint record in either ring slot")
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CheckpointNo > best.CheckpointNo {
			best = c
		}
	}
	return best, nil
}

// WriteTablespaceRecord stamps (or updates, if spaceID already appears)
// an entry in the reserved block's tablespace table and makes it
// durable. Returns an error if the table is already at capacity and
// spaceID is new.
func (m *MainLogFile) WriteTablespaceRecord(spaceID uint32, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.readTablespaceRecordsLocked()
	if err != nil && !redoerrors.IsCorruptBlock(err) {
		return err
	}

	replaced := false
	for i := range records {
		if records[i].SpaceID == spaceID {
			records[i].Name = name
			replaced = true
			break
		}
	}
	if !replaced {
		if len(records) >= tsMaxRecords {
			return fmt.Errorf("redo: tablespace record table full (%d entries)", tsMaxRecords)
		}
		records = append(records, TablespaceRecord{SpaceID: spaceID, Name: name})
	}

	block := make([]byte, BlockSize)
	InitBlock(block, NoLSN)
	binary.BigEndian.PutUint16(block[tsCountOffset:], uint16(len(records)))
	for i, rec := range records {
		entry := block[tsTableOffset+i*tsRecordSize : tsTableOffset+(i+1)*tsRecordSize]
		encodeTablespaceRecord(entry, rec)
	}
	StoreChecksum(block)

	if err := m.backend.Write(reservedBlockNo*BlockSize, block); err != nil {
		return err
	}
	return m.backend.Sync()
}

// ReadTablespaceRecords returns the current contents of the reserved
// block's tablespace table. An all-zero (never written) reserved block
// is reported as an empty table, not an error.
func (m *MainLogFile) ReadTablespaceRecords() ([]TablespaceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readTablespaceRecordsLocked()
}

func (m *MainLogFile) readTablespaceRecordsLocked() ([]TablespaceRecord, error) {
	block := make([]byte, BlockSize)
	if err := m.backend.Read(reservedBlockNo*BlockSize, block); err != nil {
		return nil, err
	}

	allZero := true
	for _, b := range block {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, nil
	}
	if !VerifyChecksum(block) {
		return nil, redoerrors.CorruptBlock("tablespace record block checksum mismatch")
	}

	count := binary.BigEndian.Uint16(block[tsCountOffset:])
	if int(count) > tsMaxRecords {
		return nil, redoerrors.CorruptBlock("tablespace record count exceeds table capacity")
	}

	records := make([]TablespaceRecord, 0, count)
	for i := 0; i < int(count); i++ {
		entry := block[tsTableOffset+i*tsRecordSize : tsTableOffset+(i+1)*tsRecordSize]
		rec, err := decodeTablespaceRecord(entry)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeTablespaceRecord(buf []byte, rec TablespaceRecord) {
	binary.BigEndian.PutUint32(buf[0:4], rec.SpaceID)
	var name [tsNameSize]byte
	copy(name[:], rec.Name)
	copy(buf[4:4+tsNameSize], name[:])
	binary.BigEndian.PutUint32(buf[4+tsNameSize:], crc32.Checksum(buf[:4+tsNameSize], crc32cTable))
}

func decodeTablespaceRecord(buf []byte) (TablespaceRecord, error) {
	want := binary.BigEndian.Uint32(buf[4+tsNameSize:])
	got := crc32.Checksum(buf[:4+tsNameSize], crc32cTable)
	if want != got {
		return TablespaceRecord{}, redoerrors.CorruptBlock("tablespace record CRC mismatch")
	}
	spaceID := binary.BigEndian.Uint32(buf[0:4])
	name := string(buf[4 : 4+tsNameSize])
	if i := indexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return TablespaceRecord{SpaceID: spaceID, Name: name}, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func encodeCheckpointRecord(buf []byte, rec CheckpointRecord) {
	buf[0] = tagFileCheckpoint
	binary.BigEndian.PutUint64(buf[1:], uint64(rec.LSN))

	packed := rec.DataFileOffset & ((1 << 47) - 1)
	if rec.SequenceBit {
		packed |= 1 << 47
	}
	// 6 bytes, big-endian, holding a 48-bit field.
	var packedBytes [8]byte
	binary.BigEndian.PutUint64(packedBytes[:], packed)
	copy(buf[9:15], packedBytes[2:8])

	binary.BigEndian.PutUint32(buf[15:], crc32.Checksum(buf[:15], crc32cTable))
}

func decodeCheckpointRecord(buf []byte) (CheckpointRecord, error) {
	if buf[0] != tagFileCheckpoint {
		return CheckpointRecord{}, fmt.Errorf("redo: bad checkpoint record tag %#x", buf[0])
	}
	want := binary.BigEndian.Uint32(buf[15:19])
	got := crc32.Checksum(buf[:15], crc32cTable)
	if want != got {
		return CheckpointRecord{}, fmt.Errorf("redo: checkpoint record CRC mismatch")
	}

	lsn := LSN(binary.BigEndian.Uint64(buf[1:9]))
	var packedBytes [8]byte
	copy(packedBytes[2:8], buf[9:15])
	packed := binary.BigEndian.Uint64(packedBytes[:])

	return CheckpointRecord{
		LSN:            lsn,
		SequenceBit:    packed&(1<<47) != 0,
		DataFileOffset: packed & ((1 << 47) - 1),
	}, nil
}
