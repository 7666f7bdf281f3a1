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

func TestCreateMainLogFileWritesFirstCheckpoint(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	m, err := CreateMainLogFile(backend, 4096, 0)
	if err != nil {
		t.Fatalf("CreateMainLogFile: %v", err)
	}

	rec, err := m.ReadLatestCheckpoint()
	if err != nil {
		t.Fatalf("ReadLatestCheckpoint: %v", err)
	}
	if rec.LSN != FirstLSN {
		t.Errorf("initial checkpoint LSN = %d, want %d", rec.LSN, FirstLSN)
	}
	if rec.DataFileOffset != 0 {
		t.Errorf("initial checkpoint offset = %d, want 0", rec.DataFileOffset)
	}
}

func TestCreateMainLogFileRejectsUnalignedSize(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	if _, err := CreateMainLogFile(backend, 4097, 0); err == nil {
		t.Fatal("expected error creating a main file with a non-512-aligned data file size")
	}
}

func TestWriteCheckpointAlternatesSlots(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	m, err := CreateMainLogFile(backend, 4096, 0)
	if err != nil {
		t.Fatalf("CreateMainLogFile: %v", err)
	}

	if err := m.WriteCheckpoint(CheckpointRecord{LSN: 100, SequenceBit: true, DataFileOffset: 50, CheckpointNo: 2}); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	rec, err := m.ReadLatestCheckpoint()
	if err != nil {
		t.Fatalf("ReadLatestCheckpoint: %v", err)
	}
	if rec.LSN != 100 || rec.DataFileOffset != 50 || rec.CheckpointNo != 2 {
		t.Errorf("got %+v, want LSN=100 offset=50 no=2", rec)
	}

	if err := m.WriteCheckpoint(CheckpointRecord{LSN: 200, SequenceBit: false, DataFileOffset: 99, CheckpointNo: 3}); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	rec, err = m.ReadLatestCheckpoint()
	if err != nil {
		t.Fatalf("ReadLatestCheckpoint: %v", err)
	}
	if rec.LSN != 200 || rec.CheckpointNo != 3 {
		t.Errorf("got %+v, want the higher-numbered checkpoint (LSN=200 no=3)", rec)
	}
}

func TestOpenMainLogFileRoundTrip(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	if _, err := CreateMainLogFile(backend, 8192, 5); err != nil {
		t.Fatalf("CreateMainLogFile: %v", err)
	}

	m, err := OpenMainLogFile(backend)
	if err != nil {
		t.Fatalf("OpenMainLogFile: %v", err)
	}
	if m.DataFileSize() != 8192 {
		t.Errorf("DataFileSize = %d, want 8192", m.DataFileSize())
	}
}

func TestOpenMainLogFileRejectsBadFormat(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	if _, err := OpenMainLogFile(backend); err == nil {
		t.Fatal("expected error opening a zeroed (never-created) main file")
	}
}

func TestTablespaceRecordsEmptyBeforeAnyWrite(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	m, err := CreateMainLogFile(backend, 4096, 0)
	if err != nil {
		t.Fatalf("CreateMainLogFile: %v", err)
	}
	recs, err := m.ReadTablespaceRecords()
	if err != nil {
		t.Fatalf("ReadTablespaceRecords: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records, want 0 on a fresh file", len(recs))
	}
}

func TestWriteTablespaceRecordAddsAndUpdates(t *testing.T) {
	backend := newMemBackend(MainFileSize)
	m, err := CreateMainLogFile(backend, 4096, 0)
	if err != nil {
		t.Fatalf("CreateMainLogFile: %v", err)
	}

	if err := m.WriteTablespaceRecord(7, "orders"); err != nil {
		t.Fatalf("WriteTablespaceRecord: %v", err)
	}
	if err := m.WriteTablespaceRecord(9, "customers"); err != nil {
		t.Fatalf("WriteTablespaceRecord: %v", err)
	}

	recs, err := m.ReadTablespaceRecords()
	if err != nil {
		t.Fatalf("ReadTablespaceRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}

	if err := m.WriteTablespaceRecord(7, "orders_renamed"); err != nil {
		t.Fatalf("WriteTablespaceRecord (update): %v", err)
	}
	recs, err = m.ReadTablespaceRecords()
	if err != nil {
		t.Fatalf("ReadTablespaceRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("update grew the table: got %d records, want 2", len(recs))
	}
	found := false
	for _, r := range recs {
		if r.SpaceID == 7 {
			found = true
			if r.Name != "orders_renamed" {
				t.Errorf("SpaceID 7 name = %q, want %q", r.Name, "orders_renamed")
			}
		}
	}
	if !found {
		t.Error("SpaceID 7 missing after update")
	}
}
