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

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordMtrCommitUpdatesAverage(t *testing.T) {
	m := &Metrics{}
	m.RecordMtrCommit(10 * time.Millisecond)
	m.RecordMtrCommit(30 * time.Millisecond)

	avg := m.AverageMtrCommitLatency()
	if avg < 19_000 || avg > 21_000 {
		t.Errorf("AverageMtrCommitLatency = %.2f, want ~20000 microseconds", avg)
	}
	if m.MtrsCommitted.Load() != 2 {
		t.Errorf("MtrsCommitted = %d, want 2", m.MtrsCommitted.Load())
	}
}

func TestAverageMtrCommitLatencyZeroBeforeAnyCommit(t *testing.T) {
	m := &Metrics{}
	if avg := m.AverageMtrCommitLatency(); avg != 0 {
		t.Errorf("AverageMtrCommitLatency on a fresh Metrics = %.2f, want 0", avg)
	}
}

func TestRecordWriteWaveTracksPiggybacking(t *testing.T) {
	m := &Metrics{}
	m.RecordWriteWave(3)
	m.RecordWriteWave(0)

	if m.WriteWaves.Load() != 2 {
		t.Errorf("WriteWaves = %d, want 2", m.WriteWaves.Load())
	}
	if m.WriteWavesPiggybacked.Load() != 3 {
		t.Errorf("WriteWavesPiggybacked = %d, want 3", m.WriteWavesPiggybacked.Load())
	}
}

func TestRecordCheckpointSplitsByKind(t *testing.T) {
	m := &Metrics{}
	m.RecordCheckpoint(true)
	m.RecordCheckpoint(true)
	m.RecordCheckpoint(false)

	if m.CheckpointsSync.Load() != 2 {
		t.Errorf("CheckpointsSync = %d, want 2", m.CheckpointsSync.Load())
	}
	if m.CheckpointsAsync.Load() != 1 {
		t.Errorf("CheckpointsAsync = %d, want 1", m.CheckpointsAsync.Load())
	}
}

func TestRecordFlushIncrementsFsyncCount(t *testing.T) {
	m := &Metrics{}
	m.RecordFlush(1024)
	m.RecordFlush(2048)

	if m.BytesFlushed.Load() != 3072 {
		t.Errorf("BytesFlushed = %d, want 3072", m.BytesFlushed.Load())
	}
	if m.FsyncCount.Load() != 2 {
		t.Errorf("FsyncCount = %d, want 2", m.FsyncCount.Load())
	}
}

func TestGetReturnsSingletonAcrossCalls(t *testing.T) {
	a := Get()
	b := Get()
	if a != b {
		t.Fatal("Get() returned distinct instances, want the same singleton")
	}
}

func TestHandleMetricsExposesPrometheusFormat(t *testing.T) {
	globalMetrics.CurrentLSN.Store(8192)
	globalMetrics.MtrsCommitted.Store(42)

	s := &Server{}
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	s.handleMetrics(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "redolog_current_lsn 8192") {
		t.Errorf("response missing redolog_current_lsn gauge, got:\n%s", body)
	}
	if !strings.Contains(body, "redolog_mtrs_committed_total 42") {
		t.Errorf("response missing redolog_mtrs_committed_total counter, got:\n%s", body)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain prefix", ct)
	}
}
