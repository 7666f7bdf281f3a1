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

import "sync"

// AcquireResult is the outcome of GroupCommitLock.Acquire.
type AcquireResult int

const (
	// Acquired means the caller became the sole writer for this wave and
	// must eventually call SetPending then Release.
	Acquired AcquireResult = iota
	// WaitingCovered means another wave already delivered (or is about
	// to deliver) an LSN at least as high as requested; the caller
	// blocked until that happened (or didn't need to block at all) and
	// can treat its target as satisfied without doing any I/O itself.
	WaitingCovered
)

// waiter is a single blocked caller, woken once the committed value
// reaches its target.
type waiter struct {
	target LSN
	done   chan struct{}
}

// GroupCommitLock serialises one "wave" (write or flush) of the redo
// pipeline. At most one goroutine is ever the active writer; everyone
// else either piggy-backs on the in-progress wave (if their target is
// already pending) or queues until the writer publishes a value that
// covers them. This is what lets many independent commits collapse into
// one disk write/fsync instead of one each.
type GroupCommitLock struct {
	mu       sync.Mutex
	value    LSN // last value Release'd: the committed point
	pending  LSN // value the current writer announced via SetPending; 0 if no writer active
	hasWriter bool
	waiters  []*waiter
}

// NewGroupCommitLock returns a lock with committed value 0 (nothing
// written yet).
func NewGroupCommitLock() *GroupCommitLock {
	return &GroupCommitLock{}
}

// Acquire attempts to become the writer responsible for delivering lsn.
// If the lock is already covered (committed or pending value ≥ lsn) it
// blocks until that wave completes and returns WaitingCovered without
// the caller doing any work. Otherwise, if no writer is currently
// active, it returns Acquired immediately; if a writer is active but its
// pending value doesn't yet cover lsn, the caller queues and blocks
// until a wave covers it, then returns WaitingCovered.
func (l *GroupCommitLock) Acquire(lsn LSN) AcquireResult {
	l.mu.Lock()

	if l.value >= lsn {
		l.mu.Unlock()
		return WaitingCovered
	}
	if l.hasWriter && l.pending >= lsn {
		done := make(chan struct{})
		l.waiters = append(l.waiters, &waiter{target: lsn, done: done})
		l.mu.Unlock()
		<-done
		return WaitingCovered
	}
	if !l.hasWriter {
		l.hasWriter = true
		l.mu.Unlock()
		return Acquired
	}

	// A writer is active but hasn't announced a pending value covering
	// us yet; queue and wait for whichever wave eventually covers us.
	done := make(chan struct{})
	l.waiters = append(l.waiters, &waiter{target: lsn, done: done})
	l.mu.Unlock()
	<-done
	return WaitingCovered
}

// SetPending announces the LSN the current writer is about to deliver,
// letting late arrivals in Acquire piggy-back on this wave instead of
// starting their own.
func (l *GroupCommitLock) SetPending(lsn LSN) {
	l.mu.Lock()
	l.pending = lsn
	l.mu.Unlock()
}

// Release publishes that the writer delivered up to lsn, wakes every
// queued waiter whose target is now covered, and relinquishes the
// writer role.
func (l *GroupCommitLock) Release(lsn LSN) {
	l.mu.Lock()
	if lsn > l.value {
		l.value = lsn
	}
	l.hasWriter = false
	l.pending = NoLSN

	remaining := l.waiters[:0]
	var toWake []*waiter
	for _, w := range l.waiters {
		if w.target <= l.value {
			toWake = append(toWake, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	l.waiters = remaining
	l.mu.Unlock()

	for _, w := range toWake {
		close(w.done)
	}
}

// Value returns the committed LSN.
func (l *GroupCommitLock) Value() LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}
