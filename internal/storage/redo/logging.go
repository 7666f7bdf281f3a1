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
	"github.com/firefly-research/redolog/internal/errors"
	"github.com/firefly-research/redolog/internal/logging"
)

var logger = logging.NewLogger("redo")

// logCapacityWarning emits the rate-limited capacity-exceeded line
// required when a single mini-transaction's margin can never be
// satisfied by checkpointing.
func logCapacityWarning(margin, capacity uint64) {
	logger.Warn("mini-transaction margin exceeds log capacity", "margin", margin, "capacity", capacity)
}

// fatal logs a structured fatal line and terminates the process. Every
// I/O failure inside the commit or flush path reaches here: the engine
// is the last line of durability and does not retry.
func fatal(op string, err error) {
	logger.Error("fatal redo log failure", "op", op, "error", errors.Format(err))
	panic(err)
}
