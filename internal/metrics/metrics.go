/*
 * This file is part of PreScreen (https://github.com/prescreenlabs/prescreen).
 * Copyright (C) 2026 PreScreen Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package metrics tracks per-turn latency breakdowns and the small set of
// process-wide counters shared across calls.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TurnTimings is the latency breakdown of one caller-utterance/bot-response
// exchange.
type TurnTimings struct {
	Turn        int           `json:"turn"`
	Recognition time.Duration `json:"recognition"`
	Logic       time.Duration `json:"logic"`
	Synthesis   time.Duration `json:"synthesis_first_byte"`
	Total       time.Duration `json:"total"`
}

// LatencyRecorder accumulates turn timings for one call. The session writes
// from its event loop; readers (health endpoints, post-call handoff) may
// inspect concurrently.
type LatencyRecorder struct {
	mu       sync.RWMutex
	turns    []TurnTimings
	bargeIns int
}

// NewLatencyRecorder creates an empty recorder.
func NewLatencyRecorder() *LatencyRecorder {
	return &LatencyRecorder{}
}

// RecordTurn appends one turn's breakdown.
func (r *LatencyRecorder) RecordTurn(t TurnTimings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Turn = len(r.turns) + 1
	r.turns = append(r.turns, t)
}

// RecordBargeIn counts one caller interruption.
func (r *LatencyRecorder) RecordBargeIn() {
	r.mu.Lock()
	r.bargeIns++
	r.mu.Unlock()
	globalBargeIns.Add(1)
}

// Turns returns a copy of the recorded breakdowns.
func (r *LatencyRecorder) Turns() []TurnTimings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TurnTimings, len(r.turns))
	copy(out, r.turns)
	return out
}

// BargeIns returns the number of interruptions on this call.
func (r *LatencyRecorder) BargeIns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bargeIns
}

// AverageTotal returns the mean total turn latency, or zero with no turns.
func (r *LatencyRecorder) AverageTotal() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.turns) == 0 {
		return 0
	}
	var sum time.Duration
	for _, t := range r.turns {
		sum += t.Total
	}
	return sum / time.Duration(len(r.turns))
}

// Process-wide counters. Calls share nothing else.
var (
	activeCalls    atomic.Int64
	callsCompleted atomic.Int64
	globalBargeIns atomic.Int64
)

// CallStarted increments the active-call gauge.
func CallStarted() { activeCalls.Add(1) }

// CallEnded decrements the gauge and bumps the completion counter.
func CallEnded() {
	activeCalls.Add(-1)
	callsCompleted.Add(1)
}

// ActiveCalls returns the current number of live calls.
func ActiveCalls() int64 { return activeCalls.Load() }

// CallsCompleted returns the number of calls torn down since process start.
func CallsCompleted() int64 { return callsCompleted.Load() }

// TotalBargeIns returns the process-wide interruption count.
func TotalBargeIns() int64 { return globalBargeIns.Load() }
