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

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyRecorderNumbersTurns(t *testing.T) {
	r := NewLatencyRecorder()

	r.RecordTurn(TurnTimings{Recognition: 100 * time.Millisecond, Total: 300 * time.Millisecond})
	r.RecordTurn(TurnTimings{Recognition: 200 * time.Millisecond, Total: 500 * time.Millisecond})

	turns := r.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].Turn)
	assert.Equal(t, 2, turns[1].Turn)
	assert.Equal(t, 400*time.Millisecond, r.AverageTotal())
}

func TestLatencyRecorderBargeIns(t *testing.T) {
	r := NewLatencyRecorder()
	assert.Equal(t, 0, r.BargeIns())

	before := TotalBargeIns()
	r.RecordBargeIn()
	r.RecordBargeIn()
	assert.Equal(t, 2, r.BargeIns())
	assert.Equal(t, before+2, TotalBargeIns())
}

func TestCallGauge(t *testing.T) {
	active := ActiveCalls()
	completed := CallsCompleted()

	CallStarted()
	assert.Equal(t, active+1, ActiveCalls())

	CallEnded()
	assert.Equal(t, active, ActiveCalls())
	assert.Equal(t, completed+1, CallsCompleted())
}

func TestTurnsReturnsCopy(t *testing.T) {
	r := NewLatencyRecorder()
	r.RecordTurn(TurnTimings{Total: time.Second})

	turns := r.Turns()
	turns[0].Total = 0
	assert.Equal(t, time.Second, r.Turns()[0].Total)
}
