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

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prescreenlabs/prescreen-hub/internal/dialog"
)

func TestRejectedVerdictSurvivesKeypadDuringGoodbye(t *testing.T) {
	ctx := dialog.NewCallContext("call-1", "+911234567890")
	m := dialog.NewMachine(ctx, dialog.DefaultThresholds())
	m.Greeting()

	res, err := m.HandleInput("no", 0.95)
	require.NoError(t, err)
	require.Equal(t, dialog.StateRejection, res.NewState)

	// A stray key press while the goodbye plays trips the terminal safety
	// net and ends the call.
	res, err = m.HandleDigit('5')
	require.NoError(t, err)
	require.Equal(t, dialog.StateEnded, res.NewState)

	rec := NewCallRecord(ctx, time.Now(), nil)
	assert.Equal(t, OutcomeRejected, rec.Outcome)
	assert.Equal(t, dialog.ReasonEmployment, rec.RejectionReason)
	assert.NoError(t, rec.IsValid())
}

func TestEligibleVerdictSurvivesFinalDuringGoodbye(t *testing.T) {
	ctx := dialog.NewCallContext("call-2", "+911234567890")
	m := dialog.NewMachine(ctx, dialog.DefaultThresholds())
	m.Greeting()

	for _, answer := range []string{"yes", "thirty five thousand", "mumbai"} {
		_, err := m.HandleInput(answer, 0.95)
		require.NoError(t, err)
	}
	require.Equal(t, dialog.StateEligible, ctx.CurrentState)

	res, err := m.HandleInput("hello are you there", 0.95)
	require.NoError(t, err)
	require.Equal(t, dialog.StateEnded, res.NewState)

	rec := NewCallRecord(ctx, time.Now(), nil)
	assert.Equal(t, OutcomeEligible, rec.Outcome)
	assert.Empty(t, rec.RejectionReason)
	assert.NoError(t, rec.IsValid())
}

func TestNoVerdictWhenCallDropsMidScreening(t *testing.T) {
	ctx := dialog.NewCallContext("call-3", "+911234567890")
	m := dialog.NewMachine(ctx, dialog.DefaultThresholds())
	m.Greeting()

	_, err := m.HandleInput("yes", 0.95)
	require.NoError(t, err)

	rec := NewCallRecord(ctx, time.Now(), nil)
	assert.Equal(t, OutcomeNoVerdict, rec.Outcome)
	assert.NoError(t, rec.IsValid())
}
