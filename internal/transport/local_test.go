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

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCloseSignalsConsumer(t *testing.T) {
	tr := NewLocalTransport()
	tr.Start("call-1", "")

	ev := <-tr.Events()
	require.Equal(t, EventStart, ev.Kind)

	require.NoError(t, tr.Close())

	ev, ok := <-tr.Events()
	assert.True(t, ok)
	assert.Equal(t, EventClosed, ev.Kind)

	_, ok = <-tr.Events()
	assert.False(t, ok)
}

func TestLocalCloseDoesNotBlockWithFullBuffer(t *testing.T) {
	tr := NewLocalTransport()

	// Overfill the event buffer with no consumer attached.
	for i := 0; i < 100; i++ {
		tr.PressDigit('1')
	}

	done := make(chan struct{})
	go func() {
		_ = tr.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a full event buffer")
	}

	assert.NotPanics(t, func() { tr.PressDigit('2') })
}
