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

package speech

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMessageEmitsInterimAndFinal(t *testing.T) {
	r := NewDeepgramRecognizer(DeepgramConfig{APIKey: "key"})

	r.processMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"thirty","confidence":0.62}]}}`))
	r.processMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"thirty five thousand","confidence":0.91}]}}`))

	ev := <-r.Results()
	assert.Equal(t, RecognitionInterim, ev.Kind)
	assert.Equal(t, "thirty", ev.Transcript)

	ev = <-r.Results()
	assert.Equal(t, RecognitionFinal, ev.Kind)
	assert.Equal(t, "thirty five thousand", ev.Transcript)
	assert.InDelta(t, 0.91, ev.Confidence, 0.001)
}

func TestProcessMessageDropsEmptyAndNonResultFrames(t *testing.T) {
	r := NewDeepgramRecognizer(DeepgramConfig{APIKey: "key"})

	r.processMessage([]byte(`{"type":"Metadata"}`))
	r.processMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0.0}]}}`))
	r.processMessage([]byte(`not json`))

	select {
	case ev := <-r.Results():
		t.Fatalf("unexpected event emitted: %+v", ev)
	default:
	}
}

func TestDisconnectLeavesResultsToThePump(t *testing.T) {
	r := NewDeepgramRecognizer(DeepgramConfig{APIKey: "key"})

	r.processMessage([]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`))
	require.NoError(t, r.Disconnect())

	// Drain everything buffered; the channel itself must stay open because
	// only the read pump may close it.
	for {
		select {
		case _, ok := <-r.Results():
			if !ok {
				t.Fatal("results closed outside the read pump")
			}
			continue
		default:
		}
		break
	}

	select {
	case _, ok := <-r.Results():
		require.True(t, ok, "results closed outside the read pump")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectDuringEmitDoesNotPanic(t *testing.T) {
	r := NewDeepgramRecognizer(DeepgramConfig{APIKey: "key"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			r.emit(RecognitionEvent{Kind: RecognitionInterim, Transcript: "still talking", Confidence: 0.8})
		}
	}()

	require.NoError(t, r.Disconnect())
	assert.NotPanics(t, wg.Wait)
}
