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
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/prescreenlabs/prescreen-hub/internal/audio"
)

// LocalRate is the native PCM sample rate of the local test client.
const LocalRate = 16000

// LocalTransport is an in-process transport used by the local test client
// and by integration tests. Its native format is 16 kHz PCM16LE, so inbound
// audio is downsampled and companded to wire format, and outbound wire audio
// is expanded and upsampled before playback.
type LocalTransport struct {
	events   chan Event
	playback chan []byte

	closeOnce sync.Once
	stopCh    chan struct{}
	closedMu  sync.Mutex
	closed    bool
}

// NewLocalTransport constructs a local transport. Start must be called to
// emit the EventStart metadata before audio is fed.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{
		events:   make(chan Event, 64),
		playback: make(chan []byte, outboundQueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start emits the stream-start metadata. Empty identifiers are filled in
// with generated values.
func (t *LocalTransport) Start(callID, caller string) {
	if callID == "" {
		callID = uuid.NewString()
	}
	if caller == "" {
		caller = "local"
	}
	t.deliver(Event{Kind: EventStart, CallID: callID, Caller: caller})
}

// FeedPCM16k pushes caller audio in the local native format (16 kHz
// PCM16LE). It is converted to wire format before delivery.
func (t *LocalTransport) FeedPCM16k(pcm []byte) {
	wire := audio.EncodeMuLawPCM16(audio.Downsample(pcm, LocalRate, audio.TelephonyRate))
	t.deliver(Event{Kind: EventAudio, Audio: wire})
}

// PressDigit simulates a keypad press.
func (t *LocalTransport) PressDigit(digit byte) {
	t.deliver(Event{Kind: EventDTMF, Digit: digit})
}

// Playback returns decoded outbound audio in the local native format.
func (t *LocalTransport) Playback() <-chan []byte { return t.playback }

// Events returns the inbound event stream.
func (t *LocalTransport) Events() <-chan Event { return t.events }

// SendAudio converts one wire chunk back to the native format and queues it
// for playback.
func (t *LocalTransport) SendAudio(chunk []byte) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("transport closed")
	default:
	}
	pcm := audio.Upsample(audio.DecodeMuLawPCM16(chunk), audio.TelephonyRate, LocalRate)
	select {
	case t.playback <- pcm:
	default:
		// playback consumer is behind; drop rather than stall the call
	}
	return nil
}

// ClearAudio drops all queued-but-unplayed outbound audio.
func (t *LocalTransport) ClearAudio() {
	for {
		select {
		case <-t.playback:
		default:
			return
		}
	}
}

// Close ends the stream and delivers EventClosed. Idempotent.
func (t *LocalTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		t.closedMu.Lock()
		t.closed = true
		// The consumer may already be gone; a full buffer must not wedge
		// teardown. The channel close below still signals the end.
		select {
		case t.events <- Event{Kind: EventClosed}:
		default:
		}
		close(t.events)
		t.closedMu.Unlock()
	})
	return nil
}

func (t *LocalTransport) deliver(ev Event) {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		// event buffer full; callers feeding faster than the session drains
	}
}
