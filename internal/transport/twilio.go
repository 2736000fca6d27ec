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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/logging"
)

// Twilio Media Streams already speaks 8 kHz μ-law, so audio passes through
// this transport with zero conversions in both directions.

const outboundQueueSize = 256

// twilioMessage is the envelope for every Media Streams websocket frame.
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	DTMF      *twilioDTMF  `json:"dtmf,omitempty"`
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type twilioMedia struct {
	Payload string `json:"payload"` // base64 μ-law
}

type twilioDTMF struct {
	Digit string `json:"digit"`
}

// outboundFrame is either a media chunk or a clear marker for writePump.
type outboundFrame struct {
	chunk []byte
	clear bool
}

// TwilioTransport adapts a Twilio Media Streams websocket connection to the
// AudioTransport interface.
type TwilioTransport struct {
	conn   *websocket.Conn
	events chan Event

	outbound  chan outboundFrame
	streamSid string
	sidMu     sync.RWMutex

	closeOnce sync.Once
	stopCh    chan struct{}
}

// NewTwilioTransport wraps an upgraded Media Streams websocket. The reader
// and writer pumps start immediately; the EventStart event is emitted once
// Twilio sends its "start" frame.
func NewTwilioTransport(conn *websocket.Conn) *TwilioTransport {
	t := &TwilioTransport{
		conn:     conn,
		events:   make(chan Event, 64),
		outbound: make(chan outboundFrame, outboundQueueSize),
		stopCh:   make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// Events returns the inbound event stream.
func (t *TwilioTransport) Events() <-chan Event { return t.events }

// SendAudio queues one μ-law chunk for playback on the call. Chunks are
// dropped rather than blocking the hot path when the queue is full.
func (t *TwilioTransport) SendAudio(chunk []byte) error {
	select {
	case <-t.stopCh:
		return fmt.Errorf("transport closed")
	case t.outbound <- outboundFrame{chunk: chunk}:
		return nil
	default:
		logging.LogWarn("Outbound audio queue full, dropping chunk")
		return nil
	}
}

// ClearAudio drops queued outbound audio and tells Twilio to flush its own
// playback buffer.
func (t *TwilioTransport) ClearAudio() {
	for {
		select {
		case <-t.outbound:
		default:
			select {
			case <-t.stopCh:
			case t.outbound <- outboundFrame{clear: true}:
			default:
			}
			return
		}
	}
}

// Close terminates the websocket. Idempotent; EventClosed is delivered by
// the read pump when the connection drops.
func (t *TwilioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = t.conn.Close()
	})
	return nil
}

// deliver forwards one inbound event unless the transport is shutting down.
// A blocked send must stay interruptible: once the session stops consuming,
// only stopCh can release the pump.
func (t *TwilioTransport) deliver(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.stopCh:
		return false
	}
}

func (t *TwilioTransport) readPump() {
	defer func() {
		t.deliver(Event{Kind: EventClosed})
		close(t.events)
		_ = t.Close()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.stopCh:
			default:
				logging.LogWarn("Media stream read ended", zap.Error(err))
			}
			return
		}

		var msg twilioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.LogWarn("Dropping malformed media stream frame")
			continue
		}

		switch msg.Event {
		case "connected":
			// handshake frame, nothing to forward
		case "start":
			if msg.Start == nil {
				continue
			}
			t.sidMu.Lock()
			t.streamSid = msg.Start.StreamSid
			t.sidMu.Unlock()
			caller := msg.Start.CustomParameters["caller"]
			if !t.deliver(Event{Kind: EventStart, CallID: msg.Start.CallSid, Caller: caller}) {
				return
			}
		case "media":
			if msg.Media == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			if !t.deliver(Event{Kind: EventAudio, Audio: payload}) {
				return
			}
		case "dtmf":
			if msg.DTMF == nil || msg.DTMF.Digit == "" {
				continue
			}
			if !t.deliver(Event{Kind: EventDTMF, Digit: msg.DTMF.Digit[0]}) {
				return
			}
		case "stop":
			return
		}
	}
}

func (t *TwilioTransport) writePump() {
	for {
		select {
		case <-t.stopCh:
			return
		case frame := <-t.outbound:
			t.sidMu.RLock()
			sid := t.streamSid
			t.sidMu.RUnlock()
			if sid == "" {
				continue // frames before the start handshake have nowhere to go
			}

			var msg twilioMessage
			if frame.clear {
				msg = twilioMessage{Event: "clear", StreamSid: sid}
			} else {
				msg = twilioMessage{
					Event:     "media",
					StreamSid: sid,
					Media:     &twilioMedia{Payload: base64.StdEncoding.EncodeToString(frame.chunk)},
				}
			}
			if err := t.conn.WriteJSON(msg); err != nil {
				logging.LogWarn("Media stream write failed", zap.Error(err))
				return
			}
		}
	}
}
