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

// Package transport abstracts the bidirectional audio channel to the
// caller-facing edge. The orchestrator depends only on AudioTransport and the
// Event stream, never on a concrete bridge, so the turn-taking logic is
// transport-agnostic. Audio crossing this boundary is always 8 kHz mono
// G.711 μ-law; transports with a different native format convert at the edge.
package transport

// EventKind tags an inbound transport event.
type EventKind int

const (
	// EventStart carries call metadata once the media stream is established.
	EventStart EventKind = iota
	// EventAudio carries one inbound caller audio chunk (μ-law, 8 kHz).
	EventAudio
	// EventDTMF carries one keypad digit ('0'-'9', '*', '#').
	EventDTMF
	// EventClosed signals the media stream has ended. No events follow.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventAudio:
		return "audio"
	case EventDTMF:
		return "dtmf"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is the sum type delivered on a transport's event channel.
// Exactly the fields implied by Kind are set.
type Event struct {
	Kind   EventKind
	CallID string // EventStart
	Caller string // EventStart: caller phone number
	Audio  []byte // EventAudio
	Digit  byte   // EventDTMF
}

// AudioTransport is the capability set the orchestrator needs from the
// caller-facing edge.
type AudioTransport interface {
	// Events returns the inbound event stream. The channel is closed after
	// EventClosed is delivered.
	Events() <-chan Event

	// SendAudio queues one outbound μ-law chunk for playback. It must not
	// block the caller; transports buffer internally.
	SendAudio(chunk []byte) error

	// ClearAudio drops all queued-but-unplayed outbound audio. Used for
	// barge-in, where the interruption has to feel instant.
	ClearAudio()

	// Close tears the channel down. Safe to call more than once.
	Close() error
}
