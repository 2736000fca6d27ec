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

// Package speech defines the streaming recognition and synthesis contracts
// the call session depends on, plus the concrete websocket clients for the
// hosted back ends. The session never sees vendor payloads, only the event
// types below.
package speech

import (
	"context"
	"time"
)

// RecognitionKind tags an event from the streaming recognizer.
type RecognitionKind int

const (
	// RecognitionInterim is a partial hypothesis that may still change.
	RecognitionInterim RecognitionKind = iota
	// RecognitionFinal is a completed utterance.
	RecognitionFinal
	// RecognitionError reports an unrecoverable channel failure. The
	// recognizer has already exhausted its reconnect budget.
	RecognitionError
	// RecognitionClosed signals a deliberate disconnect. No events follow.
	RecognitionClosed
)

// RecognitionEvent is the sum type delivered on a recognizer's result stream.
type RecognitionEvent struct {
	Kind       RecognitionKind
	Transcript string
	Confidence float64
	Err        error
}

// Recognizer is a persistent per-call streaming speech-to-text channel.
// Implementations own their connection lifecycle, including reconnection;
// a reconnect recreates only the low-level connection, never dialogue state.
type Recognizer interface {
	Connect(ctx context.Context) error
	SendAudio(chunk []byte) error
	Results() <-chan RecognitionEvent
	Disconnect() error
}

// Synthesis is one in-flight text-to-speech utterance. Chunks arrive in
// order on Chunks; the channel is closed when the utterance completes or is
// canceled. Err reports a terminal failure after Chunks closes.
type Synthesis struct {
	chunks chan []byte
	cancel context.CancelFunc

	requestedAt time.Time
	firstByteAt time.Time
	err         error
	done        chan struct{}
}

// Chunks returns the ordered stream of synthesized audio (wire format).
func (s *Synthesis) Chunks() <-chan []byte { return s.chunks }

// Cancel discards any chunks not yet emitted and closes the stream.
func (s *Synthesis) Cancel() { s.cancel() }

// Err returns the terminal error, if any, once Chunks has closed.
func (s *Synthesis) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// FirstByteLatency reports request-to-first-audio-byte time, or zero if no
// audio arrived.
func (s *Synthesis) FirstByteLatency() time.Duration {
	if s.firstByteAt.IsZero() {
		return 0
	}
	return s.firstByteAt.Sub(s.requestedAt)
}

// Synthesizer starts per-utterance streaming synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// newSynthesis is used by implementations (and test fakes via the exported
// constructor below).
func newSynthesis(cancel context.CancelFunc) *Synthesis {
	return &Synthesis{
		chunks:      make(chan []byte, 64),
		cancel:      cancel,
		requestedAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// NewScriptedSynthesis builds a Synthesis pre-loaded with the given chunks.
// It exists for test doubles; production synthesizers stream instead.
func NewScriptedSynthesis(chunks [][]byte, firstByte time.Duration) *Synthesis {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSynthesis(cancel)
	if len(chunks) > 0 {
		s.firstByteAt = s.requestedAt.Add(firstByte)
	}
	go func() {
		defer s.finish(nil)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case s.chunks <- c:
			}
		}
	}()
	return s
}

// NewPacedSynthesis is like NewScriptedSynthesis but spaces chunks by gap,
// keeping the synthesis in flight long enough to exercise cancellation.
func NewPacedSynthesis(chunks [][]byte, firstByte, gap time.Duration) *Synthesis {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSynthesis(cancel)
	if len(chunks) > 0 {
		s.firstByteAt = s.requestedAt.Add(firstByte)
	}
	go func() {
		defer s.finish(nil)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
			select {
			case <-ctx.Done():
				return
			case s.chunks <- c:
			}
		}
	}()
	return s
}

func (s *Synthesis) finish(err error) {
	s.err = err
	close(s.chunks)
	close(s.done)
}
