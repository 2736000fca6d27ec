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
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/logging"
)

// reconnectSchedule is the capped backoff applied when the recognizer
// connection drops mid-call. After the last attempt the channel gives up and
// reports RecognitionError.
var reconnectSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// DeepgramConfig holds the streaming recognizer connection settings.
type DeepgramConfig struct {
	URL      string
	APIKey   string
	Language string
	Model    string
}

// DeepgramRecognizer is a persistent per-call streaming STT channel over the
// Deepgram live websocket API, fed 8 kHz μ-law directly so no conversion
// happens on the hot path.
type DeepgramRecognizer struct {
	cfg DeepgramConfig

	results chan RecognitionEvent
	audioCh chan []byte
	stopCh  chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	stopOnce  sync.Once
}

// deepgramResult mirrors the subset of the live API response we consume.
type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewDeepgramRecognizer creates a recognizer; Connect must be called before
// audio is sent.
func NewDeepgramRecognizer(cfg DeepgramConfig) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		cfg:     cfg,
		results: make(chan RecognitionEvent, 64),
		audioCh: make(chan []byte, 256),
		stopCh:  make(chan struct{}),
	}
}

// Connect establishes the websocket and starts the read/write pumps.
func (r *DeepgramRecognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connected {
		return nil
	}
	if r.cfg.APIKey == "" {
		return fmt.Errorf("recognizer API key is empty")
	}

	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}

	r.conn = conn
	r.connected = true

	go r.readPump()
	go r.writePump()

	logging.LogSpeechOperation("stt", "connect", zap.String("model", r.cfg.Model))
	return nil
}

func (r *DeepgramRecognizer) dial(ctx context.Context) (*websocket.Conn, error) {
	params := url.Values{}
	params.Set("model", r.cfg.Model)
	params.Set("language", r.cfg.Language)
	params.Set("encoding", "mulaw")
	params.Set("sample_rate", "8000")
	params.Set("channels", "1")
	params.Set("interim_results", "true")
	params.Set("punctuate", "true")

	wsURL := fmt.Sprintf("%s?%s", r.cfg.URL, params.Encode())
	headers := map[string][]string{
		"Authorization": {"Token " + r.cfg.APIKey},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			logging.LogWarn("Recognizer dial rejected", zap.Int("status", resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to connect recognizer: %w", err)
	}
	return conn, nil
}

// Results returns the recognition event stream.
func (r *DeepgramRecognizer) Results() <-chan RecognitionEvent { return r.results }

// SendAudio queues one wire-format chunk. The hot path never blocks; when
// the buffer is full the chunk is dropped.
func (r *DeepgramRecognizer) SendAudio(chunk []byte) error {
	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()
	if !connected {
		return fmt.Errorf("recognizer not connected")
	}
	select {
	case r.audioCh <- chunk:
	default:
		logging.LogWarn("Recognizer audio buffer full, dropping chunk")
	}
	return nil
}

// Disconnect closes the channel deliberately; no reconnection is attempted.
// The read pump observes the stop signal, emits RecognitionClosed and closes
// the results stream on its way out.
func (r *DeepgramRecognizer) Disconnect() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.WriteJSON(map[string]string{"type": "CloseStream"})
			_ = r.conn.Close()
		}
		r.connected = false
		r.mu.Unlock()
		logging.LogSpeechOperation("stt", "disconnect")
	})
	return nil
}

func (r *DeepgramRecognizer) readPump() {
	// The read pump is the only goroutine that sends on results, so it
	// alone may close the channel.
	defer func() {
		r.emit(RecognitionEvent{Kind: RecognitionClosed})
		close(r.results)
	}()

	for {
		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.stopCh:
				return
			default:
			}
			if !r.reconnect() {
				return
			}
			continue
		}
		r.processMessage(data)
	}
}

func (r *DeepgramRecognizer) processMessage(data []byte) {
	var msg deepgramResult
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.LogWarn("Dropping malformed recognizer message")
		return
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	kind := RecognitionInterim
	if msg.IsFinal {
		kind = RecognitionFinal
	}
	r.emit(RecognitionEvent{Kind: kind, Transcript: alt.Transcript, Confidence: alt.Confidence})
}

// reconnect re-dials with capped exponential backoff. Only the low-level
// connection is recreated; no dialogue state is replayed. Returns false when
// the budget is exhausted or the channel was deliberately closed.
func (r *DeepgramRecognizer) reconnect() bool {
	for attempt, wait := range reconnectSchedule {
		select {
		case <-r.stopCh:
			return false
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := r.dial(ctx)
		cancel()
		if err != nil {
			logging.LogWarn("Recognizer reconnect failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		logging.LogSpeechOperation("stt", "reconnect", zap.Int("attempt", attempt+1))
		return true
	}

	r.emit(RecognitionEvent{Kind: RecognitionError, Err: fmt.Errorf("recognizer reconnect budget exhausted")})
	return false
}

func (r *DeepgramRecognizer) writePump() {
	for {
		select {
		case <-r.stopCh:
			return
		case chunk := <-r.audioCh:
			r.mu.RLock()
			conn := r.conn
			r.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				// the read pump owns reconnection; just drop this chunk
				logging.LogWarn("Recognizer audio write failed", zap.Error(err))
			}
		}
	}
}

func (r *DeepgramRecognizer) emit(ev RecognitionEvent) {
	select {
	case <-r.stopCh:
		if ev.Kind != RecognitionClosed {
			return
		}
	default:
	}
	select {
	case r.results <- ev:
	default:
		logging.LogWarn("Recognition event buffer full, dropping event")
	}
}
