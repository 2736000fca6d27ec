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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/logging"
)

// ElevenLabsConfig holds the streaming synthesizer connection settings.
type ElevenLabsConfig struct {
	URL          string
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration // hard cap on one utterance, end to end
}

// ElevenLabsSynthesizer opens one websocket per utterance against the
// stream-input endpoint and emits μ-law audio as it is generated, so playback
// can start before the full utterance is rendered.
type ElevenLabsSynthesizer struct {
	cfg ElevenLabsConfig
}

type elevenLabsFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
}

// NewElevenLabsSynthesizer creates a synthesizer for the given voice.
func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ElevenLabsSynthesizer{cfg: cfg}
}

// Synthesize starts streaming synthesis for one utterance. Returned audio is
// in wire format. Cancel on the returned Synthesis closes the websocket and
// discards anything not yet emitted.
func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	if e.cfg.APIKey == "" {
		return nil, fmt.Errorf("synthesizer API key is empty")
	}
	if text == "" {
		return nil, fmt.Errorf("cannot synthesize empty text")
	}

	wsURL := fmt.Sprintf("%s/%s/stream-input?model_id=%s&output_format=%s",
		e.cfg.URL, e.cfg.VoiceID, e.cfg.ModelID, e.cfg.OutputFormat)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, map[string][]string{
		"xi-api-key": {e.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			logging.LogWarn("Synthesizer dial rejected", zap.Int("status", resp.StatusCode))
		}
		return nil, fmt.Errorf("failed to connect synthesizer: %w", err)
	}

	utterCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	s := newSynthesis(cancel)

	// The stream-input protocol wants a settings frame, the text, then an
	// empty text frame to flush generation.
	handshake := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]float64{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, frame := range handshake {
		if err := conn.WriteJSON(frame); err != nil {
			_ = conn.Close()
			cancel()
			return nil, fmt.Errorf("failed to send synthesis request: %w", err)
		}
	}

	go func() {
		<-utterCtx.Done()
		_ = conn.Close()
	}()

	go e.receive(utterCtx, conn, s)

	logging.LogSpeechOperation("tts", "synthesize", zap.Int("text_length", len(text)))
	return s, nil
}

func (e *ElevenLabsSynthesizer) receive(ctx context.Context, conn *websocket.Conn, s *Synthesis) {
	defer conn.Close()

	var terminal error
	defer func() { s.finish(terminal) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch ctx.Err() {
			case context.Canceled:
				return // canceled, not a failure
			case context.DeadlineExceeded:
				terminal = fmt.Errorf("synthesis timed out")
			default:
				terminal = fmt.Errorf("synthesis stream ended: %w", err)
			}
			return
		}

		var frame elevenLabsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.LogWarn("Dropping malformed synthesis frame")
			continue
		}
		if frame.Error != "" {
			terminal = fmt.Errorf("synthesis failed: %s", frame.Error)
			return
		}

		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				logging.LogWarn("Dropping undecodable synthesis audio")
				continue
			}
			if s.firstByteAt.IsZero() {
				s.firstByteAt = time.Now()
			}
			select {
			case <-ctx.Done():
				return
			case s.chunks <- chunk:
			}
		}

		if frame.IsFinal {
			return
		}
	}
}
