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

// Package server exposes the telephony webhook, the media-stream websocket
// that carries live call audio, and the read-side API over stored call
// records.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/config"
	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/logging"
	"github.com/prescreenlabs/prescreen-hub/internal/messaging"
	"github.com/prescreenlabs/prescreen-hub/internal/metrics"
	"github.com/prescreenlabs/prescreen-hub/internal/security"
	"github.com/prescreenlabs/prescreen-hub/internal/session"
	"github.com/prescreenlabs/prescreen-hub/internal/speech"
	"github.com/prescreenlabs/prescreen-hub/internal/storage"
	"github.com/prescreenlabs/prescreen-hub/internal/transport"
)

// Server wires HTTP ingress to per-call sessions.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server

	store *storage.CallRecordsStore
	nats  *messaging.NATSService

	upgrader  websocket.Upgrader
	validator twilioclient.RequestValidator
}

// New builds the server. store and nats may be nil in tests; the call path
// still works, only persistence and handoff are skipped.
func New(cfg *config.Config, store *storage.CallRecordsStore, nats *messaging.NATSService) *Server {
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		store: store,
		nats:  nats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio's media stream client sends no Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validator: twilioclient.NewRequestValidator(cfg.Twilio.AuthToken),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /voice", s.handleVoice)
	s.mux.HandleFunc("GET /media-stream", s.handleMediaStream)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calls", s.handleListCalls)
	s.mux.HandleFunc("GET /api/calls/{callID}", s.handleGetCall)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	logging.Sugar.Infow("🚀 PreScreen hub listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully. In-flight calls get a short
// window to finish their teardown.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleVoice answers Twilio's inbound-call webhook with TwiML that opens a
// bidirectional media stream back to us.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	if s.cfg.Twilio.ValidateSignature && !s.validSignature(r) {
		logging.LogWarn("Rejected webhook with bad signature",
			zap.String("remote", r.RemoteAddr))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	caller := r.PostFormValue("From")
	streamURL := fmt.Sprintf("wss://%s/media-stream", r.Host)

	stream := &twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "caller", Value: caller},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		http.Error(w, "Failed to build response", http.StatusInternalServerError)
		return
	}

	logging.LogCallEvent(security.SanitizeLogInput(r.PostFormValue("CallSid")),
		"📲 Inbound call webhook",
		zap.String("caller", security.MaskPhoneNumber(caller)))

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(response))
}

func (s *Server) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	signature := r.Header.Get("X-Twilio-Signature")
	url := fmt.Sprintf("https://%s%s", r.Host, r.URL.Path)
	return s.validator.Validate(url, params, signature)
}

// handleMediaStream upgrades to the Media Streams websocket and runs one
// call session on the connection's goroutine until the call ends.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogWarn("Media stream upgrade failed", zap.Error(err))
		return
	}

	at := transport.NewTwilioTransport(conn)
	recognizer := speech.NewDeepgramRecognizer(speech.DeepgramConfig{
		URL:      s.cfg.STT.URL,
		APIKey:   s.cfg.STT.APIKey,
		Language: s.cfg.STT.Language,
		Model:    s.cfg.STT.Model,
	})
	synthesizer := speech.NewElevenLabsSynthesizer(speech.ElevenLabsConfig{
		URL:          s.cfg.TTS.URL,
		APIKey:       s.cfg.TTS.APIKey,
		VoiceID:      s.cfg.TTS.VoiceID,
		ModelID:      s.cfg.TTS.ModelID,
		OutputFormat: s.cfg.TTS.OutputFormat,
		Timeout:      s.cfg.TTS.Timeout,
	})

	sess := session.New(s.cfg.Dialog, at, recognizer, synthesizer, s.handleCallComplete)
	sess.Run()
}

// handleCallComplete persists and publishes the finalized record. Both
// sides are best-effort; a failure never reaches the call path.
func (s *Server) handleCallComplete(record *events.CallRecord) error {
	if s.store != nil {
		if err := s.store.Insert(record); err != nil {
			logging.LogError(err, "Failed to store call record",
				zap.String("call_id", record.CallID))
		}
	}
	if s.nats != nil {
		if err := s.nats.PublishCallCompleted(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_calls":    metrics.ActiveCalls(),
		"calls_completed": metrics.CallsCompleted(),
		"barge_ins":       metrics.TotalBargeIns(),
	}
	if s.nats != nil {
		health["nats_connected"] = s.nats.IsConnected()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.store.List(limit)
	if err != nil {
		logging.LogError(err, "Failed to list call records")
		http.Error(w, "Query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*events.CallRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"calls": records,
		"count": len(records),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "Storage not configured", http.StatusServiceUnavailable)
		return
	}

	record, err := s.store.GetByCallID(r.PathValue("callID"))
	if err != nil {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(record)
}
