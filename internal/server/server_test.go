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

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prescreenlabs/prescreen-hub/internal/config"
	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Twilio: config.TwilioConfig{AuthToken: "secret", ValidateSignature: false},
		Dialog: config.DialogConfig{
			ConfidenceThreshold: 0.7,
			BargeInThreshold:    0.5,
			SalaryThreshold:     25000,
			MaxClarifications:   2,
			DTMFFlushTimeout:    5 * time.Second,
			HangupGraceDelay:    3 * time.Second,
		},
	}
}

func newTestServer(t *testing.T) (*Server, *storage.CallRecordsStore) {
	t.Helper()
	db, err := storage.NewDatabase(storage.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "server-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewCallRecordsStore(db)
	return New(testConfig(), store, nil), store
}

func TestVoiceWebhookReturnsMediaStreamTwiML(t *testing.T) {
	srv, _ := newTestServer(t)

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("From", "+919876543210")

	req := httptest.NewRequest(http.MethodPost, "https://hub.example.com/voice",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "hub.example.com"

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/xml", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, "<Connect>")
	assert.Contains(t, body, "wss://hub.example.com/media-stream")
	assert.Contains(t, body, "+919876543210")
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Twilio.ValidateSignature = true
	srv := New(cfg, nil, nil)

	form := url.Values{}
	form.Set("From", "+911111111111")

	req := httptest.NewRequest(http.MethodPost, "https://hub.example.com/voice",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "active_calls")
	assert.Contains(t, health, "calls_completed")
}

func TestListCallsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)

	salary := 40000
	salaried := true
	rec := &events.CallRecord{
		UUID:        uuid.NewString(),
		CallID:      "CA789",
		PhoneNumber: "+912222222222",
		StartedAt:   time.Now().Add(-time.Minute).UTC(),
		EndedAt:     time.Now().UTC(),
		Outcome:     events.OutcomeEligible,
		IsSalaried:  &salaried,
		Salary:      &salary,
		Location:    "delhi",
		TurnCount:   3,
	}
	require.NoError(t, store.Insert(rec))

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Calls []*events.CallRecord `json:"calls"`
		Count int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "CA789", resp.Calls[0].CallID)
	assert.Equal(t, events.OutcomeEligible, resp.Calls[0].Outcome)
}

func TestGetCallNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls/CAmissing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
