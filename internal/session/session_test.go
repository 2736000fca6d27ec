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

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prescreenlabs/prescreen-hub/internal/config"
	"github.com/prescreenlabs/prescreen-hub/internal/dialog"
	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/speech"
	"github.com/prescreenlabs/prescreen-hub/internal/transport"
)

func testDialogConfig() config.DialogConfig {
	return config.DialogConfig{
		ConfidenceThreshold: 0.7,
		BargeInThreshold:    0.5,
		SalaryThreshold:     25000,
		MaxClarifications:   2,
		DTMFFlushTimeout:    80 * time.Millisecond,
		HangupGraceDelay:    30 * time.Millisecond,
	}
}

// fakeRecognizer lets the test script interim and final transcripts.
type fakeRecognizer struct {
	results chan speech.RecognitionEvent

	mu        sync.Mutex
	connected bool
	chunks    int

	closeOnce sync.Once
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan speech.RecognitionEvent, 32)}
}

func (f *fakeRecognizer) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) SendAudio(chunk []byte) error {
	f.mu.Lock()
	f.chunks++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Results() <-chan speech.RecognitionEvent { return f.results }

func (f *fakeRecognizer) Disconnect() error {
	f.closeOnce.Do(func() {
		f.results <- speech.RecognitionEvent{Kind: speech.RecognitionClosed}
		close(f.results)
	})
	return nil
}

func (f *fakeRecognizer) interim(text string, conf float64) {
	f.results <- speech.RecognitionEvent{Kind: speech.RecognitionInterim, Transcript: text, Confidence: conf}
}

func (f *fakeRecognizer) final(text string, conf float64) {
	f.results <- speech.RecognitionEvent{Kind: speech.RecognitionFinal, Transcript: text, Confidence: conf}
}

// fakeSynthesizer returns scripted audio for every utterance.
type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
	gap   time.Duration
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (*speech.Synthesis, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	chunks := [][]byte{make([]byte, 160), make([]byte, 160), make([]byte, 160)}
	if f.gap > 0 {
		return speech.NewPacedSynthesis(chunks, time.Millisecond, f.gap), nil
	}
	return speech.NewScriptedSynthesis(chunks, time.Millisecond), nil
}

func (f *fakeSynthesizer) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type harness struct {
	lt   *transport.LocalTransport
	rec  *fakeRecognizer
	syn  *fakeSynthesizer
	sess *Session

	recordCh chan *events.CallRecord
}

func newHarness(t *testing.T, cfg config.DialogConfig, gap time.Duration) *harness {
	t.Helper()
	h := &harness{
		lt:       transport.NewLocalTransport(),
		rec:      newFakeRecognizer(),
		syn:      &fakeSynthesizer{gap: gap},
		recordCh: make(chan *events.CallRecord, 1),
	}
	h.sess = New(cfg, h.lt, h.rec, h.syn, func(rec *events.CallRecord) error {
		h.recordCh <- rec
		return nil
	})
	go h.sess.Run()

	// Drain playback so outbound audio never backs up.
	go func() {
		for range h.lt.Playback() {
		}
	}()
	return h
}

func (h *harness) waitRecord(t *testing.T) *events.CallRecord {
	t.Helper()
	select {
	case rec := <-h.recordCh:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for call record")
		return nil
	}
}

func (h *harness) waitState(t *testing.T, want dialog.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.sess.State().State == want
	}, 2*time.Second, 5*time.Millisecond, "never reached state %s", want)
}

func TestEligibleCallEndToEnd(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-1", "+919876543210")
	h.waitState(t, dialog.StateAskEmployment)

	// Finals may land while a response is playing; they must queue, not race.
	h.rec.final("yes", 0.95)
	h.rec.final("thirty five thousand rupees", 0.95)
	h.rec.final("Mumbai", 0.95)

	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeEligible, rec.Outcome)
	assert.Equal(t, "call-1", rec.CallID)
	assert.Equal(t, "+919876543210", rec.PhoneNumber)
	require.NotNil(t, rec.Salary)
	assert.Equal(t, 35000, *rec.Salary)
	assert.Equal(t, "mumbai", rec.Location)
	assert.Equal(t, 3, rec.TurnCount)
	assert.NoError(t, rec.IsValid())

	// Greeting plus one response per question.
	assert.Len(t, h.syn.spoken(), 4)
}

func TestRejectionOnEmployment(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-2", "+911111111111")
	h.waitState(t, dialog.StateAskEmployment)
	h.rec.final("no", 0.95)

	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeRejected, rec.Outcome)
	assert.Equal(t, dialog.ReasonEmployment, rec.RejectionReason)
	assert.NoError(t, rec.IsValid())
}

func TestBargeInCancelsPlaybackOnce(t *testing.T) {
	// Slow synthesis keeps the bot audibly speaking while interims arrive.
	h := newHarness(t, testDialogConfig(), 40*time.Millisecond)

	h.lt.Start("call-3", "+912222222222")
	h.waitState(t, dialog.StateAskEmployment)

	require.Eventually(t, func() bool {
		return len(h.syn.spoken()) == 1
	}, time.Second, 5*time.Millisecond)

	// A burst of confident interims while the greeting is playing.
	h.rec.interim("I", 0.9)
	h.rec.interim("I am", 0.9)
	h.rec.interim("I am salaried", 0.9)

	require.Eventually(t, func() bool {
		return h.sess.Recorder().BargeIns() == 1
	}, time.Second, 5*time.Millisecond)

	// The burst resolves to a final; dialogue continues normally.
	h.rec.final("yes I am salaried", 0.9)
	h.waitState(t, dialog.StateAskSalary)
	assert.Equal(t, 1, h.sess.Recorder().BargeIns())
}

func TestLowConfidenceInterimDoesNotBargeIn(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 40*time.Millisecond)

	h.lt.Start("call-4", "+913333333333")
	h.waitState(t, dialog.StateAskEmployment)

	h.rec.interim("uh", 0.3)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, h.sess.Recorder().BargeIns())
}

func TestDTMFFallbackFlow(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-5", "+914444444444")
	h.waitState(t, dialog.StateAskEmployment)

	for i := 0; i < 3; i++ {
		h.rec.final("hmm", 0.95)
	}
	h.waitState(t, dialog.StateDTMFFallback)

	h.lt.PressDigit('1')
	for _, d := range []byte{'3', '5', '0', '0', '0', '#'} {
		h.lt.PressDigit(d)
	}
	h.waitState(t, dialog.StateAskLocation)

	snap := h.sess.State()
	require.NotNil(t, snap.Eligibility.Salary)
	assert.Equal(t, 35000, *snap.Eligibility.Salary)

	h.rec.final("Pune", 0.95)
	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeEligible, rec.Outcome)
	assert.Equal(t, "pune", rec.Location)
}

func TestDTMFInactivityFlush(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-6", "+915555555555")
	h.waitState(t, dialog.StateAskEmployment)

	for i := 0; i < 3; i++ {
		h.rec.final("hmm", 0.95)
	}
	h.waitState(t, dialog.StateDTMFFallback)

	h.lt.PressDigit('1')
	for _, d := range []byte{'4', '0', '0', '0', '0'} {
		h.lt.PressDigit(d)
	}

	// No '#': the inactivity timer must flush the buffer.
	h.waitState(t, dialog.StateAskLocation)
	snap := h.sess.State()
	require.NotNil(t, snap.Eligibility.Salary)
	assert.Equal(t, 40000, *snap.Eligibility.Salary)
}

func TestLateKeypadDuringGoodbyeKeepsVerdict(t *testing.T) {
	// Slow synthesis keeps the goodbye audibly playing when the key lands.
	h := newHarness(t, testDialogConfig(), 40*time.Millisecond)

	h.lt.Start("call-11", "+911010101010")
	h.waitState(t, dialog.StateAskEmployment)
	h.rec.final("no", 0.95)
	h.waitState(t, dialog.StateRejection)

	// A stray key press during the goodbye must not erase the verdict.
	h.lt.PressDigit('5')

	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeRejected, rec.Outcome)
	assert.Equal(t, dialog.ReasonEmployment, rec.RejectionReason)
	assert.NoError(t, rec.IsValid())
}

func TestKeypadTurnsRecordPressState(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-12", "+912020202020")
	h.waitState(t, dialog.StateAskEmployment)

	for i := 0; i < 3; i++ {
		h.rec.final("hmm", 0.95)
	}
	h.waitState(t, dialog.StateDTMFFallback)

	h.lt.PressDigit('2')
	rec := h.waitRecord(t)
	require.Equal(t, events.OutcomeRejected, rec.Outcome)

	var keypad *dialog.TranscriptTurn
	for i := range rec.Turns {
		if rec.Turns[i].Text == "keypad 2" {
			keypad = &rec.Turns[i]
		}
	}
	require.NotNil(t, keypad, "keypad press missing from transcript")
	assert.Equal(t, dialog.StateDTMFFallback.String(), keypad.StateName)
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-7", "+916666666666")
	h.waitState(t, dialog.StateAskEmployment)

	h.sess.Destroy()
	assert.NotPanics(t, func() { h.sess.Destroy() })

	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeNoVerdict, rec.Outcome)
	assert.NoError(t, rec.IsValid())
}

func TestTransportCloseEndsCall(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-8", "+917777777777")
	h.waitState(t, dialog.StateAskEmployment)

	require.NoError(t, h.lt.Close())
	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeNoVerdict, rec.Outcome)
}

func TestRecognizerFailureEndsCallWithApology(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-9", "+918888888888")
	h.waitState(t, dialog.StateAskEmployment)

	h.rec.results <- speech.RecognitionEvent{
		Kind: speech.RecognitionError,
		Err:  assert.AnError,
	}

	rec := h.waitRecord(t)
	assert.Equal(t, events.OutcomeNoVerdict, rec.Outcome)

	spoken := h.syn.spoken()
	require.NotEmpty(t, spoken)
	assert.Equal(t, dialog.ApologyPrompt(), spoken[len(spoken)-1])
}

func TestAudioForwardedToRecognizer(t *testing.T) {
	h := newHarness(t, testDialogConfig(), 0)

	h.lt.Start("call-10", "+919999999999")
	h.waitState(t, dialog.StateAskEmployment)

	pcm := make([]byte, 640) // 20ms at 16kHz PCM16
	for i := 0; i < 5; i++ {
		h.lt.FeedPCM16k(pcm)
	}

	require.Eventually(t, func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return h.rec.chunks == 5
	}, time.Second, 5*time.Millisecond)
}
