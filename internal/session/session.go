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

// Package session coordinates one phone call end to end: it wires the audio
// transport, the streaming recognizer, the synthesizer and the dialogue
// machine together, enforces turn ordering and barge-in, measures per-turn
// latency, and hands the finalized record off when the call ends.
//
// All dialogue state is mutated from a single event loop per call. The
// collaborators run their own goroutines but only ever post events into the
// loop, so no ordering bug can double-fire the business logic.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/config"
	"github.com/prescreenlabs/prescreen-hub/internal/dialog"
	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/logging"
	"github.com/prescreenlabs/prescreen-hub/internal/metrics"
	"github.com/prescreenlabs/prescreen-hub/internal/security"
	"github.com/prescreenlabs/prescreen-hub/internal/speech"
	"github.com/prescreenlabs/prescreen-hub/internal/transport"
)

// CompletionFunc receives the frozen call record at teardown. It is invoked
// on its own goroutine and is strictly best-effort: errors are logged, never
// fed back into the call path.
type CompletionFunc func(*events.CallRecord) error

// Session orchestrates one call. Create with New, start with Run, tear down
// with Destroy (idempotent).
type Session struct {
	cfg         config.DialogConfig
	transport   transport.AudioTransport
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	onComplete  CompletionFunc

	recorder *metrics.LatencyRecorder

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// Everything below is owned by the event loop.
	machine      *dialog.Machine
	started      bool
	startedAt    time.Time
	speaking     bool
	barged       bool
	currentSynth *speech.Synthesis
	synthDone    chan *speech.Synthesis
	pendingFinal []speech.RecognitionEvent
	ending       bool

	turnStart time.Time
	finalAt   time.Time
	logicTime time.Duration
	turnOpen  bool

	dtmfTimer *time.Timer
	graceCh   <-chan time.Time

	// Snapshot of dialogue progress for observers outside the loop.
	snapMu   sync.RWMutex
	snapshot Snapshot
}

// Snapshot is a point-in-time view of a call's dialogue progress, safe to
// read from any goroutine.
type Snapshot struct {
	CallID      string
	State       dialog.State
	Eligibility dialog.Eligibility
	TurnCount   int
}

// New wires a session over an established transport. The recognizer is
// connected lazily, once the transport reports stream start.
func New(cfg config.DialogConfig, at transport.AudioTransport, rec speech.Recognizer, syn speech.Synthesizer, onComplete CompletionFunc) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:         cfg,
		transport:   at,
		recognizer:  rec,
		synthesizer: syn,
		onComplete:  onComplete,
		recorder:    metrics.NewLatencyRecorder(),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		synthDone:   make(chan *speech.Synthesis, 4),
		dtmfTimer:   time.NewTimer(time.Hour),
	}
	if !s.dtmfTimer.Stop() {
		<-s.dtmfTimer.C
	}
	return s
}

// Recorder exposes the latency recorder for observability endpoints.
func (s *Session) Recorder() *metrics.LatencyRecorder { return s.recorder }

// State returns the current dialogue snapshot.
func (s *Session) State() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// updateSnapshot is called from the loop after every machine step.
func (s *Session) updateSnapshot() {
	ctx := s.machine.Context()
	s.snapMu.Lock()
	s.snapshot = Snapshot{
		CallID:      ctx.CallID,
		State:       ctx.CurrentState,
		Eligibility: ctx.Eligibility,
		TurnCount:   ctx.TurnCount,
	}
	s.snapMu.Unlock()
}

// Run drives the event loop until the call ends. It blocks; callers run it
// on the connection's goroutine.
func (s *Session) Run() {
	defer s.teardown()

	transportEvents := s.transport.Events()
	results := s.recognizer.Results()

	for {
		select {
		case <-s.stopCh:
			return

		case ev, ok := <-transportEvents:
			if !ok {
				return
			}
			if ev.Kind == transport.EventClosed {
				return
			}
			s.handleTransportEvent(ev)

		case rev, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			s.handleRecognition(rev)

		case synth := <-s.synthDone:
			s.handleSynthDone(synth)

		case <-s.dtmfTimer.C:
			s.handleDTMFFlush()

		case <-s.graceCh:
			return
		}
	}
}

// Destroy tears the session down. Safe to call repeatedly and from any
// goroutine; it returns once teardown has completed.
func (s *Session) Destroy() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}

func (s *Session) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventStart:
		s.handleStart(ev)

	case transport.EventAudio:
		if !s.started {
			return
		}
		if !s.turnOpen && !s.speaking {
			s.turnStart = time.Now()
			s.turnOpen = true
		}
		// Hot path: straight into the recognizer, no buffering.
		if err := s.recognizer.SendAudio(ev.Audio); err != nil {
			logging.LogWarn("Failed to forward caller audio", zap.Error(err))
		}

	case transport.EventDTMF:
		s.handleDigit(ev.Digit)
	}
}

func (s *Session) handleStart(ev transport.Event) {
	if s.started {
		return
	}
	s.started = true
	s.startedAt = time.Now()
	metrics.CallStarted()

	ctx := dialog.NewCallContext(ev.CallID, ev.Caller)
	s.machine = dialog.NewMachine(ctx, dialog.Thresholds{
		Confidence:        s.cfg.ConfidenceThreshold,
		Salary:            s.cfg.SalaryThreshold,
		MaxClarifications: s.cfg.MaxClarifications,
	})

	logging.LogCallEvent(security.SanitizeLogInput(ev.CallID), "📞 Call started",
		zap.String("caller", security.MaskPhoneNumber(ev.Caller)))

	connectCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	err := s.recognizer.Connect(connectCtx)
	cancel()
	if err != nil {
		logging.LogError(err, "Failed to open recognition channel", zap.String("call_id", ev.CallID))
		s.endCall()
		return
	}

	// The greeting bypasses the normal turn flow; there is no user input yet.
	res := s.machine.Greeting()
	s.updateSnapshot()
	s.machine.Context().AppendBotTurn(res.Response)
	s.speak(res.Response)
}

func (s *Session) handleDigit(digit byte) {
	if s.machine == nil {
		return
	}

	pressedIn := s.machine.Context().CurrentState
	res, err := s.machine.HandleDigit(digit)
	s.updateSnapshot()
	if err != nil {
		s.failCall(err)
		return
	}

	// The inactivity timer covers partial multi-digit entries only.
	if !s.dtmfTimer.Stop() {
		select {
		case <-s.dtmfTimer.C:
		default:
		}
	}
	if s.machine.HasPendingDigits() {
		s.dtmfTimer.Reset(s.cfg.DTMFFlushTimeout)
	}

	s.recordKeypadTurn(res, fmt.Sprintf("keypad %c", digit), pressedIn)
	s.applyResult(res)
}

func (s *Session) handleDTMFFlush() {
	if s.machine == nil {
		return
	}
	pressedIn := s.machine.Context().CurrentState
	res, flushed := s.machine.FlushDigits()
	s.updateSnapshot()
	if !flushed {
		return
	}
	logging.LogCallEvent(s.machine.Context().CallID, "⏱️ Flushing stalled keypad entry")
	s.recordKeypadTurn(res, "keypad timeout", pressedIn)
	s.applyResult(res)
}

// recordKeypadTurn transcribes a keypad input that completed an action,
// against the state it was entered in. Buffered digits awaiting '#' leave no
// transcript entry; the transcript records decisions, not keystrokes.
func (s *Session) recordKeypadTurn(res dialog.Result, text string, pressedIn dialog.State) {
	if res.Response == "" && !res.ShouldEnd {
		return
	}
	s.machine.Context().AppendUserTurnInState(text, 1.0, pressedIn)
}

func (s *Session) handleRecognition(rev speech.RecognitionEvent) {
	switch rev.Kind {
	case speech.RecognitionInterim:
		s.maybeBargeIn(rev)

	case speech.RecognitionFinal:
		if s.speaking {
			// CallContext mutation is strictly sequential; a final that
			// lands mid-response waits for the synthesis to settle.
			s.pendingFinal = append(s.pendingFinal, rev)
			return
		}
		s.processFinal(rev)

	case speech.RecognitionError:
		logging.LogError(rev.Err, "Recognition channel failed",
			zap.String("call_id", s.callID()))
		s.failCall(rev.Err)

	case speech.RecognitionClosed:
		// Deliberate disconnect during teardown; nothing to do.
	}
}

// maybeBargeIn cancels playback when the caller talks over the bot. At most
// one cancellation fires per interim burst.
func (s *Session) maybeBargeIn(rev speech.RecognitionEvent) {
	if !s.speaking || s.barged || rev.Confidence <= s.cfg.BargeInThreshold {
		return
	}

	s.barged = true
	s.speaking = false
	if s.currentSynth != nil {
		s.currentSynth.Cancel()
	}
	s.transport.ClearAudio()
	s.recorder.RecordBargeIn()

	logging.LogCallEvent(s.callID(), "✋ Barge-in, canceling playback",
		zap.Float64("confidence", rev.Confidence))
}

func (s *Session) processFinal(rev speech.RecognitionEvent) {
	if s.machine == nil {
		return
	}
	s.finalAt = time.Now()
	if !s.turnOpen {
		s.turnStart = s.finalAt
		s.turnOpen = true
	}
	s.barged = false

	s.machine.Context().AppendUserTurn(rev.Transcript, rev.Confidence)

	logicStart := time.Now()
	res, err := s.machine.HandleInput(rev.Transcript, rev.Confidence)
	s.logicTime = time.Since(logicStart)
	s.updateSnapshot()
	if err != nil {
		s.failCall(err)
		return
	}

	logging.LogTurn(s.callID(), s.machine.Context().TurnCount,
		zap.String("transcript", security.SanitizeLogInput(rev.Transcript)),
		zap.Float64("confidence", rev.Confidence),
		zap.String("state", res.NewState.String()))

	s.applyResult(res)
}

// applyResult speaks a step's response and handles end-of-call.
func (s *Session) applyResult(res dialog.Result) {
	if res.ShouldEnd {
		s.ending = true
	}

	if res.Response != "" {
		s.machine.Context().AppendBotTurn(res.Response)
		s.speak(res.Response)
		return
	}

	// Nothing to say: close the turn now.
	s.recordTurn(nil)
	if s.ending {
		s.scheduleHangup()
	}
}

// speak starts streaming synthesis and pumps its audio to the transport. A
// synthesis failure degrades the call to silence rather than crashing it.
func (s *Session) speak(text string) {
	synth, err := s.synthesizer.Synthesize(s.ctx, text)
	if err != nil {
		logging.LogError(err, "Synthesis failed, continuing silent",
			zap.String("call_id", s.callID()))
		s.recordTurn(nil)
		if s.ending {
			s.scheduleHangup()
		}
		return
	}

	s.currentSynth = synth
	s.speaking = true

	go func() {
		for chunk := range synth.Chunks() {
			if err := s.transport.SendAudio(chunk); err != nil {
				break
			}
		}
		select {
		case s.synthDone <- synth:
		case <-s.stopCh:
		}
	}()
}

// handleSynthDone closes out a spoken response.
func (s *Session) handleSynthDone(synth *speech.Synthesis) {
	if synth != s.currentSynth {
		return // canceled synthesis settling late
	}
	s.currentSynth = nil
	s.speaking = false

	if err := synth.Err(); err != nil {
		logging.LogWarn("Synthesis stream ended abnormally",
			zap.String("call_id", s.callID()), zap.Error(err))
	}
	s.recordTurn(synth)

	if s.ending {
		s.scheduleHangup()
		return
	}

	if len(s.pendingFinal) > 0 {
		next := s.pendingFinal[0]
		s.pendingFinal = s.pendingFinal[1:]
		s.processFinal(next)
	}
}

// recordTurn emits the four-part latency breakdown and closes the turn.
func (s *Session) recordTurn(synth *speech.Synthesis) {
	if !s.turnOpen {
		return
	}
	s.turnOpen = false

	timings := metrics.TurnTimings{
		Logic: s.logicTime,
		Total: time.Since(s.turnStart),
	}
	if !s.finalAt.IsZero() && s.finalAt.After(s.turnStart) {
		timings.Recognition = s.finalAt.Sub(s.turnStart)
	}
	if synth != nil {
		timings.Synthesis = synth.FirstByteLatency()
	}
	s.recorder.RecordTurn(timings)

	s.turnStart = time.Time{}
	s.finalAt = time.Time{}
	s.logicTime = 0
}

// scheduleHangup delays teardown so the last utterance finishes playing.
func (s *Session) scheduleHangup() {
	if s.graceCh == nil {
		s.graceCh = time.After(s.cfg.HangupGraceDelay)
	}
}

// failCall handles an unrecoverable per-call failure: apologize if the audio
// path still works, then end.
func (s *Session) failCall(cause error) {
	logging.LogError(cause, "Unrecoverable call failure, ending call",
		zap.String("call_id", s.callID()))
	s.endCall()
}

func (s *Session) endCall() {
	s.ending = true

	// Interrupt whatever is playing so the apology is heard.
	if s.speaking {
		if s.currentSynth != nil {
			s.currentSynth.Cancel()
			s.currentSynth = nil
		}
		s.transport.ClearAudio()
		s.speaking = false
	}

	if s.machine != nil {
		s.speak(dialog.ApologyPrompt())
	}
	if !s.speaking {
		s.scheduleHangup()
	}
}

func (s *Session) callID() string {
	if s.machine == nil {
		return ""
	}
	return s.machine.Context().CallID
}

// teardown runs exactly once when the loop exits: release collaborators,
// update gauges, and hand the frozen record off.
func (s *Session) teardown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.cancel()
	s.dtmfTimer.Stop()

	if s.currentSynth != nil {
		s.currentSynth.Cancel()
	}
	if err := s.recognizer.Disconnect(); err != nil {
		logging.LogWarn("Recognizer disconnect failed", zap.Error(err))
	}
	if err := s.transport.Close(); err != nil {
		logging.LogWarn("Transport close failed", zap.Error(err))
	}

	if s.started {
		metrics.CallEnded()
		record := events.NewCallRecord(s.machine.Context(), s.startedAt, s.recorder)
		logging.LogCallEvent(record.CallID, "📴 Call ended",
			zap.String("outcome", string(record.Outcome)),
			zap.Int("turns", record.TurnCount),
			zap.Int("barge_ins", record.BargeIns))

		if s.onComplete != nil {
			go func() {
				if err := s.onComplete(record); err != nil {
					logging.LogError(err, "Post-call handoff failed",
						zap.String("call_id", record.CallID))
				}
			}()
		}
	}

	close(s.done)
}
