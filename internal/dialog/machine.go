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

package dialog

import (
	"fmt"
	"strings"
)

// Thresholds holds the tunable dialogue constants.
type Thresholds struct {
	// Confidence below which a voice answer is routed to clarification.
	Confidence float64
	// Salary is the minimum eligible monthly salary in rupees.
	Salary int
	// MaxClarifications caps re-asks of the same question.
	MaxClarifications int
}

// DefaultThresholds returns the production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{Confidence: 0.7, Salary: 25000, MaxClarifications: 2}
}

// Result is the outcome of one state machine step.
type Result struct {
	// Response is the text to speak; empty means stay silent.
	Response string
	// NewState is the dialogue state after the step.
	NewState State
	// ShouldEnd signals the call is over once the response finishes playing.
	ShouldEnd bool
}

// Machine is the deterministic turn-taking engine. It is pure and
// synchronous: every step maps (state, input) to (next state, response) with
// no I/O and executes in microseconds. One Machine drives exactly one call.
type Machine struct {
	ctx *CallContext
	th  Thresholds

	digitBuffer strings.Builder
}

// NewMachine wraps a call context with the given thresholds.
func NewMachine(ctx *CallContext, th Thresholds) *Machine {
	return &Machine{ctx: ctx, th: th}
}

// Context exposes the call context for transcript appends and handoff.
func (m *Machine) Context() *CallContext { return m.ctx }

// Greeting emits the fixed opening line and advances past the greeting
// state. There is no user input for this step.
func (m *Machine) Greeting() Result {
	m.ctx.CurrentState = StateAskEmployment
	return Result{Response: promptGreeting, NewState: StateAskEmployment}
}

// HandleInput processes one final transcript. The returned error is reserved
// for programming-invariant violations (an unknown state); validator
// ambiguity never errors, it routes through clarification.
func (m *Machine) HandleInput(text string, confidence float64) (Result, error) {
	m.ctx.TurnCount++

	if m.ctx.CurrentState.Terminal() {
		// Safety net: input after the verdict just closes the call.
		m.ctx.CurrentState = StateEnded
		return Result{NewState: StateEnded, ShouldEnd: true}, nil
	}

	// Low-confidence answers are re-asked rather than trusted, except in
	// DTMF fallback where the keypad is the recovery path already.
	if confidence < m.th.Confidence && m.ctx.CurrentState != StateDTMFFallback {
		return m.clarify(m.questionState()), nil
	}

	state := m.questionState()
	switch state {
	case StateAskEmployment:
		return m.handleEmployment(text), nil
	case StateAskSalary:
		return m.handleSalary(text), nil
	case StateAskLocation:
		return m.handleLocation(text), nil
	default:
		m.ctx.CurrentState = StateEnded
		return Result{NewState: StateEnded, ShouldEnd: true},
			fmt.Errorf("no handler for state %q", state)
	}
}

// questionState resolves the question currently being answered: detour
// states answer the question they detoured from.
func (m *Machine) questionState() State {
	if m.ctx.CurrentState == StateClarification || m.ctx.CurrentState == StateDTMFFallback {
		return m.ctx.PreviousState
	}
	return m.ctx.CurrentState
}

func (m *Machine) handleEmployment(text string) Result {
	salaried := ClassifyEmployment(text)
	if salaried == nil {
		return m.clarify(StateAskEmployment)
	}

	m.ctx.Eligibility.IsSalaried = salaried
	if !*salaried {
		return m.reject(ReasonEmployment, promptRejectEmployment)
	}
	return m.advance(StateAskSalary, promptAskSalary)
}

func (m *Machine) handleSalary(text string) Result {
	salary := ParseSalary(text)
	if salary == nil {
		return m.clarify(StateAskSalary)
	}

	m.ctx.Eligibility.Salary = salary
	if *salary < m.th.Salary {
		return m.reject(ReasonSalary, promptRejectSalary)
	}
	return m.advance(StateAskLocation, promptAskLocation)
}

func (m *Machine) handleLocation(text string) Result {
	city := MatchCity(text)
	if city == "" {
		return m.clarify(StateAskLocation)
	}

	m.ctx.Eligibility.Location = city
	if !IsEligibleCity(city) {
		return m.reject(ReasonLocation, promptRejectLocation)
	}

	m.ctx.CurrentState = StateEligible
	m.ctx.Verdict = StateEligible
	return Result{Response: promptEligible, NewState: StateEligible, ShouldEnd: true}
}

// clarify routes an ambiguous or low-confidence answer. Within the cap the
// question is re-asked; past it, employment and salary fall back to the
// keypad while the free-text city question rejects outright.
func (m *Machine) clarify(question State) Result {
	m.ctx.ClarificationAttempts++

	if m.ctx.ClarificationAttempts <= m.th.MaxClarifications {
		m.ctx.PreviousState = question
		m.ctx.CurrentState = StateClarification
		return Result{Response: clarifyPrompts[question], NewState: StateClarification}
	}

	if question == StateAskLocation {
		return m.reject(ReasonLocationUnclear, promptRejectUnclear)
	}

	m.ctx.PreviousState = question
	m.ctx.CurrentState = StateDTMFFallback
	m.digitBuffer.Reset()
	return Result{Response: dtmfPrompts[question], NewState: StateDTMFFallback}
}

func (m *Machine) advance(next State, prompt string) Result {
	m.ctx.ClarificationAttempts = 0
	m.ctx.PreviousState = m.ctx.CurrentState
	m.ctx.CurrentState = next
	return Result{Response: prompt, NewState: next}
}

func (m *Machine) reject(reason, prompt string) Result {
	if m.ctx.RejectionReason == "" {
		m.ctx.RejectionReason = reason
	}
	m.ctx.CurrentState = StateRejection
	m.ctx.Verdict = StateRejection
	return Result{Response: prompt, NewState: StateRejection, ShouldEnd: true}
}

// HandleDigit processes one keypad press. Multi-digit fields accumulate
// until '#'; the session flushes a stalled buffer via FlushDigits. A Result
// with an empty response and unchanged state means the digit was buffered.
func (m *Machine) HandleDigit(digit byte) (Result, error) {
	if m.ctx.CurrentState.Terminal() {
		m.ctx.CurrentState = StateEnded
		return Result{NewState: StateEnded, ShouldEnd: true}, nil
	}
	if m.ctx.CurrentState != StateDTMFFallback {
		// Stray key presses outside fallback are ignored.
		return Result{NewState: m.ctx.CurrentState}, nil
	}

	switch m.ctx.PreviousState {
	case StateAskEmployment:
		return m.handleEmploymentDigit(digit), nil
	case StateAskSalary:
		return m.handleSalaryDigit(digit), nil
	default:
		return Result{NewState: m.ctx.CurrentState}, nil
	}
}

func (m *Machine) handleEmploymentDigit(digit byte) Result {
	m.ctx.TurnCount++
	switch digit {
	case '1':
		m.ctx.Eligibility.IsSalaried = boolPtr(true)
		m.ctx.ClarificationAttempts = 0
		// Stay on the keypad for the next question.
		m.ctx.PreviousState = StateAskSalary
		m.digitBuffer.Reset()
		return Result{Response: dtmfPrompts[StateAskSalary], NewState: StateDTMFFallback}
	case '2':
		m.ctx.Eligibility.IsSalaried = boolPtr(false)
		return m.reject(ReasonEmployment, promptRejectEmployment)
	default:
		return Result{Response: dtmfRetryPrompts[StateAskEmployment], NewState: StateDTMFFallback}
	}
}

func (m *Machine) handleSalaryDigit(digit byte) Result {
	if digit != '#' {
		if digit >= '0' && digit <= '9' {
			m.digitBuffer.WriteByte(digit)
		}
		return Result{NewState: StateDTMFFallback}
	}
	return m.flushSalaryBuffer()
}

// FlushDigits treats a stalled digit buffer as if '#' had been pressed.
// It is a no-op outside a salary entry with buffered digits.
func (m *Machine) FlushDigits() (Result, bool) {
	if m.ctx.CurrentState != StateDTMFFallback ||
		m.ctx.PreviousState != StateAskSalary ||
		m.digitBuffer.Len() == 0 {
		return Result{NewState: m.ctx.CurrentState}, false
	}
	return m.flushSalaryBuffer(), true
}

// HasPendingDigits reports whether a partial multi-digit entry is buffered,
// so the session knows when to arm the inactivity flush timer.
func (m *Machine) HasPendingDigits() bool { return m.digitBuffer.Len() > 0 }

func (m *Machine) flushSalaryBuffer() Result {
	m.ctx.TurnCount++
	digits := m.digitBuffer.String()
	m.digitBuffer.Reset()

	salary := ParseDTMFSalary(digits)
	if salary == nil {
		return Result{Response: dtmfRetryPrompts[StateAskSalary], NewState: StateDTMFFallback}
	}

	m.ctx.Eligibility.Salary = salary
	if *salary < m.th.Salary {
		return m.reject(ReasonSalary, promptRejectSalary)
	}

	// Salary cleared; the city question has no keypad form, back to voice.
	m.ctx.ClarificationAttempts = 0
	m.ctx.PreviousState = StateDTMFFallback
	m.ctx.CurrentState = StateAskLocation
	return Result{Response: promptAskLocation, NewState: StateAskLocation}
}
