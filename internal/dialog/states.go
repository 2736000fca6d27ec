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

// Package dialog holds the deterministic turn-taking engine for an
// eligibility screening call: the dialogue states, the per-call context they
// mutate, and the pure validators that interpret caller answers. Nothing in
// this package performs I/O; the session layer drives it one input at a time.
package dialog

import "time"

// State is one of the closed set of dialogue states a call can be in.
type State int

const (
	// StateGreeting is the initial state; it auto-transitions to
	// StateAskEmployment as soon as the greeting is emitted.
	StateGreeting State = iota
	StateAskEmployment
	StateAskSalary
	StateAskLocation
	// StateClarification is a detour used to re-ask the question in
	// PreviousState after an ambiguous or low-confidence answer.
	StateClarification
	// StateDTMFFallback accepts keypad input after repeated failed voice
	// answers. Voice input is still accepted and re-dispatched.
	StateDTMFFallback
	StateEligible
	StateRejection
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateAskEmployment:
		return "ask_employment"
	case StateAskSalary:
		return "ask_salary"
	case StateAskLocation:
		return "ask_location"
	case StateClarification:
		return "clarification"
	case StateDTMFFallback:
		return "dtmf_fallback"
	case StateEligible:
		return "eligible_confirmation"
	case StateRejection:
		return "rejection"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further dialogue happens in this state.
func (s State) Terminal() bool {
	return s == StateEligible || s == StateRejection || s == StateEnded
}

// Rejection reasons, recorded at most once per call.
const (
	ReasonEmployment      = "employment"
	ReasonSalary          = "salary"
	ReasonLocation        = "location"
	ReasonLocationUnclear = "location_unclear"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerBot  Speaker = "bot"
)

// TranscriptTurn is one append-only entry in the call transcript.
type TranscriptTurn struct {
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	State      State     `json:"-"`
	StateName  string    `json:"state"`
}

// Eligibility tracks the three screening criteria. Pointer fields are nil
// until the corresponding question has been answered.
type Eligibility struct {
	IsSalaried *bool  `json:"is_salaried,omitempty"`
	Salary     *int   `json:"salary,omitempty"`
	Location   string `json:"location,omitempty"`
}

// CallContext is the per-call dialogue record. It is owned by one session
// and mutated only through Machine transitions, so no locking is needed.
type CallContext struct {
	CallID      string
	PhoneNumber string

	CurrentState  State
	PreviousState State

	// Verdict latches StateEligible or StateRejection the moment the call
	// reaches one. Late input trips the terminal safety net and moves
	// CurrentState to StateEnded, but the verdict already given stands.
	Verdict State

	Eligibility           Eligibility
	TurnCount             int
	ClarificationAttempts int
	RejectionReason       string

	Transcript []TranscriptTurn
}

// NewCallContext creates a context in the greeting state.
func NewCallContext(callID, phoneNumber string) *CallContext {
	return &CallContext{
		CallID:        callID,
		PhoneNumber:   phoneNumber,
		CurrentState:  StateGreeting,
		PreviousState: StateGreeting,
	}
}

// AppendUserTurn records a caller utterance. The transcript only ever grows.
func (c *CallContext) AppendUserTurn(text string, confidence float64) {
	c.AppendUserTurnInState(text, confidence, c.CurrentState)
}

// AppendUserTurnInState records a caller input against the state it was
// produced in, for inputs whose handling has already advanced the state.
func (c *CallContext) AppendUserTurnInState(text string, confidence float64, state State) {
	c.Transcript = append(c.Transcript, TranscriptTurn{
		Speaker:    SpeakerUser,
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now(),
		State:      state,
		StateName:  state.String(),
	})
}

// AppendBotTurn records a spoken response.
func (c *CallContext) AppendBotTurn(text string) {
	c.Transcript = append(c.Transcript, TranscriptTurn{
		Speaker:   SpeakerBot,
		Text:      text,
		Timestamp: time.Now(),
		State:     c.CurrentState,
		StateName: c.CurrentState.String(),
	})
}
