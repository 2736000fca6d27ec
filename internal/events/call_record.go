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

// Package events defines the finalized call record handed off when a
// screening call ends. It is the contract shared by storage, the NATS
// handoff, and the read API.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prescreenlabs/prescreen-hub/internal/dialog"
	"github.com/prescreenlabs/prescreen-hub/internal/metrics"
)

// Outcome is the terminal verdict of a call.
type Outcome string

const (
	OutcomeEligible  Outcome = "eligible"
	OutcomeRejected  Outcome = "rejected"
	OutcomeNoVerdict Outcome = "no_verdict"
)

// CallRecord is the frozen, read-only summary of one completed call. It is
// built exactly once at teardown and never mutated afterwards.
type CallRecord struct {
	UUID        string    `json:"uuid" db:"uuid"`
	CallID      string    `json:"call_id" db:"call_id"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	EndedAt     time.Time `json:"ended_at" db:"ended_at"`

	Outcome         Outcome `json:"outcome" db:"outcome"`
	RejectionReason string  `json:"rejection_reason,omitempty" db:"rejection_reason"`

	IsSalaried *bool  `json:"is_salaried,omitempty" db:"is_salaried"`
	Salary     *int   `json:"salary,omitempty" db:"salary"`
	Location   string `json:"location,omitempty" db:"location"`

	TurnCount int                     `json:"turn_count" db:"turn_count"`
	BargeIns  int                     `json:"barge_ins" db:"barge_ins"`
	Turns     []dialog.TranscriptTurn `json:"transcript" db:"transcript"`
	Latencies []metrics.TurnTimings   `json:"latencies,omitempty" db:"latencies"`
}

// NewCallRecord freezes a finished call context into a record.
func NewCallRecord(ctx *dialog.CallContext, startedAt time.Time, recorder *metrics.LatencyRecorder) *CallRecord {
	rec := &CallRecord{
		UUID:            uuid.NewString(),
		CallID:          ctx.CallID,
		PhoneNumber:     ctx.PhoneNumber,
		StartedAt:       startedAt,
		EndedAt:         time.Now(),
		Outcome:         outcomeFor(ctx),
		RejectionReason: ctx.RejectionReason,
		IsSalaried:      ctx.Eligibility.IsSalaried,
		Salary:          ctx.Eligibility.Salary,
		Location:        ctx.Eligibility.Location,
		TurnCount:       ctx.TurnCount,
		Turns:           append([]dialog.TranscriptTurn(nil), ctx.Transcript...),
	}
	if recorder != nil {
		rec.BargeIns = recorder.BargeIns()
		rec.Latencies = recorder.Turns()
	}
	return rec
}

// outcomeFor reads the latched verdict, not the final state: late input can
// move the state machine to ended without revoking an already-given verdict.
func outcomeFor(ctx *dialog.CallContext) Outcome {
	switch ctx.Verdict {
	case dialog.StateEligible:
		return OutcomeEligible
	case dialog.StateRejection:
		return OutcomeRejected
	default:
		return OutcomeNoVerdict
	}
}

// IsValid checks the structural invariants before persistence or publish.
func (r *CallRecord) IsValid() error {
	if r.UUID == "" {
		return fmt.Errorf("call record missing uuid")
	}
	if r.CallID == "" {
		return fmt.Errorf("call record missing call id")
	}
	if r.Outcome == OutcomeRejected && r.RejectionReason == "" {
		return fmt.Errorf("rejected call record missing reason")
	}
	if r.Outcome != OutcomeRejected && r.RejectionReason != "" {
		return fmt.Errorf("non-rejected call record carries reason %q", r.RejectionReason)
	}
	return nil
}

// ToJSON serializes the record for the message bus.
func (r *CallRecord) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes a record published on the bus.
func FromJSON(data []byte) (*CallRecord, error) {
	var rec CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse call record: %w", err)
	}
	return &rec, nil
}

// TranscriptJSON serializes just the turns, for the transcript column.
func (r *CallRecord) TranscriptJSON() (string, error) {
	data, err := json.Marshal(r.Turns)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transcript: %w", err)
	}
	return string(data), nil
}
