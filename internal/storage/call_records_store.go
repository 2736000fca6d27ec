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

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/dialog"
	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/logging"
)

// CallRecordsStore handles database operations for completed call records.
type CallRecordsStore struct {
	db *Database
}

// NewCallRecordsStore creates a store over an open database.
func NewCallRecordsStore(db *Database) *CallRecordsStore {
	return &CallRecordsStore{db: db}
}

// Insert stores one finalized call record.
func (s *CallRecordsStore) Insert(record *events.CallRecord) error {
	if err := record.IsValid(); err != nil {
		return fmt.Errorf("invalid call record: %w", err)
	}

	transcriptJSON, err := record.TranscriptJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO call_records (
			uuid, call_id, phone_number, started_at, ended_at,
			outcome, rejection_reason,
			is_salaried, salary, location,
			turn_count, barge_ins, transcript
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.DB().Exec(query,
		record.UUID, record.CallID, record.PhoneNumber, record.StartedAt, record.EndedAt,
		string(record.Outcome), record.RejectionReason,
		record.IsSalaried, record.Salary, record.Location,
		record.TurnCount, record.BargeIns, transcriptJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call record: %w", err)
	}

	logging.LogDatabaseOperation("insert", "call_records",
		zap.String("uuid", record.UUID),
		zap.String("call_id", record.CallID),
		zap.String("outcome", string(record.Outcome)))
	return nil
}

// GetByCallID retrieves the most recent record for a telephony call ID.
func (s *CallRecordsStore) GetByCallID(callID string) (*events.CallRecord, error) {
	query := selectColumns + ` WHERE call_id = ? ORDER BY started_at DESC LIMIT 1`
	record, err := scanRecord(s.db.DB().QueryRow(query, callID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("call record not found: %s", callID)
	}
	return record, err
}

// List returns the most recent records, newest first.
func (s *CallRecordsStore) List(limit int) ([]*events.CallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.DB().Query(selectColumns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call records: %w", err)
	}
	defer rows.Close()

	var records []*events.CallRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountByOutcome returns a verdict histogram for observability.
func (s *CallRecordsStore) CountByOutcome() (map[events.Outcome]int, error) {
	rows, err := s.db.DB().Query(`SELECT outcome, COUNT(*) FROM call_records GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count call records: %w", err)
	}
	defer rows.Close()

	counts := make(map[events.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[events.Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

const selectColumns = `
	SELECT uuid, call_id, phone_number, started_at, ended_at,
	       outcome, rejection_reason,
	       is_salaried, salary, location,
	       turn_count, barge_ins, transcript
	FROM call_records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*events.CallRecord, error) {
	var record events.CallRecord
	var outcome, transcriptJSON string
	var isSalaried sql.NullBool
	var salary sql.NullInt64

	err := row.Scan(
		&record.UUID, &record.CallID, &record.PhoneNumber, &record.StartedAt, &record.EndedAt,
		&outcome, &record.RejectionReason,
		&isSalaried, &salary, &record.Location,
		&record.TurnCount, &record.BargeIns, &transcriptJSON,
	)
	if err != nil {
		return nil, err
	}

	record.Outcome = events.Outcome(outcome)
	if isSalaried.Valid {
		v := isSalaried.Bool
		record.IsSalaried = &v
	}
	if salary.Valid {
		v := int(salary.Int64)
		record.Salary = &v
	}
	var turns []dialog.TranscriptTurn
	if err := json.Unmarshal([]byte(transcriptJSON), &turns); err != nil {
		return nil, fmt.Errorf("failed to parse stored transcript: %w", err)
	}
	record.Turns = turns
	return &record, nil
}
