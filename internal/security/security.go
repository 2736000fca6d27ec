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

package security

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInvalidCallID is returned when a call identifier fails validation.
	ErrInvalidCallID = errors.New("invalid call ID")

	// Telephony call SIDs and locally generated UUIDs share this shape.
	callIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// SanitizeLogInput removes newline characters to prevent log injection.
// Use it on all caller-controlled data (transcripts, SIDs) before logging.
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateCallID ensures a call identifier contains only safe characters
// before it is used in log lines or database keys.
func ValidateCallID(callID string) error {
	if callID == "" {
		return ErrInvalidCallID
	}
	if strings.Contains(callID, "/") || strings.Contains(callID, "\\") || strings.Contains(callID, "..") {
		return ErrInvalidCallID
	}
	if !callIDPattern.MatchString(callID) {
		return ErrInvalidCallID
	}
	return nil
}

// MaskPhoneNumber hides the middle of a phone number for log output,
// keeping the prefix and the last two digits.
func MaskPhoneNumber(phone string) string {
	if len(phone) <= 5 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}
