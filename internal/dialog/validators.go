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
	"regexp"
	"strconv"
	"strings"
)

// Validators are pure functions over recognized text. They never error;
// ambiguity is expressed as a nil result and handled by the clarification
// path.

// Salary sanity range. Anything outside is treated as a misrecognition.
const (
	minPlausibleSalary = 1_000
	maxPlausibleSalary = 10_000_000
)

var (
	yesPhrases = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true,
		"haan": true, "ha": true, "correct": true, "right": true,
	}
	noPhrases = map[string]bool{
		"no": true, "nope": true, "nah": true, "nahi": true,
	}

	yesKeywords = []string{"yes", "yeah", "salaried", "i am", "i do", "working", "job"}
	noKeywords  = []string{"no", "not", "unemployed", "self employed", "business", "freelance", "don't"}

	digitRun = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// ClassifyEmployment maps a caller answer to salaried/not-salaried, or nil
// when the answer is ambiguous. Exact yes/no phrases win; otherwise keyword
// sets are consulted, and a hit in both sets is ambiguous.
func ClassifyEmployment(text string) *bool {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	if yesPhrases[normalized] {
		return boolPtr(true)
	}
	if noPhrases[normalized] {
		return boolPtr(false)
	}

	hasYes := containsAny(normalized, yesKeywords)
	hasNo := containsAny(normalized, noKeywords)
	switch {
	case hasYes && !hasNo:
		return boolPtr(true)
	case hasNo && !hasYes:
		return boolPtr(false)
	default:
		return nil
	}
}

// ParseSalary extracts a monthly salary in rupees from free text. It accepts
// plain digits ("35000", "35,000"), "k" and "lakh" shorthand ("35k",
// "1.5 lakh"), and spelled-out numbers ("thirty five thousand"). Values
// outside the sanity range return nil.
func ParseSalary(text string) *int {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	if v, ok := parseNumericSalary(normalized); ok {
		return clampSalary(v)
	}
	if v, ok := parseWordSalary(normalized); ok {
		return clampSalary(v)
	}
	return nil
}

// ParseDTMFSalary parses a keypad-entered salary. Only digit characters are
// accepted; the same sanity range applies.
func ParseDTMFSalary(digits string) *int {
	if digits == "" {
		return nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil
		}
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return clampSalary(float64(v))
}

func parseNumericSalary(text string) (float64, bool) {
	match := digitRun.FindString(text)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}

	rest := text[strings.Index(text, match)+len(match):]
	rest = strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(rest, "k"):
		v *= 1_000
	case strings.HasPrefix(rest, "lakh") || strings.HasPrefix(rest, "lac"):
		v *= 100_000
	case strings.HasPrefix(rest, "thousand"):
		v *= 1_000
	}
	return v, true
}

var numberWords = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var scaleWords = map[string]float64{
	"hundred":  100,
	"thousand": 1_000,
	"lakh":     100_000,
	"lakhs":    100_000,
	"lac":      100_000,
}

// parseWordSalary handles spelled-out amounts like "thirty five thousand".
// Scale words multiply the accumulated group; unknown words are skipped so
// trailing fillers ("rupees", "per month") don't break parsing.
func parseWordSalary(text string) (float64, bool) {
	var total, group float64
	seen := false

	for _, word := range strings.Fields(text) {
		if v, ok := numberWords[word]; ok {
			group += v
			seen = true
			continue
		}
		if scale, ok := scaleWords[word]; ok {
			if group == 0 {
				group = 1
			}
			if scale == 100 {
				group *= scale
			} else {
				total += group * scale
				group = 0
			}
			seen = true
		}
	}
	if !seen {
		return 0, false
	}
	return total + group, true
}

func clampSalary(v float64) *int {
	if v < minPlausibleSalary || v > maxPlausibleSalary {
		return nil
	}
	n := int(v)
	return &n
}

// eligibleCities is the fixed metro service area, keyed by canonical name.
var eligibleCities = map[string]bool{
	"mumbai":    true,
	"delhi":     true,
	"bangalore": true,
	"hyderabad": true,
	"chennai":   true,
	"kolkata":   true,
	"pune":      true,
	"ahmedabad": true,
}

// cityAliases map common alternate names to canonical ones. Non-eligible
// cities are listed too so a recognized answer yields a clean rejection
// instead of a clarification loop.
var cityAliases = map[string]string{
	"bombay":    "mumbai",
	"bengaluru": "bangalore",
	"madras":    "chennai",
	"calcutta":  "kolkata",
	"new delhi": "delhi",
	"gurgaon":   "gurgaon",
	"gurugram":  "gurgaon",
	"noida":     "noida",
	"jaipur":    "jaipur",
	"lucknow":   "lucknow",
	"surat":     "surat",
	"indore":    "indore",
	"kochi":     "kochi",
	"nagpur":    "nagpur",
}

// MatchCity resolves free text to a canonical city name, or "" when nothing
// matches. Resolution order: exact substring over canonical names, then
// aliases, then bounded edit-distance fuzzy match over canonical names to
// tolerate misrecognition.
func MatchCity(text string) string {
	normalized := normalize(text)
	if normalized == "" {
		return ""
	}

	for city := range eligibleCities {
		if strings.Contains(normalized, city) {
			return city
		}
	}
	for alias, canonical := range cityAliases {
		if strings.Contains(normalized, alias) {
			return canonical
		}
	}

	for _, word := range strings.Fields(normalized) {
		if len(word) < 4 {
			continue
		}
		for city := range eligibleCities {
			if editDistance(word, city) <= 2 {
				return city
			}
		}
	}
	return ""
}

// IsEligibleCity reports whether a canonical city name is in the service area.
func IsEligibleCity(city string) bool {
	return eligibleCities[city]
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == ',', r == '.', r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func boolPtr(v bool) *bool { return &v }
