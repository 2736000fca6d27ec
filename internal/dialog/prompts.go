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

// Everything the bot can say lives here so the voice script can be reviewed
// in one place.

const (
	promptGreeting = "Hello! Thank you for calling. I have three quick questions to check your eligibility. First, are you currently a salaried employee?"

	promptAskSalary   = "Great. What is your monthly salary in rupees?"
	promptAskLocation = "Thank you. And which city do you currently live in?"

	promptEligible = "Congratulations, you are eligible! Our team will reach out to you shortly with the next steps. Thank you for calling, goodbye!"

	promptRejectEmployment = "I'm sorry, this offer is only available to salaried employees at the moment. Thank you for your time, goodbye!"
	promptRejectSalary     = "I'm sorry, this offer requires a minimum monthly salary of twenty five thousand rupees. Thank you for your time, goodbye!"
	promptRejectLocation   = "I'm sorry, we are not serving your city yet. Thank you for your time, goodbye!"
	promptRejectUnclear    = "I'm sorry, I could not understand your city. Please call again later. Thank you, goodbye!"

	promptApology = "I'm sorry, something went wrong on our side. Please call again later. Goodbye!"
)

// clarifyPrompts re-ask the question for the state the caller failed to
// answer clearly.
var clarifyPrompts = map[State]string{
	StateAskEmployment: "Sorry, I didn't catch that. Are you a salaried employee? Please say yes or no.",
	StateAskSalary:     "Sorry, I didn't catch that. Could you tell me your monthly salary in rupees? For example, thirty thousand.",
	StateAskLocation:   "Sorry, I didn't catch that. Could you tell me the name of the city you live in?",
}

// dtmfPrompts move the caller to keypad input for the state they are stuck on.
var dtmfPrompts = map[State]string{
	StateAskEmployment: "Let's try your keypad instead. If you are a salaried employee, press 1. If not, press 2.",
	StateAskSalary:     "Let's try your keypad instead. Please type your monthly salary in rupees, then press the pound key.",
}

// dtmfRetryPrompts re-prompt after an unexpected digit.
var dtmfRetryPrompts = map[State]string{
	StateAskEmployment: "Sorry, that key is not an option. Press 1 if you are a salaried employee, or 2 if not.",
	StateAskSalary:     "Sorry, I didn't get that. Please type your monthly salary in rupees, then press the pound key.",
}

// ApologyPrompt is spoken when an unrecoverable mid-call failure still
// leaves the audio path usable.
func ApologyPrompt() string { return promptApology }
