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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the PreScreen hub
type Config struct {
	Server  ServerConfig
	Twilio  TwilioConfig
	STT     STTConfig
	TTS     TTSConfig
	Dialog  DialogConfig
	Logging LoggingConfig
	NATS    NATSConfig
	Storage StorageConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// TwilioConfig holds telephony bridge configuration
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	ValidateSignature bool // disable only for local testing
}

// STTConfig holds streaming Speech-to-Text configuration
type STTConfig struct {
	URL      string // websocket URL of the streaming recognizer
	APIKey   string
	Language string
	Model    string
}

// TTSConfig holds streaming Text-to-Speech configuration
type TTSConfig struct {
	URL          string // websocket URL of the streaming synthesizer
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string        // telephony output format (e.g. "ulaw_8000")
	Timeout      time.Duration // per-utterance synthesis timeout
}

// DialogConfig holds turn-taking and screening thresholds
type DialogConfig struct {
	ConfidenceThreshold float64       // finals below this go to clarification
	BargeInThreshold    float64       // interims above this interrupt the bot
	SalaryThreshold     int           // minimum monthly salary to qualify
	MaxClarifications   int           // ambiguous re-asks before fallback
	DTMFFlushTimeout    time.Duration // inactivity flush of a partial digit buffer
	HangupGraceDelay    time.Duration // delay after the final prompt before teardown
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// StorageConfig holds call-record store configuration
type StorageConfig struct {
	DBPath string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("PRESCREEN_HOST", "0.0.0.0"),
			Port:         getEnvInt("PRESCREEN_PORT", 8080),
			ReadTimeout:  getEnvDuration("PRESCREEN_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("PRESCREEN_WRITE_TIMEOUT", 30*time.Second),
		},
		Twilio: TwilioConfig{
			AccountSID:        getEnvString("TWILIO_ACCOUNT_SID", ""),
			AuthToken:         getEnvString("TWILIO_AUTH_TOKEN", ""),
			ValidateSignature: getEnvBool("TWILIO_VALIDATE_SIGNATURE", true),
		},
		STT: STTConfig{
			URL:      getEnvString("STT_URL", "wss://api.deepgram.com/v1/listen"),
			APIKey:   getEnvString("STT_API_KEY", ""),
			Language: getEnvString("STT_LANGUAGE", "en-IN"),
			Model:    getEnvString("STT_MODEL", "nova-2"),
		},
		TTS: TTSConfig{
			URL:          getEnvString("TTS_URL", "wss://api.elevenlabs.io/v1/text-to-speech"),
			APIKey:       getEnvString("TTS_API_KEY", ""),
			VoiceID:      getEnvString("TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
			ModelID:      getEnvString("TTS_MODEL_ID", "eleven_turbo_v2"),
			OutputFormat: getEnvString("TTS_OUTPUT_FORMAT", "ulaw_8000"),
			Timeout:      getEnvDuration("TTS_TIMEOUT", 10*time.Second),
		},
		Dialog: DialogConfig{
			ConfidenceThreshold: getEnvFloat64("DIALOG_CONFIDENCE_THRESHOLD", 0.7),
			BargeInThreshold:    getEnvFloat64("DIALOG_BARGE_IN_THRESHOLD", 0.5),
			SalaryThreshold:     getEnvInt("DIALOG_SALARY_THRESHOLD", 25000),
			MaxClarifications:   getEnvInt("DIALOG_MAX_CLARIFICATIONS", 2),
			DTMFFlushTimeout:    getEnvDuration("DIALOG_DTMF_FLUSH_TIMEOUT", 5*time.Second),
			HangupGraceDelay:    getEnvDuration("DIALOG_HANGUP_GRACE_DELAY", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			Subject:       getEnvString("NATS_SUBJECT", "prescreen.calls.completed"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Storage: StorageConfig{
			DBPath: getEnvString("DB_PATH", "./data/prescreen-hub.db"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.STT.URL == "" {
		return fmt.Errorf("STT URL must be provided")
	}

	if c.TTS.URL == "" {
		return fmt.Errorf("TTS URL must be provided")
	}

	if c.Dialog.ConfidenceThreshold <= 0 || c.Dialog.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1]: %f", c.Dialog.ConfidenceThreshold)
	}

	if c.Dialog.BargeInThreshold <= 0 || c.Dialog.BargeInThreshold > 1 {
		return fmt.Errorf("barge-in threshold must be in (0, 1]: %f", c.Dialog.BargeInThreshold)
	}

	if c.Dialog.SalaryThreshold <= 0 {
		return fmt.Errorf("salary threshold must be positive: %d", c.Dialog.SalaryThreshold)
	}

	if c.Dialog.MaxClarifications < 1 {
		return fmt.Errorf("max clarifications must be at least 1: %d", c.Dialog.MaxClarifications)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
