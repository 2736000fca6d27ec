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

// Package messaging publishes completed call records on NATS so downstream
// workers (note generation, CRM sync) can consume them asynchronously. The
// hub never waits on a subscriber.
package messaging

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/prescreenlabs/prescreen-hub/internal/events"
	"github.com/prescreenlabs/prescreen-hub/internal/logging"
)

// DefaultSubject is where completed call records are published.
const DefaultSubject = "prescreen.calls.completed"

// Config holds connection settings for the bus.
type Config struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSService owns the hub's connection to the message bus.
type NATSService struct {
	conn *nats.Conn
	cfg  Config
}

// NewNATSService creates a service; Connect must be called before publishing.
func NewNATSService(cfg Config) *NATSService {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &NATSService{cfg: cfg}
}

// Connect establishes the NATS connection with automatic reconnection.
func (ns *NATSService) Connect() error {
	opts := []nats.Option{
		nats.Name("prescreen-hub"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogNATSEvent(ns.cfg.Subject, "disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", ns.cfg.URL, err)
	}

	ns.conn = conn
	logging.LogNATSEvent(ns.cfg.Subject, "connected", zap.String("url", conn.ConnectedUrl()))
	return nil
}

// PublishCallCompleted pushes one finalized record onto the bus. Best
// effort: the caller treats failures as log-and-continue.
func (ns *NATSService) PublishCallCompleted(record *events.CallRecord) error {
	if ns.conn == nil {
		return fmt.Errorf("not connected to NATS")
	}
	if err := record.IsValid(); err != nil {
		return fmt.Errorf("refusing to publish invalid record: %w", err)
	}

	data, err := record.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize call record: %w", err)
	}
	if err := ns.conn.Publish(ns.cfg.Subject, data); err != nil {
		return fmt.Errorf("failed to publish call record: %w", err)
	}

	logging.LogNATSEvent(ns.cfg.Subject, "published_call_completed",
		zap.String("call_id", record.CallID),
		zap.String("outcome", string(record.Outcome)))
	return nil
}

// SubscribeCallCompleted registers a handler for completed calls. Used by
// in-process consumers and tests; external workers subscribe directly.
func (ns *NATSService) SubscribeCallCompleted(handler func(*events.CallRecord)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, fmt.Errorf("not connected to NATS")
	}
	return ns.conn.Subscribe(ns.cfg.Subject, func(msg *nats.Msg) {
		record, err := events.FromJSON(msg.Data)
		if err != nil {
			logging.LogWarn("Dropping malformed call record from bus", zap.Error(err))
			return
		}
		handler(record)
	})
}

// IsConnected reports bus health for the health endpoint.
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}

// Close drains and closes the connection.
func (ns *NATSService) Close() {
	if ns.conn != nil {
		if err := ns.conn.Drain(); err != nil {
			logging.LogWarn("NATS drain failed", zap.Error(err))
		}
		ns.conn.Close()
	}
}
