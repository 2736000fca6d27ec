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

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prescreenlabs/prescreen-hub/internal/config"
	"github.com/prescreenlabs/prescreen-hub/internal/logging"
	"github.com/prescreenlabs/prescreen-hub/internal/messaging"
	"github.com/prescreenlabs/prescreen-hub/internal/server"
	"github.com/prescreenlabs/prescreen-hub/internal/storage"
)

func main() {
	// Local development loads secrets from .env; in production the
	// environment is already populated.
	_ = godotenv.Load()

	if err := logging.Initialize(); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Close()

	cfg, err := config.Load()
	if err != nil {
		logging.LogError(err, "Invalid configuration")
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Storage.DBPath})
	if err != nil {
		logging.LogError(err, "Failed to open call record database")
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	store := storage.NewCallRecordsStore(db)

	nats := messaging.NewNATSService(messaging.Config{
		URL:           cfg.NATS.URL,
		Subject:       cfg.NATS.Subject,
		MaxReconnects: cfg.NATS.MaxReconnect,
		ReconnectWait: cfg.NATS.ReconnectWait,
	})
	if err := nats.Connect(); err != nil {
		// The hub can screen calls without the bus; handoff degrades to
		// storage only.
		logging.LogError(err, "NATS unavailable, continuing without handoff bus")
		nats = nil
	} else {
		defer nats.Close()
	}

	srv := server.New(cfg, store, nats)

	logging.Sugar.Infow("🚀 prescreen-hub starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"db_path", cfg.Storage.DBPath,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Sugar.Infow("👋 Shutting down", "signal", sig.String())
		if err := srv.Stop(); err != nil {
			logging.LogError(err, "Graceful shutdown failed")
		}
	case err := <-errCh:
		if err != nil {
			logging.LogError(err, "Server exited")
			log.Fatalf("Server exited: %v", err)
		}
	}
}
