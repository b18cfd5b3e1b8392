/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/bjorn-manager/pkg/alias"
	"github.com/carverauto/bjorn-manager/pkg/config"
	"github.com/carverauto/bjorn-manager/pkg/directory"
	"github.com/carverauto/bjorn-manager/pkg/discovery"
	"github.com/carverauto/bjorn-manager/pkg/install"
	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/prefs"
	"github.com/carverauto/bjorn-manager/pkg/relay"
	"github.com/carverauto/bjorn-manager/pkg/session"
)

func main() {
	configPath := flag.String("config", "/etc/bjorn-manager/manager.json", "Path to manager config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bjorn-manager: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootstrapLog, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("bootstrap logger: %w", err)
	}

	var cfg managerConfig
	if err := config.NewLoader(bootstrapLog).LoadAndValidate(configPath, &cfg); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	aliases := alias.NewRegistry()
	dir := directory.New(log)

	prefsStore, err := prefs.NewStore(log)
	if err != nil {
		return err
	}

	b := newBridge(log, dir, prefsStore, cfg.PruneStale)
	events := relay.New(b.deliver, log)
	b.markReady = events.MarkReady

	sessions := session.NewManager(cfg.Session.toConfig(), events, log)
	installs := install.New(cfg.Install, events, log)
	b.sessions = sessions
	b.installs = installs

	engine := discovery.NewEngine(cfg.Discovery, dir, aliases, events, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events.Start()
	engine.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleWS)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Manager listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		stop()
		engine.Stop()
		sessions.DisconnectAll()
		events.Stop()

		return err
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)

	engine.Stop()
	sessions.DisconnectAll()
	events.Stop()

	return nil
}
