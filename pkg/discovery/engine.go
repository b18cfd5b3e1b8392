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

// Package discovery reconciles sightings from mDNS browsing, subnet probing
// and liveness polling into one deduplicated device directory.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/bjorn-manager/pkg/alias"
	"github.com/carverauto/bjorn-manager/pkg/directory"
	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

// EventSink receives discovery lifecycle events. Satisfied by relay.Relay.
type EventSink interface {
	Publish(models.Event)
}

// source is one producer of raw sightings. A source failing to run is
// logged and disabled; the others keep going.
type source interface {
	Name() string
	Run(ctx context.Context) error
}

// Engine merges sightings from all sources into the directory, applies the
// admission filter, allocates aliases, and emits device lifecycle events.
type Engine struct {
	config    Config
	directory *directory.Directory
	aliases   *alias.Registry
	events    EventSink
	logger    logger.Logger

	// reverseLookup resolves an address back to a hostname; replaced in
	// tests to avoid live DNS.
	reverseLookup func(address string) string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	ignored map[string]struct{}
}

// NewEngine creates an engine over the given registries. The directory and
// alias registry are owned state passed in explicitly; the engine holds the
// only write path into them.
func NewEngine(cfg Config, dir *directory.Directory, aliases *alias.Registry, events EventSink, log logger.Logger) *Engine {
	cfg.setDefaults()

	return &Engine{
		config:        cfg,
		directory:     dir,
		aliases:       aliases,
		events:        events,
		logger:        log,
		reverseLookup: defaultReverseLookup,
		ignored:       make(map[string]struct{}),
	}
}

// Start begins all sources and the stale sweeper. Idempotent: calling Start
// while running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}

	e.started = true
	e.ignored = buildIgnoredAddrs()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.group = &errgroup.Group{}

	sources := []source{
		newMDNSSource(e),
		newProbeSource(e),
		newLivenessSource(e),
	}

	for _, src := range sources {
		src := src
		e.group.Go(func() error {
			if err := src.Run(runCtx); err != nil && runCtx.Err() == nil {
				// Source unavailable: disabled for the session, the
				// remaining sources continue.
				e.logger.Error().
					Err(err).
					Str("source", src.Name()).
					Msg("Discovery source disabled")
			}

			return nil
		})
	}

	e.group.Go(func() error {
		e.sweepLoop(runCtx)
		return nil
	})

	e.logger.Info().
		Int("sources", len(sources)).
		Msg("Discovery started")
}

// Stop cancels every source and waits for them to exit. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()

	if !e.started {
		e.mu.Unlock()
		return
	}

	e.started = false
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	cancel()

	_ = group.Wait()

	e.logger.Info().Msg("Discovery stopped")
}

// OnSighting reconciles one raw sighting into the directory. Safe from any
// source goroutine.
func (e *Engine) OnSighting(s models.Sighting) {
	if _, bad := e.ignored[s.Address]; bad {
		return
	}

	host := normalizeHost(s.Host)
	if host == "" {
		host = normalizeHost(e.reverseLookup(s.Address))
	}

	if *e.config.StrictNames && !matchesNamePattern(host, e.config.NamePatterns) {
		return
	}

	// Identity comes from the resolved name, never the address: the same
	// device sighted on LAN and USB must not fork into two records.
	identity := host
	if identity == "" {
		identity = s.Address
	}

	aliasNumber := e.aliases.Allocate(identity)
	res := e.directory.Upsert(identity, aliasNumber, s.Address, time.Now())

	ep := res.Record.Endpoints[s.Address]

	switch {
	case res.Created:
		e.logger.Info().
			Str("identity", identity).
			Int("alias", aliasNumber).
			Str("address", s.Address).
			Str("class", string(ep.Class)).
			Str("source", string(s.Source)).
			Msg("Device found")

		e.events.Publish(models.Event{
			Type:     models.EventDeviceFound,
			Identity: identity,
			Alias:    aliasNumber,
			Endpoint: ep,
		})
	case res.EndpointAdded:
		e.logger.Info().
			Str("identity", identity).
			Str("address", s.Address).
			Str("class", string(ep.Class)).
			Msg("Device endpoint added")

		e.events.Publish(models.Event{
			Type:     models.EventDeviceUpdated,
			Identity: identity,
			Endpoint: ep,
		})
	}
}

// sweepLoop periodically marks stale endpoints and emits device_gone for
// identities whose endpoints all went stale. The event is emitted
// unconditionally; whether a consumer prunes the device is policy decided
// outside the core.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, identity := range e.directory.SweepStale(e.config.StaleWindow, now) {
				e.events.Publish(models.Event{
					Type:     models.EventDeviceGone,
					Identity: identity,
				})
			}
		}
	}
}

func defaultReverseLookup(address string) string {
	names, err := net.LookupAddr(address)
	if err != nil || len(names) == 0 {
		return ""
	}

	return names[0]
}
