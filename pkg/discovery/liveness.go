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

package discovery

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/carverauto/bjorn-manager/pkg/models"
)

// livenessSource periodically issues an HTTP GET against the application
// port of already-known devices. It only flips the web-UI-reachable flag on
// existing records and never creates identities. Addresses that keep failing
// are re-probed on an exponential backoff instead of every cycle.
type livenessSource struct {
	engine *Engine
	client *http.Client

	// Per-address retry pacing for unreachable web UIs.
	retries   map[string]*backoff.ExponentialBackOff
	nextProbe map[string]time.Time
}

func newLivenessSource(e *Engine) *livenessSource {
	return &livenessSource{
		engine: e,
		client: &http.Client{
			Timeout: e.config.LivenessTimeout,
		},
		retries:   make(map[string]*backoff.ExponentialBackOff),
		nextProbe: make(map[string]time.Time),
	}
}

func (*livenessSource) Name() string { return "liveness" }

func (s *livenessSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.engine.config.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *livenessSource) poll(ctx context.Context) {
	now := time.Now()

	for _, address := range s.engine.directory.Addresses() {
		if next, ok := s.nextProbe[address]; ok && now.Before(next) {
			continue
		}

		up := s.check(ctx, address)

		if up {
			delete(s.retries, address)
			delete(s.nextProbe, address)
		} else {
			bo, ok := s.retries[address]
			if !ok {
				bo = backoff.NewExponentialBackOff(
					backoff.WithInitialInterval(s.engine.config.LivenessInterval),
					backoff.WithMaxInterval(10*time.Minute),
					backoff.WithMaxElapsedTime(0),
				)
				s.retries[address] = bo
			}

			s.nextProbe[address] = now.Add(bo.NextBackOff())
		}

		identity, changed := s.engine.directory.SetWebUIReachable(address, up)
		if !changed {
			continue
		}

		status := "unreachable"
		if up {
			status = "reachable"
		}

		s.engine.logger.Debug().
			Str("identity", identity).
			Str("address", address).
			Bool("up", up).
			Msg("Web UI reachability changed")

		rec, ok := s.engine.directory.Get(identity)
		if !ok {
			continue
		}

		s.engine.events.Publish(models.Event{
			Type:     models.EventDeviceUpdated,
			Identity: identity,
			Endpoint: rec.Endpoints[address],
			Message:  fmt.Sprintf("web ui %s", status),
		})
	}
}

func (s *livenessSource) check(ctx context.Context, address string) bool {
	url := fmt.Sprintf("http://%s/",
		net.JoinHostPort(address, fmt.Sprintf("%d", s.engine.config.LivenessPort)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}

	_ = resp.Body.Close()

	return true
}
