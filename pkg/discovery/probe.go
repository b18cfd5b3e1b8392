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
	"net/netip"
	"sync"
	"time"

	"github.com/carverauto/bjorn-manager/pkg/models"
)

// probeSource sweeps the local gateway subnet plus the fixed USB-gadget and
// Bluetooth-PAN ranges with TCP connects to the remote-login port. A
// successful connect is a candidate sighting.
type probeSource struct {
	engine *Engine
}

func newProbeSource(e *Engine) *probeSource {
	return &probeSource{engine: e}
}

func (*probeSource) Name() string { return "probe" }

func (s *probeSource) Run(ctx context.Context) error {
	targets := s.targets()
	if len(targets) == 0 {
		return fmt.Errorf("probe: no networks to sweep")
	}

	s.engine.logger.Info().
		Int("targets", len(targets)).
		Int("port", s.engine.config.ProbePort).
		Msg("Range probe sweep starting")

	// First sweep immediately, then on the configured interval.
	s.sweep(ctx, targets)

	ticker := time.NewTicker(s.engine.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx, s.targets())
		}
	}
}

// targets computes the probe address list: union of the local subnets and
// the configured device-specific ranges.
func (s *probeSource) targets() []string {
	seen := make(map[string]struct{})

	var out []string

	add := func(addr string) {
		if _, ok := seen[addr]; ok {
			return
		}

		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	for _, prefix := range localNetworks() {
		for _, addr := range hostsInPrefix(prefix) {
			add(addr)
		}
	}

	for _, cidr := range s.engine.config.ExtraNetworks {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			s.engine.logger.Warn().
				Str("network", cidr).
				Msg("Skipping unparseable probe network")

			continue
		}

		for _, addr := range hostsInPrefix(prefix) {
			add(addr)
		}
	}

	return out
}

// sweep fans the target list out over a fixed worker pool.
func (s *probeSource) sweep(ctx context.Context, targets []string) {
	workCh := make(chan string, s.engine.config.ProbeConcurrency)

	var wg sync.WaitGroup

	for i := 0; i < s.engine.config.ProbeConcurrency; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for addr := range workCh {
				s.probe(ctx, addr)
			}
		}()
	}

	for _, addr := range targets {
		select {
		case <-ctx.Done():
			close(workCh)
			wg.Wait()

			return
		case workCh <- addr:
		}
	}

	close(workCh)
	wg.Wait()
}

func (s *probeSource) probe(ctx context.Context, address string) {
	probeCtx, cancel := context.WithTimeout(ctx, s.engine.config.ProbeTimeout)
	defer cancel()

	var dialer net.Dialer

	conn, err := dialer.DialContext(probeCtx, "tcp",
		net.JoinHostPort(address, fmt.Sprintf("%d", s.engine.config.ProbePort)))
	if err != nil {
		return
	}

	_ = conn.Close()

	s.engine.OnSighting(models.Sighting{
		Address: address,
		Source:  models.SourceProbe,
	})
}
