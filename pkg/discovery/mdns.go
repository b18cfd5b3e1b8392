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

	"github.com/grandcat/zeroconf"

	"github.com/carverauto/bjorn-manager/pkg/models"
)

// mdnsSource browses DNS-SD service types relevant to remote-login and
// file-sharing discovery. Every resolved advertisement becomes a candidate
// sighting; the engine's filter decides admission.
type mdnsSource struct {
	engine *Engine
}

func newMDNSSource(e *Engine) *mdnsSource {
	return &mdnsSource{engine: e}
}

func (*mdnsSource) Name() string { return "mdns" }

func (s *mdnsSource) Run(ctx context.Context) error {
	// One resolver and entry channel per service type: the resolver closes
	// the channel when browsing ends, so types cannot share one.
	for _, serviceType := range s.engine.config.ServiceTypes {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return fmt.Errorf("mdns resolver: %w", err)
		}

		entries := make(chan *zeroconf.ServiceEntry)

		go s.consumeEntries(entries)

		if err := resolver.Browse(ctx, serviceType, "local.", entries); err != nil {
			return fmt.Errorf("mdns browse %s: %w", serviceType, err)
		}

		s.engine.logger.Debug().
			Str("service_type", serviceType).
			Msg("mDNS browser started")
	}

	<-ctx.Done()

	return nil
}

func (s *mdnsSource) consumeEntries(entries <-chan *zeroconf.ServiceEntry) {
	for entry := range entries {
		host := entry.HostName
		if host == "" {
			host = entry.Instance
		}

		for _, addr := range entry.AddrIPv4 {
			s.engine.OnSighting(models.Sighting{
				Host:    host,
				Address: addr.String(),
				Source:  models.SourceMDNS,
			})
		}
	}
}
