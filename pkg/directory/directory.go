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

// Package directory holds the authoritative in-memory registry of known
// devices and their endpoints. All three discovery sources write through one
// mutex; readers get deep-copied snapshots.
package directory

import (
	"sort"
	"sync"
	"time"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

// Directory is the single-writer device registry. Records are created on
// first sighting and never deleted here; pruning is a consumer policy.
type Directory struct {
	mu      sync.RWMutex
	records map[string]*models.DeviceRecord
	logger  logger.Logger
}

// UpsertResult tells the caller what an upsert changed, so the discovery
// engine can decide between device_found and device_updated.
type UpsertResult struct {
	Created       bool
	EndpointAdded bool
	Record        *models.DeviceRecord
}

// New creates an empty directory.
func New(log logger.Logger) *Directory {
	return &Directory{
		records: make(map[string]*models.DeviceRecord),
		logger:  log,
	}
}

// Upsert records a sighting of identity at address. A new identity creates a
// record with the supplied alias; a known identity gets the endpoint added or
// refreshed. The returned record is a deep copy.
func (d *Directory) Upsert(identity string, aliasNumber int, address string, now time.Time) UpsertResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[identity]
	if !ok {
		rec = &models.DeviceRecord{
			Identity:  identity,
			Alias:     aliasNumber,
			Endpoints: make(map[string]*models.Endpoint),
		}
		d.records[identity] = rec
	}

	result := UpsertResult{Created: !ok}

	ep, seen := rec.Endpoints[address]
	if !seen {
		ep = &models.Endpoint{
			Address: address,
			Class:   models.ClassifyAddress(address),
		}
		rec.Endpoints[address] = ep
		result.EndpointAdded = true
	}

	ep.LastSeen = now
	ep.Stale = false

	result.Record = rec.Clone()

	return result
}

// Get returns a deep copy of the record for identity.
func (d *Directory) Get(identity string) (*models.DeviceRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[identity]
	if !ok {
		return nil, false
	}

	return rec.Clone(), true
}

// IdentityForAddress resolves which identity owns an endpoint address.
func (d *Directory) IdentityForAddress(address string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for identity, rec := range d.records {
		if _, ok := rec.Endpoints[address]; ok {
			return identity, true
		}
	}

	return "", false
}

// Addresses lists every known endpoint address. Used by the liveness poller,
// which only ever probes already-known devices.
func (d *Directory) Addresses() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string

	for _, rec := range d.records {
		for addr := range rec.Endpoints {
			out = append(out, addr)
		}
	}

	sort.Strings(out)

	return out
}

// SetWebUIReachable updates the web UI flag for the record owning address.
// Returns the identity and whether the flag actually changed.
func (d *Directory) SetWebUIReachable(address string, up bool) (identity string, changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, rec := range d.records {
		if _, ok := rec.Endpoints[address]; !ok {
			continue
		}

		if rec.WebUIReachable != up {
			rec.WebUIReachable = up
			return id, true
		}

		return id, false
	}

	return "", false
}

// Snapshot returns deep copies of every record, ordered by alias.
func (d *Directory) Snapshot() []*models.DeviceRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.DeviceRecord, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })

	return out
}

// SweepStale marks endpoints not refreshed within window as stale and
// returns the identities whose endpoints all went stale during this pass.
// An identity is reported once per stale transition: it becomes eligible
// again only after a fresh sighting clears one of its endpoints.
func (d *Directory) SweepStale(window time.Duration, now time.Time) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var gone []string

	for identity, rec := range d.records {
		wasAllStale := rec.AllStale()

		for _, ep := range rec.Endpoints {
			if !ep.Stale && now.Sub(ep.LastSeen) > window {
				ep.Stale = true
			}
		}

		if !wasAllStale && rec.AllStale() {
			gone = append(gone, identity)

			d.logger.Debug().
				Str("identity", identity).
				Int("endpoints", len(rec.Endpoints)).
				Msg("All endpoints stale")
		}
	}

	sort.Strings(gone)

	return gone
}
