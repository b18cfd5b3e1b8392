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

// Package models provides the shared data model for device discovery and
// remote install orchestration.
package models

import (
	"net/netip"
	"time"
)

// InterfaceClass tags an endpoint by the link it was reached over.
type InterfaceClass string

const (
	InterfaceLAN       InterfaceClass = "lan"
	InterfaceUSB       InterfaceClass = "usb"
	InterfaceBluetooth InterfaceClass = "bluetooth"
)

// The USB-gadget and Bluetooth-PAN links use fixed reserved ranges on the
// device side. Everything outside them is ordinary LAN.
var (
	usbRange       = netip.MustParsePrefix("172.20.2.0/24")
	bluetoothRange = netip.MustParsePrefix("172.20.1.0/24")
)

// ClassifyAddress derives the interface class from the address alone,
// independent of which discovery source reported it.
func ClassifyAddress(address string) InterfaceClass {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return InterfaceLAN
	}

	switch {
	case usbRange.Contains(addr):
		return InterfaceUSB
	case bluetoothRange.Contains(addr):
		return InterfaceBluetooth
	default:
		return InterfaceLAN
	}
}

// SourceKind identifies which discovery mechanism produced a sighting.
type SourceKind string

const (
	SourceMDNS     SourceKind = "mdns"
	SourceProbe    SourceKind = "probe"
	SourceLiveness SourceKind = "liveness"
)

// Sighting is one raw observation of a candidate device from a discovery
// source, before identity reconciliation.
type Sighting struct {
	Host    string     `json:"host,omitempty"`
	Address string     `json:"address"`
	Source  SourceKind `json:"source"`
}

// Endpoint is one address a device identity is reachable at.
type Endpoint struct {
	Address  string         `json:"address"`
	Class    InterfaceClass `json:"class"`
	LastSeen time.Time      `json:"last_seen"`
	Stale    bool           `json:"stale,omitempty"`
}

// DeviceRecord is the directory's view of one physical device: a stable
// identity plus every endpoint it has been sighted on.
type DeviceRecord struct {
	Identity       string               `json:"identity"`
	Alias          int                  `json:"alias"`
	Endpoints      map[string]*Endpoint `json:"endpoints"`
	WebUIReachable bool                 `json:"web_ui_reachable,omitempty"`
}

// AllStale reports whether every endpoint of the record is stale. A record
// with no endpoints is not considered stale.
func (r *DeviceRecord) AllStale() bool {
	if len(r.Endpoints) == 0 {
		return false
	}

	for _, ep := range r.Endpoints {
		if !ep.Stale {
			return false
		}
	}

	return true
}

// Clone creates a deep copy safe to hand to readers outside the directory's
// lock.
func (r *DeviceRecord) Clone() *DeviceRecord {
	if r == nil {
		return nil
	}

	clone := &DeviceRecord{
		Identity:       r.Identity,
		Alias:          r.Alias,
		WebUIReachable: r.WebUIReachable,
		Endpoints:      make(map[string]*Endpoint, len(r.Endpoints)),
	}

	for addr, ep := range r.Endpoints {
		copied := *ep
		clone.Endpoints[addr] = &copied
	}

	return clone
}
