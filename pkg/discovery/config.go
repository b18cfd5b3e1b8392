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
	"encoding/json"
	"time"
)

const (
	defaultProbePort        = 22
	defaultProbeTimeout     = 400 * time.Millisecond
	defaultProbeInterval    = 60 * time.Second
	defaultProbeConcurrency = 24
	defaultLivenessPort     = 8000
	defaultLivenessTimeout  = 350 * time.Millisecond
	defaultLivenessInterval = 30 * time.Second
	defaultStaleWindow      = 90 * time.Second
	defaultSweepInterval    = 5 * time.Second
)

// Config controls the discovery engine and its three sources.
type Config struct {
	// ServiceTypes are the mDNS service types browsed for advertisements.
	ServiceTypes []string `json:"service_types,omitempty"`
	// NamePatterns is the device-naming convention candidates must match.
	// A candidate passes when its normalized hostname equals a pattern or
	// starts with pattern+"-" or pattern+"_".
	NamePatterns []string `json:"name_patterns,omitempty"`
	// StrictNames drops candidates whose hostname does not match any
	// pattern. Enabled by default.
	StrictNames *bool `json:"strict_names,omitempty"`
	// ExtraNetworks are always probed in addition to the local subnets.
	// Defaults to the USB-gadget and Bluetooth-PAN ranges.
	ExtraNetworks []string `json:"extra_networks,omitempty"`

	ProbePort        int           `json:"probe_port,omitempty"`
	ProbeTimeout     time.Duration `json:"probe_timeout,omitempty"`
	ProbeInterval    time.Duration `json:"probe_interval,omitempty"`
	ProbeConcurrency int           `json:"probe_concurrency,omitempty"`

	LivenessPort     int           `json:"liveness_port,omitempty"`
	LivenessTimeout  time.Duration `json:"liveness_timeout,omitempty"`
	LivenessInterval time.Duration `json:"liveness_interval,omitempty"`

	StaleWindow   time.Duration `json:"stale_window,omitempty"`
	SweepInterval time.Duration `json:"sweep_interval,omitempty"`
}

type durationWrapper time.Duration

func (d *durationWrapper) UnmarshalJSON(b []byte) error {
	var s string

	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		*d = durationWrapper(0)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = durationWrapper(dur)

	return nil
}

// unmarshalConfig accepts durations as strings like "90s".
type unmarshalConfig struct {
	ServiceTypes     []string        `json:"service_types,omitempty"`
	NamePatterns     []string        `json:"name_patterns,omitempty"`
	StrictNames      *bool           `json:"strict_names,omitempty"`
	ExtraNetworks    []string        `json:"extra_networks,omitempty"`
	ProbePort        int             `json:"probe_port,omitempty"`
	ProbeTimeout     durationWrapper `json:"probe_timeout,omitempty"`
	ProbeInterval    durationWrapper `json:"probe_interval,omitempty"`
	ProbeConcurrency int             `json:"probe_concurrency,omitempty"`
	LivenessPort     int             `json:"liveness_port,omitempty"`
	LivenessTimeout  durationWrapper `json:"liveness_timeout,omitempty"`
	LivenessInterval durationWrapper `json:"liveness_interval,omitempty"`
	StaleWindow      durationWrapper `json:"stale_window,omitempty"`
	SweepInterval    durationWrapper `json:"sweep_interval,omitempty"`
}

func (c *Config) UnmarshalJSON(b []byte) error {
	var tmp unmarshalConfig

	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}

	*c = Config{
		ServiceTypes:     tmp.ServiceTypes,
		NamePatterns:     tmp.NamePatterns,
		StrictNames:      tmp.StrictNames,
		ExtraNetworks:    tmp.ExtraNetworks,
		ProbePort:        tmp.ProbePort,
		ProbeTimeout:     time.Duration(tmp.ProbeTimeout),
		ProbeInterval:    time.Duration(tmp.ProbeInterval),
		ProbeConcurrency: tmp.ProbeConcurrency,
		LivenessPort:     tmp.LivenessPort,
		LivenessTimeout:  time.Duration(tmp.LivenessTimeout),
		LivenessInterval: time.Duration(tmp.LivenessInterval),
		StaleWindow:      time.Duration(tmp.StaleWindow),
		SweepInterval:    time.Duration(tmp.SweepInterval),
	}

	return nil
}

func (c *Config) setDefaults() {
	if len(c.ServiceTypes) == 0 {
		c.ServiceTypes = []string{"_ssh._tcp", "_workstation._tcp"}
	}

	if len(c.NamePatterns) == 0 {
		c.NamePatterns = []string{"bjorn"}
	}

	if c.StrictNames == nil {
		strict := true
		c.StrictNames = &strict
	}

	if len(c.ExtraNetworks) == 0 {
		c.ExtraNetworks = []string{"172.20.2.0/24", "172.20.1.0/24"}
	}

	if c.ProbePort == 0 {
		c.ProbePort = defaultProbePort
	}

	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}

	if c.ProbeInterval == 0 {
		c.ProbeInterval = defaultProbeInterval
	}

	if c.ProbeConcurrency == 0 {
		c.ProbeConcurrency = defaultProbeConcurrency
	}

	if c.LivenessPort == 0 {
		c.LivenessPort = defaultLivenessPort
	}

	if c.LivenessTimeout == 0 {
		c.LivenessTimeout = defaultLivenessTimeout
	}

	if c.LivenessInterval == 0 {
		c.LivenessInterval = defaultLivenessInterval
	}

	if c.StaleWindow == 0 {
		c.StaleWindow = defaultStaleWindow
	}

	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
}
