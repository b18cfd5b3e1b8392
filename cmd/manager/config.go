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
	"github.com/carverauto/bjorn-manager/pkg/config"
	"github.com/carverauto/bjorn-manager/pkg/discovery"
	"github.com/carverauto/bjorn-manager/pkg/install"
	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/session"
)

const defaultListenAddr = "127.0.0.1:8787"

type managerConfig struct {
	ListenAddr string `json:"listen_addr"`
	// PruneStale controls whether all-stale devices are dropped from
	// snapshots served to the UI. The core never prunes; this is purely
	// front-end policy.
	PruneStale bool `json:"prune_stale"`

	Logging   *logger.Config   `json:"logging,omitempty"`
	Discovery discovery.Config `json:"discovery"`
	Session   sessionSettings  `json:"session"`
	Install   install.Config   `json:"install"`
}

func (c *managerConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	return nil
}

// sessionSettings is the JSON shape of session.Config, with durations as
// strings.
type sessionSettings struct {
	ConnectTimeout    config.Duration `json:"connect_timeout,omitempty"`
	KeepaliveInterval config.Duration `json:"keepalive_interval,omitempty"`
	StreamIdleTimeout config.Duration `json:"stream_idle_timeout,omitempty"`
	AcceptAnyHostKey  bool            `json:"accept_any_host_key,omitempty"`
	KnownHostsPath    string          `json:"known_hosts_path,omitempty"`
}

func (s sessionSettings) toConfig() session.Config {
	return session.Config{
		ConnectTimeout:    s.ConnectTimeout.AsDuration(),
		KeepaliveInterval: s.KeepaliveInterval.AsDuration(),
		StreamIdleTimeout: s.StreamIdleTimeout.AsDuration(),
		AcceptAnyHostKey:  s.AcceptAnyHostKey,
		KnownHostsPath:    s.KnownHostsPath,
	}
}
