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

package session

import (
	"context"
	"sync"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

// Manager holds one session per device identity. Sessions are independent:
// a failure on one never affects another.
type Manager struct {
	config   Config
	hostKeys HostKeyStrategy
	events   EventSink
	logger   logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Host key verification defaults to
// the known_hosts file; trust-on-first-use must be opted into via config.
func NewManager(cfg Config, events EventSink, log logger.Logger) *Manager {
	cfg.setDefaults()

	var strategy HostKeyStrategy
	if cfg.AcceptAnyHostKey {
		strategy = NewAcceptOnFirstUse()
	} else {
		strategy = &PinnedKnownHosts{Path: cfg.KnownHostsPath}
	}

	return &Manager{
		config:   cfg,
		hostKeys: strategy,
		events:   events,
		logger:   log,
		sessions: make(map[string]*Session),
	}
}

// Connect establishes (or re-establishes) the session for a device at the
// given address.
func (m *Manager) Connect(ctx context.Context, identity, address string, creds models.Credentials) (*Session, error) {
	s := m.sessionFor(identity, address)

	if err := s.Connect(ctx, creds); err != nil {
		return nil, err
	}

	return s, nil
}

// Get returns the session for an identity, if one exists.
func (m *Manager) Get(identity string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[identity]

	return s, ok
}

// Disconnect tears down the session for one identity, if any.
func (m *Manager) Disconnect(identity string) {
	if s, ok := m.Get(identity); ok {
		s.Disconnect()
	}
}

// DisconnectAll tears down every session.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))

	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}

func (m *Manager) sessionFor(identity, address string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[identity]; ok {
		s.updateAddress(address)
		return s
	}

	s := newSession(identity, address, m.config, m.hostKeys, m.events, m.logger)
	m.sessions[identity] = s

	return s
}
