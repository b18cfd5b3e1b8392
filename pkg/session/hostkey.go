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
	"bytes"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyStrategy decides how remote host identities are verified. The
// strategy is pluggable: trust-on-first-use is never the silent default, it
// must be selected explicitly in config.
type HostKeyStrategy interface {
	Name() string
	Callback() (ssh.HostKeyCallback, error)
}

// AcceptOnFirstUse accepts whatever key a host presents the first time and
// pins it for the lifetime of the process. A changed key on a later connect
// is rejected. Nothing is persisted across restarts.
type AcceptOnFirstUse struct {
	mu   sync.Mutex
	seen map[string][]byte
}

// NewAcceptOnFirstUse creates a process-lifetime trust-on-first-use cache.
func NewAcceptOnFirstUse() *AcceptOnFirstUse {
	return &AcceptOnFirstUse{seen: make(map[string][]byte)}
}

func (*AcceptOnFirstUse) Name() string { return "accept-on-first-use" }

func (a *AcceptOnFirstUse) Callback() (ssh.HostKeyCallback, error) {
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		return a.verify(hostname, key)
	}, nil
}

func (a *AcceptOnFirstUse) verify(hostname string, key ssh.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	marshaled := key.Marshal()

	cached, ok := a.seen[hostname]
	if !ok {
		a.seen[hostname] = marshaled
		return nil
	}

	if !bytes.Equal(cached, marshaled) {
		return fmt.Errorf("host key for %s changed since first use", hostname)
	}

	return nil
}

// PinnedKnownHosts verifies hosts against an OpenSSH known_hosts file.
type PinnedKnownHosts struct {
	Path string
}

func (*PinnedKnownHosts) Name() string { return "known-hosts" }

func (p *PinnedKnownHosts) Callback() (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(p.Path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", p.Path, err)
	}

	return cb, nil
}
