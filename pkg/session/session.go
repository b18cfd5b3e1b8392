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

// Package session maintains SSH connections to managed devices and exposes
// streaming execution, one-shot execution and file transfer over them.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
)

const defaultUser = "bjorn"

// EventSink receives session lifecycle events. Satisfied by relay.Relay.
type EventSink interface {
	Publish(models.Event)
}

// Config controls connection behavior shared by all sessions.
type Config struct {
	ConnectTimeout    time.Duration `json:"-"`
	KeepaliveInterval time.Duration `json:"-"`
	// StreamIdleTimeout is the watchdog window for streaming commands: a
	// stream that produces no output for this long is aborted with a
	// TimeoutError. Log tailing is exempt.
	StreamIdleTimeout time.Duration `json:"-"`
	// AcceptAnyHostKey switches host verification from the known_hosts
	// file to trust-on-first-use. Off by default.
	AcceptAnyHostKey bool   `json:"accept_any_host_key"`
	KnownHostsPath   string `json:"known_hosts_path,omitempty"`
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}

	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}

	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = 15 * time.Minute
	}

	if c.KnownHostsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
		}
	}
}

// Session is the SSH connection to one device. All methods are safe for
// concurrent use; at most one streaming command runs at a time.
type Session struct {
	identity string
	config   Config
	hostKeys HostKeyStrategy
	events   EventSink
	logger   logger.Logger

	mu            sync.Mutex
	address       string
	state         models.SessionState
	client        *ssh.Client
	creds         models.Credentials
	stream        *Stream
	keepaliveStop chan struct{}
}

func newSession(identity, address string, cfg Config, hostKeys HostKeyStrategy, events EventSink, log logger.Logger) *Session {
	return &Session{
		identity: identity,
		address:  address,
		config:   cfg,
		hostKeys: hostKeys,
		events:   events,
		logger:   log,
		state:    models.SessionDisconnected,
	}
}

// Identity returns the device identity this session belongs to.
func (s *Session) Identity() string { return s.identity }

// State returns the current connection state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// SudoPassword returns the password supplied at connect time, for use as
// the remote sudo password. Empty when key-only auth was used.
func (s *Session) SudoPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creds.Password
}

// updateAddress repoints a disconnected session at a new endpoint. A
// connected session keeps the address it dialed.
func (s *Session) updateAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.SessionDisconnected || s.state == models.SessionFailed {
		s.address = address
	}
}

// Connect dials the device and authenticates, trying keys before the
// password. Every state transition is published to the event sink.
func (s *Session) Connect(ctx context.Context, creds models.Credentials) error {
	s.mu.Lock()
	if s.state == models.SessionConnected || s.state == models.SessionConnecting {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}

	s.state = models.SessionConnecting
	address := s.address
	s.mu.Unlock()

	s.publishState(models.SessionConnecting, "")

	if creds.User == "" {
		creds.User = defaultUser
	}

	methods, err := authMethods(creds)
	if err != nil {
		s.setFailed(err.Error())
		return err
	}

	hostKeyCallback, err := s.hostKeys.Callback()
	if err != nil {
		s.setFailed(err.Error())
		return &ConnectionError{Address: address, Err: err}
	}

	port := creds.Port
	if port == 0 {
		port = 22
	}

	target := net.JoinHostPort(address, strconv.Itoa(port))

	clientConfig := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.config.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: s.config.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		s.setFailed(err.Error())
		return &ConnectionError{Address: target, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target, clientConfig)
	if err != nil {
		_ = conn.Close()

		s.setFailed(err.Error())

		return &ConnectionError{Address: target, Err: err}
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	stop := make(chan struct{})

	s.mu.Lock()
	s.client = client
	s.creds = creds
	s.state = models.SessionConnected
	s.keepaliveStop = stop
	s.mu.Unlock()

	go s.keepalive(client, stop)

	s.logger.Info().
		Str("identity", s.identity).
		Str("address", target).
		Str("user", creds.User).
		Msg("Session connected")

	s.publishState(models.SessionConnected, "")

	return nil
}

// Disconnect tears the connection down. Idempotent; a session that is not
// connected is left as-is.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state != models.SessionConnected && s.state != models.SessionConnecting {
		s.mu.Unlock()
		return
	}

	stream := s.stream
	client := s.client
	stop := s.keepaliveStop
	s.stream = nil
	s.client = nil
	s.keepaliveStop = nil
	s.state = models.SessionDisconnected
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	if stream != nil {
		stream.Close()
	}

	if client != nil {
		_ = client.Close()
	}

	s.logger.Info().Str("identity", s.identity).Msg("Session disconnected")
	s.publishState(models.SessionDisconnected, "")
}

// ExecuteSimple runs one command and returns its combined output. A
// non-zero exit becomes a RemoteExecutionError; cancelling the context
// force-closes the remote channel.
func (s *Session) ExecuteSimple(ctx context.Context, command string) (string, error) {
	client, err := s.connectedClient()
	if err != nil {
		return "", err
	}

	raw, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open channel: %w", err)
	}
	defer raw.Close()

	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = raw.Close()
		case <-done:
		}
	}()

	out, runErr := raw.CombinedOutput(command)

	close(done)

	if ctx.Err() != nil {
		return string(out), ErrCancelled
	}

	if runErr != nil {
		var exit *ssh.ExitError
		if errors.As(runErr, &exit) {
			return string(out), &RemoteExecutionError{Command: command, ExitCode: exit.ExitStatus()}
		}

		return string(out), fmt.Errorf("run %q: %w", command, runErr)
	}

	return string(out), nil
}

// StartStream runs a long command with line-by-line output delivery and an
// idle watchdog. Only one stream may be active per session.
func (s *Session) StartStream(ctx context.Context, command string) (*Stream, error) {
	return s.startStream(ctx, command, s.config.StreamIdleTimeout)
}

// SudoExecute runs a command under sudo as a stream. sudo reads the
// password from stdin (-S), so it is written immediately rather than
// waiting for a prompt that a line scanner would never see.
func (s *Session) SudoExecute(ctx context.Context, command string) (*Stream, error) {
	st, err := s.startStream(ctx, "sudo -S "+command, s.config.StreamIdleTimeout)
	if err != nil {
		return nil, err
	}

	if password := s.SudoPassword(); password != "" {
		if err := st.Send(password); err != nil {
			st.Close()
			return nil, err
		}
	}

	return st, nil
}

// TailLog follows the journal of a systemd unit. The stream stays open
// until the context is cancelled or the stream is closed; the idle
// watchdog does not apply, a quiet journal is not an error.
func (s *Session) TailLog(ctx context.Context, unit string) (*Stream, error) {
	return s.startStream(ctx, "journalctl -fu "+unit, 0)
}

func (s *Session) connectedClient() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SessionConnected || s.client == nil {
		return nil, ErrNotConnected
	}

	return s.client, nil
}

// keepalive probes the transport until stopped. A failed probe means the
// connection is gone; the session transitions to failed so the owner can
// decide whether to reconnect.
func (s *Session) keepalive(client *ssh.Client, stop chan struct{}) {
	ticker := time.NewTicker(s.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@bjorn-manager", true, nil); err != nil {
				s.logger.Warn().
					Err(err).
					Str("identity", s.identity).
					Msg("Session keepalive failed")

				s.dropConnection("connection lost")

				return
			}
		}
	}
}

func (s *Session) dropConnection(message string) {
	s.mu.Lock()
	if s.state != models.SessionConnected {
		s.mu.Unlock()
		return
	}

	stream := s.stream
	client := s.client
	s.stream = nil
	s.client = nil
	s.keepaliveStop = nil
	s.state = models.SessionFailed
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}

	if client != nil {
		_ = client.Close()
	}

	s.publishState(models.SessionFailed, message)
}

func (s *Session) setFailed(message string) {
	s.mu.Lock()
	s.state = models.SessionFailed
	s.mu.Unlock()

	s.logger.Warn().
		Str("identity", s.identity).
		Str("error", message).
		Msg("Session connect failed")

	s.publishState(models.SessionFailed, message)
}

func (s *Session) publishState(state models.SessionState, message string) {
	s.events.Publish(models.Event{
		Type:         models.EventSessionStateChanged,
		Identity:     s.identity,
		SessionState: state,
		Message:      message,
	})
}
