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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	maxLineBytes    = 1024 * 1024
	minWatchdogTick = 10 * time.Millisecond
)

// Stream is one long-running remote command with incremental line
// delivery. Lines() is closed when the command finishes for any reason;
// Wait() then reports the outcome.
type Stream struct {
	command string
	raw     *ssh.Session
	stdin   io.WriteCloser
	owner   *Session

	idle         time.Duration
	lastActivity atomic.Int64

	lines     chan string
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *Session) startStream(ctx context.Context, command string, idle time.Duration) (*Stream, error) {
	client, err := s.connectedClient()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return nil, ErrStreamActive
	}
	s.mu.Unlock()

	raw, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	// A pty makes the remote side hang up its process group when the
	// channel closes, so Close() actually terminates the command. It also
	// merges stderr into the line stream.
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := raw.RequestPty("xterm", 40, 120, modes); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := raw.StdinPipe()
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := raw.StdoutPipe()
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := raw.Start(command); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	st := &Stream{
		command: command,
		raw:     raw,
		stdin:   stdin,
		owner:   s,
		idle:    idle,
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	st.touch()

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		_ = raw.Close()

		return nil, ErrStreamActive
	}
	s.stream = st
	s.mu.Unlock()

	go st.run(ctx, stdout)

	return st, nil
}

// Lines returns the output channel. It is closed when the stream ends.
func (st *Stream) Lines() <-chan string { return st.lines }

// Send writes one line to the remote stdin, terminating it with a newline.
func (st *Stream) Send(line string) error {
	if _, err := io.WriteString(st.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write remote stdin: %w", err)
	}

	return nil
}

// Close force-closes the remote channel, terminating the command.
// Idempotent.
func (st *Stream) Close() {
	st.closeOnce.Do(func() {
		_ = st.raw.Close()
	})
}

// Wait blocks until the command finishes and returns nil on clean exit, a
// RemoteExecutionError on non-zero exit, a TimeoutError when the idle
// watchdog fired, or ErrCancelled when the context was cancelled.
func (st *Stream) Wait() error {
	<-st.done

	st.mu.Lock()
	defer st.mu.Unlock()

	return st.err
}

func (st *Stream) run(ctx context.Context, stdout io.Reader) {
	scanDone := make(chan struct{})

	go func() {
		defer close(scanDone)

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			st.touch()
			st.lines <- scanner.Text()
		}
	}()

	tick := st.idle / 4
	if tick <= 0 {
		tick = time.Hour
	} else if tick < minWatchdogTick {
		tick = minWatchdogTick
	}

	watchdog := time.NewTicker(tick)
	defer watchdog.Stop()

	for running := true; running; {
		select {
		case <-scanDone:
			running = false
		case <-ctx.Done():
			st.fail(ErrCancelled)
			st.Close()
			st.drainUntil(scanDone)

			running = false
		case <-watchdog.C:
			if st.idle > 0 && time.Since(st.last()) > st.idle {
				st.fail(&TimeoutError{Op: st.command, After: st.idle})
				st.Close()
				st.drainUntil(scanDone)

				running = false
			}
		}
	}

	waitErr := st.raw.Wait()

	st.mu.Lock()
	if st.err == nil && waitErr != nil {
		var exit *ssh.ExitError
		if errors.As(waitErr, &exit) {
			st.err = &RemoteExecutionError{Command: st.command, ExitCode: exit.ExitStatus()}
		} else {
			st.err = fmt.Errorf("remote command %q: %w", st.command, waitErr)
		}
	}
	st.mu.Unlock()

	st.Close()
	close(st.lines)
	close(st.done)
	st.owner.clearStream(st)
}

// drainUntil keeps the scanner unblocked while an aborted command winds
// down; the consumer may have stopped reading already.
func (st *Stream) drainUntil(scanDone <-chan struct{}) {
	for {
		select {
		case <-scanDone:
			return
		case <-st.lines:
		}
	}
}

func (st *Stream) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
}

func (st *Stream) touch() {
	st.lastActivity.Store(time.Now().UnixNano())
}

func (st *Stream) last() time.Time {
	return time.Unix(0, st.lastActivity.Load())
}

func (s *Session) clearStream(st *Stream) {
	s.mu.Lock()
	if s.stream == st {
		s.stream = nil
	}
	s.mu.Unlock()
}
