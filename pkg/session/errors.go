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
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNoCredentials    = errors.New("no usable credentials")
	ErrStreamActive     = errors.New("another remote stream is active")
	// ErrCancelled marks an operation the caller intentionally aborted,
	// distinct from a remote failure.
	ErrCancelled = errors.New("operation cancelled")
)

// ConnectionError reports an auth failure or unreachable host. It affects
// only the session it occurred on.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransferError reports a failed upload, naming the file involved.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// RemoteExecutionError reports a remote command that exited non-zero.
type RemoteExecutionError struct {
	Command  string
	ExitCode int
}

func (e *RemoteExecutionError) Error() string {
	return fmt.Sprintf("remote command exited %d: %s", e.ExitCode, e.Command)
}

// TimeoutError reports a blocking remote call that produced no output
// within the watchdog window. Distinct from RemoteExecutionError so the UI
// can tell a hung step from a failed one.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s produced no output for %s", e.Op, e.After)
}
