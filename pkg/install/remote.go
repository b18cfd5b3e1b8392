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

package install

import (
	"context"
	"os"

	"github.com/carverauto/bjorn-manager/pkg/session"
)

// Remote is the slice of a device session the orchestrator drives.
type Remote interface {
	Identity() string
	UploadText(remotePath string, content []byte, mode os.FileMode) error
	UploadFile(localPath, remotePath string, mode os.FileMode) error
	SudoExecute(ctx context.Context, command string) (Stream, error)
}

// Stream is the line-stream surface of a running remote command.
type Stream interface {
	Lines() <-chan string
	Send(line string) error
	Close()
	Wait() error
}

// SessionRemote adapts a live session to the Remote interface.
type SessionRemote struct {
	Session *session.Session
}

func (r SessionRemote) Identity() string { return r.Session.Identity() }

func (r SessionRemote) UploadText(remotePath string, content []byte, mode os.FileMode) error {
	return r.Session.UploadText(remotePath, content, mode)
}

func (r SessionRemote) UploadFile(localPath, remotePath string, mode os.FileMode) error {
	return r.Session.UploadFile(localPath, remotePath, mode)
}

func (r SessionRemote) SudoExecute(ctx context.Context, command string) (Stream, error) {
	st, err := r.Session.SudoExecute(ctx, command)
	if err != nil {
		return nil, err
	}

	return st, nil
}
