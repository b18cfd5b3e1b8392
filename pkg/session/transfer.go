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
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// UploadText writes content to a remote path over SFTP, creating parent
// directories as needed and applying the given mode.
func (s *Session) UploadText(remotePath string, content []byte, mode os.FileMode) error {
	return s.upload(remotePath, bytes.NewReader(content), mode)
}

// UploadFile copies a local file to a remote path over SFTP.
func (s *Session) UploadFile(localPath, remotePath string, mode os.FileMode) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Path: localPath, Err: err}
	}
	defer f.Close()

	return s.upload(remotePath, f, mode)
}

func (s *Session) upload(remotePath string, r io.Reader, mode os.FileMode) error {
	client, err := s.connectedClient()
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return &TransferError{Path: remotePath, Err: err}
	}
	defer sc.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return &TransferError{Path: remotePath, Err: err}
		}
	}

	f, err := sc.Create(remotePath)
	if err != nil {
		return &TransferError{Path: remotePath, Err: err}
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return &TransferError{Path: remotePath, Err: err}
	}

	if err := f.Close(); err != nil {
		return &TransferError{Path: remotePath, Err: err}
	}

	if err := sc.Chmod(remotePath, mode); err != nil {
		return &TransferError{Path: remotePath, Err: err}
	}

	return nil
}
