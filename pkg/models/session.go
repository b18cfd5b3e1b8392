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

package models

// SessionState is the connection state of one device session.
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionFailed       SessionState = "failed"
)

// Credentials holds what a connect attempt may authenticate with. KeyPath
// narrows key auth to one explicit file; when empty the conventional key
// locations are tried in order. Password is the fallback once key auth is
// exhausted, and doubles as the sudo password on the remote side.
type Credentials struct {
	User     string `json:"user"`
	Port     int    `json:"port,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
	Password string `json:"password,omitempty"`
}
