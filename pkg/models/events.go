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

// EventType enumerates the UI-facing event vocabulary. One event is one
// logical occurrence.
type EventType string

const (
	EventDeviceFound         EventType = "device_found"
	EventDeviceUpdated       EventType = "device_updated"
	EventDeviceGone          EventType = "device_gone"
	EventSessionStateChanged EventType = "session_state_changed"
	EventInstallProgress     EventType = "install_progress"
	EventInstallLog          EventType = "install_log"
	EventInstallFinished     EventType = "install_finished"
)

// Event is the single envelope delivered to the UI. Fields beyond Type and
// Identity are populated per event type.
type Event struct {
	Type     EventType `json:"type"`
	Identity string    `json:"identity,omitempty"`

	// device_found
	Alias int `json:"alias,omitempty"`
	// device_found, device_updated
	Endpoint *Endpoint `json:"endpoint,omitempty"`

	// session_state_changed
	SessionState SessionState `json:"session_state,omitempty"`

	// install_progress
	StepIndex int    `json:"step_index,omitempty"`
	StepTotal int    `json:"step_total,omitempty"`
	Label     string `json:"label,omitempty"`

	// install_log
	Line string `json:"line,omitempty"`

	// install_finished
	Outcome InstallState `json:"outcome,omitempty"`

	// Human-readable context accompanying failure transitions.
	Message string `json:"message,omitempty"`
}
