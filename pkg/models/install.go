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

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// InstallMode selects where the remote entry point sources its payload from.
type InstallMode string

const (
	// ModeOnline clones the payload from the network.
	ModeOnline InstallMode = "online"
	// ModeLocal expects a pre-placed tarball on the device.
	ModeLocal InstallMode = "local"
	// ModeDebug expects a pre-placed zip bundle on the device.
	ModeDebug InstallMode = "debug"
)

// InstallState is the overall state of an install job.
type InstallState string

const (
	InstallPending   InstallState = "pending"
	InstallRunning   InstallState = "running"
	InstallSucceeded InstallState = "succeeded"
	InstallFailed    InstallState = "failed"
	InstallAborted   InstallState = "aborted"
)

// Terminal reports whether the state is a terminal outcome.
func (s InstallState) Terminal() bool {
	return s == InstallSucceeded || s == InstallFailed || s == InstallAborted
}

// InstallOptions is the full set of recognized install configuration fields.
// It is decoded strictly: unknown fields are rejected rather than passed
// through.
type InstallOptions struct {
	Mode          InstallMode `json:"mode"`
	DisplayDriver string      `json:"display_driver,omitempty"`
	ManualMode    bool        `json:"manual_mode,omitempty"`
	WebUIAuth     bool        `json:"web_ui_auth,omitempty"`
	WebUIPassword string      `json:"web_ui_password,omitempty"`
	BluetoothMAC  string      `json:"bluetooth_mac,omitempty"`
	GitBranch     string      `json:"git_branch,omitempty"`
}

// DecodeInstallOptions parses options from JSON, rejecting unknown fields.
func DecodeInstallOptions(data []byte) (*InstallOptions, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var opts InstallOptions
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("decode install options: %w", err)
	}

	return &opts, nil
}

// StepResult records the outcome of one announced install step.
type StepResult struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// InstallJob tracks one run of the multi-step remote install protocol.
type InstallJob struct {
	ID          string       `json:"id"`
	Identity    string       `json:"identity"`
	State       InstallState `json:"state"`
	CurrentStep int          `json:"current_step"`
	TotalSteps  int          `json:"total_steps"`
	Steps       []StepResult `json:"steps,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at,omitempty"`
	// FailureContext holds the trailing log lines captured when the job
	// terminates as failed.
	FailureContext []string `json:"failure_context,omitempty"`
}
