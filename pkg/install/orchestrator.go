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

// Package install drives the multi-step remote install protocol over a
// device session: asset upload, sudo invocation with the env-var contract,
// progress parsing and terminal-state reporting.
package install

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
	"github.com/carverauto/bjorn-manager/pkg/session"
)

// ErrInstallActive rejects a second install on a device that already has
// one pending or running.
var ErrInstallActive = errors.New("install already in progress for device")

const (
	scriptName           = "install_bjorn.sh"
	serviceUnit          = "bjorn.service"
	sharedConfigPath     = "/home/bjorn/Bjorn/config/shared_config.json"
	debugBundleName      = "Bjorn.zip"
	defaultRemoteDir     = "bjorn-install"
	defaultFailureLines  = 20
	defaultDisplayDriver = "epd2in13_V4"
)

// DisplayDrivers are the e-paper panel variants the installer knows about,
// in menu order.
var DisplayDrivers = []string{
	"epd2in13",
	"epd2in13_V2",
	"epd2in13_V3",
	"epd2in13_V4",
	"epd2in7",
}

// EventSink receives install progress and log events. Satisfied by
// relay.Relay.
type EventSink interface {
	Publish(models.Event)
}

// Config controls orchestrator behavior.
type Config struct {
	// RemoteDir is where assets land on the device, relative to the login
	// user's home.
	RemoteDir string `json:"remote_dir,omitempty"`
	// FailureContextLines is how many trailing output lines are kept as
	// context when a job fails.
	FailureContextLines int `json:"failure_context_lines,omitempty"`
}

func (c *Config) setDefaults() {
	if c.RemoteDir == "" {
		c.RemoteDir = defaultRemoteDir
	}

	if c.FailureContextLines <= 0 {
		c.FailureContextLines = defaultFailureLines
	}
}

// Assets is what Run uploads before invoking the remote entry point. Libs
// holds the lib/*.sh step modules keyed by file name; local and debug mode
// runs may leave it empty and rely on the pre-placed payload.
type Assets struct {
	Script []byte
	Libs   map[string][]byte
}

// Orchestrator runs install jobs, one at a time per device.
type Orchestrator struct {
	config Config
	events EventSink
	logger logger.Logger

	mu   sync.Mutex
	jobs map[string]*models.InstallJob
}

// New creates an install orchestrator.
func New(cfg Config, events EventSink, log logger.Logger) *Orchestrator {
	cfg.setDefaults()

	return &Orchestrator{
		config: cfg,
		events: events,
		logger: log,
		jobs:   make(map[string]*models.InstallJob),
	}
}

// Job returns the tracked job for a device, if any.
func (o *Orchestrator) Job(identity string) (*models.InstallJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs[identity]

	return job, ok
}

// Forget drops the tracked job for a device. Called when the session goes
// away; a job cannot outlive its connection.
func (o *Orchestrator) Forget(identity string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.jobs, identity)
}

// Run executes one install end to end and returns the finished job. It
// blocks until the remote script exits, the context is cancelled, or the
// stream watchdog fires; run it from its own goroutine.
func (o *Orchestrator) Run(ctx context.Context, remote Remote, assets Assets, opts models.InstallOptions) (*models.InstallJob, error) {
	job := &models.InstallJob{
		ID:        uuid.New().String(),
		Identity:  remote.Identity(),
		State:     models.InstallPending,
		StartedAt: time.Now(),
	}

	if err := o.track(job); err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("identity", job.Identity).
		Str("job_id", job.ID).
		Str("mode", string(opts.Mode)).
		Msg("Install started")

	if err := o.uploadAssets(remote, assets); err != nil {
		o.finish(job, models.InstallFailed, err.Error(), nil)
		return job, nil
	}

	st, err := remote.SudoExecute(ctx, o.buildCommand(opts))
	if err != nil {
		o.finish(job, models.InstallFailed, err.Error(), nil)
		return job, nil
	}

	job.State = models.InstallRunning

	tail := newTailBuffer(o.config.FailureContextLines)

	var progress Progress

	for line := range st.Lines() {
		tail.add(line)

		next, announced := ParseLine(progress, line)
		progress = next

		if announced {
			job.CurrentStep = progress.Step
			job.TotalSteps = progress.Total
			job.Steps = append(job.Steps, models.StepResult{Index: progress.Step, Label: progress.Label})

			o.events.Publish(models.Event{
				Type:      models.EventInstallProgress,
				Identity:  job.Identity,
				StepIndex: progress.Step,
				StepTotal: progress.Total,
				Label:     progress.Label,
			})

			continue
		}

		o.events.Publish(models.Event{
			Type:     models.EventInstallLog,
			Identity: job.Identity,
			Line:     line,
		})
	}

	switch waitErr := st.Wait(); {
	case waitErr == nil:
		o.finish(job, models.InstallSucceeded, "", nil)
	case errors.Is(waitErr, session.ErrCancelled):
		o.finish(job, models.InstallAborted, waitErr.Error(), nil)
	default:
		o.finish(job, models.InstallFailed, waitErr.Error(), tail.lines())
	}

	return job, nil
}

// DeployDebugBundle places a zip bundle on the device for a later
// debug-mode install.
func (o *Orchestrator) DeployDebugBundle(remote Remote, localZip string) error {
	if err := remote.UploadFile(localZip, debugBundleName, 0o644); err != nil {
		return err
	}

	o.logger.Info().
		Str("identity", remote.Identity()).
		Str("bundle", localZip).
		Msg("Debug bundle deployed")

	return nil
}

// RestartService restarts the bjorn unit on the device.
func (o *Orchestrator) RestartService(ctx context.Context, remote Remote) error {
	return o.runPrivileged(ctx, remote, "systemctl restart "+serviceUnit)
}

// ChangeDisplayDriver rewrites the panel variant in the device's shared
// config and restarts the service to pick it up. Only known variants are
// accepted; they are safe to interpolate verbatim.
func (o *Orchestrator) ChangeDisplayDriver(ctx context.Context, remote Remote, driver string) error {
	if !slices.Contains(DisplayDrivers, driver) {
		return fmt.Errorf("unknown display driver %q", driver)
	}

	command := fmt.Sprintf(
		`sed -i 's/"epd_type": *"[^"]*"/"epd_type": "%s"/' %s && systemctl restart %s`,
		driver, sharedConfigPath, serviceUnit)

	return o.runPrivileged(ctx, remote, command)
}

// Reboot reboots the device. The SSH connection dropping mid-command is
// the success mode here, so stream errors are not surfaced.
func (o *Orchestrator) Reboot(ctx context.Context, remote Remote) error {
	st, err := remote.SudoExecute(ctx, "reboot")
	if err != nil {
		return err
	}

	for range st.Lines() {
	}

	if waitErr := st.Wait(); waitErr != nil {
		o.logger.Debug().
			Err(waitErr).
			Str("identity", remote.Identity()).
			Msg("Connection ended during reboot")
	}

	return nil
}

func (o *Orchestrator) track(job *models.InstallJob) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.jobs[job.Identity]; ok && !existing.State.Terminal() {
		return ErrInstallActive
	}

	o.jobs[job.Identity] = job

	return nil
}

func (o *Orchestrator) uploadAssets(remote Remote, assets Assets) error {
	if err := remote.UploadText(path.Join(o.config.RemoteDir, scriptName), assets.Script, 0o755); err != nil {
		return err
	}

	for name, content := range assets.Libs {
		if err := remote.UploadText(path.Join(o.config.RemoteDir, "lib", name), content, 0o644); err != nil {
			return err
		}
	}

	return nil
}

// buildCommand maps install options onto the env-var contract the remote
// entry point expects, plus the positional mode flag. SudoExecute supplies
// the sudo prefix and the password.
func (o *Orchestrator) buildCommand(opts models.InstallOptions) string {
	driver := opts.DisplayDriver
	if driver == "" {
		driver = defaultDisplayDriver
	}

	env := []string{
		"NON_INTERACTIVE=1",
		"EPD_VERSION=" + shellQuote(driver),
	}

	if opts.ManualMode {
		env = append(env, "MANUAL_MODE=1")
	}

	if opts.WebUIAuth {
		env = append(env,
			"enable_auth=true",
			"WEBUI_PASSWORD="+shellQuote(opts.WebUIPassword),
			"WEBUI_PASSWORD_CONFIRM="+shellQuote(opts.WebUIPassword))
	}

	if opts.BluetoothMAC != "" {
		env = append(env, "BLUETOOTH_MAC_ADDRESS="+shellQuote(opts.BluetoothMAC))
	}

	if opts.GitBranch != "" {
		env = append(env, "GIT_BRANCH="+shellQuote(opts.GitBranch))
	}

	mode := opts.Mode
	if mode == "" {
		mode = models.ModeOnline
	}

	return "env " + strings.Join(env, " ") +
		" bash " + path.Join(o.config.RemoteDir, scriptName) +
		" -" + string(mode)
}

func (o *Orchestrator) runPrivileged(ctx context.Context, remote Remote, command string) error {
	st, err := remote.SudoExecute(ctx, command)
	if err != nil {
		return err
	}

	for range st.Lines() {
	}

	return st.Wait()
}

func (o *Orchestrator) finish(job *models.InstallJob, state models.InstallState, message string, tail []string) {
	job.State = state
	job.FinishedAt = time.Now()
	job.FailureContext = tail

	o.logger.Info().
		Str("identity", job.Identity).
		Str("job_id", job.ID).
		Str("outcome", string(state)).
		Msg("Install finished")

	o.events.Publish(models.Event{
		Type:     models.EventInstallFinished,
		Identity: job.Identity,
		Outcome:  state,
		Message:  message,
	})
}

// shellQuote single-quotes a value for safe interpolation into the remote
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tailBuffer keeps the last N lines seen.
type tailBuffer struct {
	limit int
	buf   []string
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) add(line string) {
	b.buf = append(b.buf, line)
	if len(b.buf) > b.limit {
		b.buf = b.buf[1:]
	}
}

func (b *tailBuffer) lines() []string {
	out := make([]string, len(b.buf))
	copy(out, b.buf)

	return out
}
