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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/carverauto/bjorn-manager/pkg/directory"
	"github.com/carverauto/bjorn-manager/pkg/install"
	"github.com/carverauto/bjorn-manager/pkg/logger"
	"github.com/carverauto/bjorn-manager/pkg/models"
	"github.com/carverauto/bjorn-manager/pkg/prefs"
	"github.com/carverauto/bjorn-manager/pkg/script"
	"github.com/carverauto/bjorn-manager/pkg/session"
)

// command is the envelope the UI sends over the websocket.
type command struct {
	Command     string              `json:"command"`
	Identity    string              `json:"identity,omitempty"`
	Address     string              `json:"address,omitempty"`
	Unit        string              `json:"unit,omitempty"`
	Driver      string              `json:"driver,omitempty"`
	BundlePath  string              `json:"bundle_path,omitempty"`
	Credentials *models.Credentials `json:"credentials,omitempty"`
	Options     json.RawMessage     `json:"options,omitempty"`
	Script      *script.Config      `json:"script,omitempty"`
	Prefs       *prefs.Preferences  `json:"prefs,omitempty"`
}

// bridge pumps relay deliveries to connected UI clients and dispatches
// their commands onto the core. No business logic lives here.
type bridge struct {
	logger     logger.Logger
	directory  *directory.Directory
	sessions   *session.Manager
	installs   *install.Orchestrator
	prefsStore *prefs.Store
	pruneStale bool

	upgrader websocket.Upgrader

	// markReady is wired to relay.MarkReady and fired when the first UI
	// client attaches, releasing buffered events.
	markReady func()
	readyOnce sync.Once

	mu      sync.Mutex
	conns   map[*websocket.Conn]chan []byte
	cancels map[string]context.CancelFunc
}

// newBridge builds the hub. The sessions and installs fields are assigned
// by the caller after the relay exists; deliver depends on the bridge and
// those depend on the relay.
func newBridge(log logger.Logger, dir *directory.Directory, store *prefs.Store, pruneStale bool) *bridge {
	return &bridge{
		logger:     log,
		directory:  dir,
		prefsStore: store,
		pruneStale: pruneStale,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:      make(map[*websocket.Conn]chan []byte),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// deliver is the relay's delivery callback; it runs on the relay's single
// consumer goroutine.
func (b *bridge) deliver(ev models.Event) {
	b.broadcast(map[string]interface{}{"type": "event", "event": ev})
}

func (b *bridge) broadcast(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode UI message")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for conn, out := range b.conns {
		select {
		case out <- data:
		default:
			// Slow client; drop rather than stall delivery for everyone.
			b.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("UI client lagging, message dropped")
		}
	}
}

func (b *bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	out := make(chan []byte, 256)

	b.mu.Lock()
	b.conns[conn] = out
	b.mu.Unlock()

	b.readyOnce.Do(b.markReady)

	go func() {
		for data := range out {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	b.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("UI client connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			b.send(out, errorMsg("malformed command: "+err.Error()))
			continue
		}

		b.dispatch(r.Context(), out, cmd)
	}

	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()

	close(out)
	_ = conn.Close()

	b.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("UI client disconnected")
}

func (b *bridge) send(out chan<- []byte, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case out <- data:
	default:
	}
}

func errorMsg(message string) map[string]interface{} {
	return map[string]interface{}{"type": "error", "message": message}
}

func (b *bridge) dispatch(ctx context.Context, out chan<- []byte, cmd command) {
	switch cmd.Command {
	case "snapshot":
		b.send(out, map[string]interface{}{"type": "snapshot", "devices": b.snapshot()})
	case "connect":
		b.handleConnect(cmd, out)
	case "disconnect":
		b.cancelOp("install:" + cmd.Identity)
		b.cancelOp("tail:" + cmd.Identity)
		b.sessions.Disconnect(cmd.Identity)
		b.installs.Forget(cmd.Identity)
	case "install":
		b.handleInstall(cmd, out)
	case "abort_install":
		b.cancelOp("install:" + cmd.Identity)
	case "tail_log":
		b.handleTailLog(cmd, out)
	case "stop_tail":
		b.cancelOp("tail:" + cmd.Identity)
	case "restart_service":
		b.withRemote(cmd.Identity, out, func(remote install.Remote) error {
			return b.installs.RestartService(ctx, remote)
		})
	case "reboot":
		b.withRemote(cmd.Identity, out, func(remote install.Remote) error {
			return b.installs.Reboot(ctx, remote)
		})
	case "change_display_driver":
		driver := cmd.Driver
		b.withRemote(cmd.Identity, out, func(remote install.Remote) error {
			return b.installs.ChangeDisplayDriver(ctx, remote, driver)
		})
	case "deploy_debug_bundle":
		bundle := cmd.BundlePath
		b.withRemote(cmd.Identity, out, func(remote install.Remote) error {
			return b.installs.DeployDebugBundle(remote, bundle)
		})
	case "get_prefs":
		p, err := b.prefsStore.Load()
		if err != nil {
			b.send(out, errorMsg(err.Error()))
			return
		}

		b.send(out, map[string]interface{}{"type": "prefs", "prefs": p})
	case "set_prefs":
		if cmd.Prefs == nil {
			b.send(out, errorMsg("set_prefs requires prefs"))
			return
		}

		if err := b.prefsStore.Save(*cmd.Prefs); err != nil {
			b.send(out, errorMsg(err.Error()))
		}
	default:
		b.send(out, errorMsg("unknown command "+cmd.Command))
	}
}

func (b *bridge) snapshot() []*models.DeviceRecord {
	records := b.directory.Snapshot()
	if !b.pruneStale {
		return records
	}

	kept := records[:0]

	for _, record := range records {
		if !record.AllStale() {
			kept = append(kept, record)
		}
	}

	return kept
}

func (b *bridge) handleConnect(cmd command, out chan<- []byte) {
	if cmd.Identity == "" || cmd.Address == "" || cmd.Credentials == nil {
		b.send(out, errorMsg("connect requires identity, address and credentials"))
		return
	}

	creds := *cmd.Credentials

	go func() {
		// Outcome arrives through sessionStateChanged events.
		if _, err := b.sessions.Connect(context.Background(), cmd.Identity, cmd.Address, creds); err != nil {
			b.logger.Warn().Err(err).Str("identity", cmd.Identity).Msg("Connect failed")
		}
	}()
}

func (b *bridge) handleInstall(cmd command, out chan<- []byte) {
	s, ok := b.sessions.Get(cmd.Identity)
	if !ok || s.State() != models.SessionConnected {
		b.send(out, errorMsg("device is not connected"))
		return
	}

	var opts models.InstallOptions

	if len(cmd.Options) > 0 {
		decoded, err := models.DecodeInstallOptions(cmd.Options)
		if err != nil {
			b.send(out, errorMsg(err.Error()))
			return
		}

		opts = *decoded
	}

	var scriptCfg script.Config
	if cmd.Script != nil {
		scriptCfg = *cmd.Script
	}

	composed := script.Compose(scriptCfg)

	result := script.Validate(composed)
	if !result.Ok {
		b.send(out, errorMsg("composed script failed validation: "+result.Diagnostics[0].Message))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.storeCancel("install:"+cmd.Identity, cancel)

	go func() {
		defer b.cancelOp("install:" + cmd.Identity)

		assets := install.Assets{Script: []byte(result.Normalized)}

		if _, err := b.installs.Run(ctx, install.SessionRemote{Session: s}, assets, opts); err != nil {
			b.logger.Warn().Err(err).Str("identity", cmd.Identity).Msg("Install rejected")
		}
	}()
}

func (b *bridge) handleTailLog(cmd command, out chan<- []byte) {
	s, ok := b.sessions.Get(cmd.Identity)
	if !ok || s.State() != models.SessionConnected {
		b.send(out, errorMsg("device is not connected"))
		return
	}

	unit := cmd.Unit
	if unit == "" {
		unit = "bjorn.service"
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.storeCancel("tail:"+cmd.Identity, cancel)

	st, err := s.TailLog(ctx, unit)
	if err != nil {
		b.cancelOp("tail:" + cmd.Identity)
		b.send(out, errorMsg(err.Error()))

		return
	}

	go func() {
		defer b.cancelOp("tail:" + cmd.Identity)

		for line := range st.Lines() {
			b.broadcast(map[string]interface{}{
				"type":     "log_line",
				"identity": cmd.Identity,
				"unit":     unit,
				"line":     line,
			})
		}

		_ = st.Wait()
	}()
}

func (b *bridge) withRemote(identity string, out chan<- []byte, op func(install.Remote) error) {
	s, ok := b.sessions.Get(identity)
	if !ok || s.State() != models.SessionConnected {
		b.send(out, errorMsg("device is not connected"))
		return
	}

	go func() {
		if err := op(install.SessionRemote{Session: s}); err != nil {
			b.logger.Warn().Err(err).Str("identity", identity).Msg("Device operation failed")
			b.broadcast(errorMsg(err.Error()))
		}
	}()
}

func (b *bridge) storeCancel(key string, cancel context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.cancels[key]; ok {
		existing()
	}

	b.cancels[key] = cancel
}

func (b *bridge) cancelOp(key string) {
	b.mu.Lock()
	cancel, ok := b.cancels[key]
	delete(b.cancels, key)
	b.mu.Unlock()

	if ok {
		cancel()
	}
}
