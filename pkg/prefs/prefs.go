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

// Package prefs persists operator preferences outside the core state
// model: UI language and the default SSH key path.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carverauto/bjorn-manager/pkg/logger"
)

const defaultLanguage = "en"

// Preferences are the persisted operator settings.
type Preferences struct {
	Language       string `json:"language"`
	DefaultKeyPath string `json:"default_key_path,omitempty"`
}

// Store reads and writes preferences as a JSON file.
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a store under the user config directory.
func NewStore(log logger.Logger) (*Store, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}

	return NewStoreAt(filepath.Join(configDir, "bjorn-manager", "prefs.json"), log), nil
}

// NewStoreAt creates a store over an explicit file path.
func NewStoreAt(path string, log logger.Logger) *Store {
	return &Store{path: path, logger: log}
}

// Load reads preferences. A missing file yields defaults, not an error.
func (s *Store) Load() (Preferences, error) {
	prefs := Preferences{Language: defaultLanguage}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return prefs, nil
		}

		return prefs, fmt.Errorf("read preferences %s: %w", s.path, err)
	}

	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{Language: defaultLanguage}, fmt.Errorf("parse preferences %s: %w", s.path, err)
	}

	if prefs.Language == "" {
		prefs.Language = defaultLanguage
	}

	return prefs, nil
}

// Save writes preferences atomically: temp file in the same directory,
// then rename.
func (s *Store) Save(prefs Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "prefs-*.json")
	if err != nil {
		return fmt.Errorf("create temp preferences: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("write preferences: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close preferences: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace preferences: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Msg("Preferences saved")

	return nil
}
