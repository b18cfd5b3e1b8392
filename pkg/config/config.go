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

// Package config loads JSON configuration files into typed structs.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/carverauto/bjorn-manager/pkg/logger"
)

// Validator is implemented by config structs that check themselves after
// loading.
type Validator interface {
	Validate() error
}

// Loader reads JSON config files.
type Loader struct {
	logger logger.Logger
}

// NewLoader creates a config loader.
func NewLoader(log logger.Logger) *Loader {
	return &Loader{logger: log}
}

// LoadAndValidate reads a JSON file into dst and runs its Validate hook
// when it has one.
func (l *Loader) LoadAndValidate(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	if v, ok := dst.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid configuration in '%s': %w", path, err)
		}
	}

	l.logger.Debug().Str("path", path).Msg("Configuration loaded")

	return nil
}
