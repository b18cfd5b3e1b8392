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

// Package script renders and validates the remote installer script.
package script

import (
	"fmt"
	"strings"
)

// baseSteps is the number of fixed steps every composed installer has;
// custom snippets append to it.
const baseSteps = 8

// Snippet is one free-text custom step appended after the fixed sequence.
type Snippet struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

// Config selects what the composed installer does. The same config always
// renders to the same bytes; nothing time- or host-dependent enters the
// output.
type Config struct {
	AptPackages []string `json:"apt_packages,omitempty"`
	PipPackages []string `json:"pip_packages,omitempty"`

	EnableSPI       bool `json:"enable_spi,omitempty"`
	EnableI2C       bool `json:"enable_i2c,omitempty"`
	EnableBluetooth bool `json:"enable_bluetooth,omitempty"`
	EnableUSBGadget bool `json:"enable_usb_gadget,omitempty"`

	Snippets []Snippet `json:"snippets,omitempty"`
}

// TotalSteps reports how many steps the composed script will announce.
func (c Config) TotalSteps() int {
	return baseSteps + len(c.Snippets)
}

// Compose renders a complete installer script. Step announcements use the
// exact format the progress parser recognizes.
func Compose(cfg Config) string {
	total := cfg.TotalSteps()

	var b strings.Builder

	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("set -euo pipefail\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "TOTAL_STEPS=%d\n", total)
	b.WriteString("\n")
	b.WriteString("announce_step() {\n")
	b.WriteString("  echo \"Step $1 of ${TOTAL_STEPS}: $2\"\n")
	b.WriteString("}\n")

	step := 0
	announce := func(label string) {
		step++

		b.WriteString("\n")
		fmt.Fprintf(&b, "announce_step %d %q\n", step, label)
	}

	announce("Updating package index")
	b.WriteString("apt-get update\n")

	announce("Upgrading system packages")
	b.WriteString("apt-get -y upgrade\n")

	announce("Installing system packages")

	if len(cfg.AptPackages) > 0 {
		fmt.Fprintf(&b, "apt-get -y install %s\n", strings.Join(cfg.AptPackages, " "))
	} else {
		b.WriteString(": # no system packages requested\n")
	}

	announce("Installing Python packages")

	if len(cfg.PipPackages) > 0 {
		fmt.Fprintf(&b, "pip install --break-system-packages %s\n", strings.Join(cfg.PipPackages, " "))
	} else {
		b.WriteString(": # no python packages requested\n")
	}

	announce("Configuring hardware interfaces")

	if cfg.EnableSPI {
		b.WriteString("raspi-config nonint do_spi 0\n")
	}

	if cfg.EnableI2C {
		b.WriteString("raspi-config nonint do_i2c 0\n")
	}

	if !cfg.EnableSPI && !cfg.EnableI2C {
		b.WriteString(": # no interface changes requested\n")
	}

	announce("Configuring connectivity")

	if cfg.EnableBluetooth {
		b.WriteString("systemctl enable --now bluetooth\n")
	}

	if cfg.EnableUSBGadget {
		b.WriteString("grep -q dtoverlay=dwc2 /boot/config.txt || echo dtoverlay=dwc2 >> /boot/config.txt\n")
	}

	if !cfg.EnableBluetooth && !cfg.EnableUSBGadget {
		b.WriteString(": # no connectivity changes requested\n")
	}

	announce("Installing bjorn service")
	b.WriteString("systemctl daemon-reload\n")
	b.WriteString("systemctl enable bjorn.service\n")

	announce("Finalizing")
	b.WriteString("apt-get -y autoremove\n")

	for _, snippet := range cfg.Snippets {
		announce(snippet.Title)
		b.WriteString(strings.TrimRight(snippet.Script, "\n"))
		b.WriteString("\n")
	}

	return b.String()
}
