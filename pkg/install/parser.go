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
	"regexp"
	"strconv"
	"strings"
)

// stepPattern recognizes the progress announcements the remote installer
// prints. The label after the colon is optional, and the announcement may
// be preceded by timestamps or other prefixes.
var stepPattern = regexp.MustCompile(`Step\s+(\d+)\s+of\s+(\d+)(?::\s*(.*))?`)

// Progress is the parser state: the most recently announced step.
type Progress struct {
	Step  int
	Total int
	Label string
}

// ParseLine advances progress by one output line and reports whether the
// line announced a step. Non-matching lines leave the state untouched.
// Regressing or out-of-order step numbers are last-write-wins, never an
// error; the remote script is trusted to know where it is.
func ParseLine(p Progress, line string) (Progress, bool) {
	m := stepPattern.FindStringSubmatch(line)
	if m == nil {
		return p, false
	}

	step, err := strconv.Atoi(m[1])
	if err != nil {
		return p, false
	}

	total, err := strconv.Atoi(m[2])
	if err != nil {
		return p, false
	}

	return Progress{
		Step:  step,
		Total: total,
		Label: strings.TrimSpace(m[3]),
	}, true
}
