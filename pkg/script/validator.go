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

package script

import (
	"os/exec"
	"strings"
)

// Severity classifies a validation diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one finding about a script under validation.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Result is the outcome of validating a script. Normalized holds the text
// after non-fatal repairs (BOM strip, line-ending normalization) and is
// what should be uploaded.
type Result struct {
	Ok          bool
	Normalized  string
	Diagnostics []Diagnostic
}

const utf8BOM = "\ufeff"

// Validate checks a candidate installer script. Diagnostics report what
// was found: a missing interpreter directive is fatal, encoding repairs
// are not. When bash is on PATH a syntax dry-run (bash -n) is included;
// otherwise that check is skipped silently. Validate never panics and
// never executes the script.
func Validate(text string) Result {
	var result Result

	if strings.HasPrefix(text, utf8BOM) {
		text = strings.TrimPrefix(text, utf8BOM)
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Message:  "byte order mark removed",
		})
	}

	if strings.Contains(text, "\r\n") {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Message:  "windows line endings normalized",
		})
	}

	result.Normalized = text

	if !strings.HasPrefix(text, "#!") {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  "missing interpreter directive on first line",
		})
	} else if err := syntaxCheck(text); err != nil {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Severity: SeverityError,
			Message:  "syntax check failed: " + err.Error(),
		})
	}

	result.Ok = true

	for _, d := range result.Diagnostics {
		if d.Severity == SeverityError {
			result.Ok = false
			break
		}
	}

	return result
}

func syntaxCheck(text string) error {
	bash, err := exec.LookPath("bash")
	if err != nil {
		return nil
	}

	cmd := exec.Command(bash, "-n")
	cmd.Stdin = strings.NewReader(text)

	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return err
		}

		return &syntaxError{msg: msg}
	}

	return nil
}

type syntaxError struct {
	msg string
}

func (e *syntaxError) Error() string { return e.msg }
