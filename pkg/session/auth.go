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

package session

import (
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/carverauto/bjorn-manager/pkg/models"
)

// defaultKeyNames are the conventional private key files tried, in order,
// when the credentials do not pin an explicit key path.
var defaultKeyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// authMethods builds the ordered auth chain for a connect attempt: public
// keys first, password as the fallback. Key files that are missing or
// unparseable are skipped silently; only an empty chain is an error.
func authMethods(creds models.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if signers := loadSigners(creds.KeyPath); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}

	if len(methods) == 0 {
		return nil, ErrNoCredentials
	}

	return methods, nil
}

func loadSigners(explicitPath string) []ssh.Signer {
	var paths []string

	if explicitPath != "" {
		paths = []string{explicitPath}
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}

		for _, name := range defaultKeyNames {
			paths = append(paths, filepath.Join(home, ".ssh", name))
		}
	}

	var signers []ssh.Signer

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			continue
		}

		signers = append(signers, signer)
	}

	return signers
}
