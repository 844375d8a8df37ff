// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringRef points at a secret stored in the OS keyring
// (macOS Keychain, Secret Service, Windows Credential Manager).
type KeyringRef struct {
	Service string `yaml:"service"`
	User    string `yaml:"user"`
}

// SecretSource lists the places a secret may come from. The first non-empty
// source wins, in field order.
type SecretSource struct {
	Value   string
	Env     string
	File    string
	Keyring *KeyringRef
}

// ResolveSecret returns the secret from the first configured source. A
// configured source that yields nothing is an error; no configured source at
// all returns an empty string.
func ResolveSecret(src SecretSource) (string, error) {
	if src.Value != "" {
		return src.Value, nil
	}
	if src.Env != "" {
		value := strings.TrimSpace(os.Getenv(src.Env))
		if value == "" {
			return "", fmt.Errorf("secret env var not set: %s", src.Env)
		}
		return value, nil
	}
	if src.File != "" {
		content, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	if src.Keyring != nil {
		if src.Keyring.Service == "" || src.Keyring.User == "" {
			return "", errors.New("keyring reference needs both service and user")
		}
		value, err := keyring.Get(src.Keyring.Service, src.Keyring.User)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", fmt.Errorf("no keyring entry for service %q", src.Keyring.Service)
			}
			return "", fmt.Errorf("failed to read keyring: %w", err)
		}
		return value, nil
	}
	return "", nil
}
