// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// ErrMissingSecret is returned when no API key could be found.
var ErrMissingSecret = errors.New("secret not configured")

// Secret holds an API key in an encrypted memguard enclave. The plaintext
// only exists in locked memory for the duration of Use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. The empty string yields nil.
func NewSecret(value string) *Secret {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	// NewEnclave wipes the slice it is given.
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// Use opens the enclave, passes the plaintext to fn, and destroys the
// plaintext buffer afterwards. fn must not retain the string.
func (s *Secret) Use(fn func(plaintext string)) error {
	if s == nil || s.enclave == nil {
		return ErrMissingSecret
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret enclave: %w", err)
	}
	defer buf.Destroy()
	fn(buf.String())
	return nil
}

// LoadSecret reads an API key from the environment variable, falling back
// to a container secret file such as /run/secrets/anthropic_api_key.
func LoadSecret(envVar, secretPath string) (*Secret, error) {
	if v := os.Getenv(envVar); strings.TrimSpace(v) != "" {
		return NewSecret(v), nil
	}
	if secretPath != "" {
		content, err := os.ReadFile(secretPath)
		if err == nil && len(strings.TrimSpace(string(content))) > 0 {
			slog.Info("Read API key from secret file", "path", secretPath)
			return NewSecret(string(content)), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", envVar, ErrMissingSecret)
}
