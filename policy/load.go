// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Parse strips JSONC comments and trailing commas from data, decodes the
// camelCase policy document, and validates it. A document that fails
// validation is rejected whole; no fields are applied.
func Parse(data []byte) (*Policy, error) {
	stripped := jsonc.ToJSON(data)

	var parsed Policy
	if err := json.Unmarshal(stripped, &parsed); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ReadFile reads a JSONC policy document from disk and parses it.
func ReadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return parsed, nil
}
