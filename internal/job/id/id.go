// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

const prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-0b6b2a7e-5d1c-4f0e-9a57-3f2c8e1d4b6a
func Generate() string {
	return prefix + uuid.NewString()
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}
