// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package casenumber generates human-readable conversation case numbers:
// two uppercase letters followed by six digits.
package casenumber

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"

	// DefaultMaxAttempts bounds collision retries in Next.
	DefaultMaxAttempts = 25
)

var pattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{6}$`)

// ErrExhausted is returned when every attempt collided.
var ErrExhausted = errors.New("no free case number")

// Valid reports whether s is a well-formed case number.
func Valid(s string) bool { return pattern.MatchString(s) }

// Generate returns a random case number. Uniqueness is not implied.
func Generate() string {
	b := make([]byte, 0, 8)
	for i := 0; i < 2; i++ {
		b = append(b, pick(letters))
	}
	for i := 0; i < 6; i++ {
		b = append(b, pick(digits))
	}
	return string(b)
}

func pick(alphabet string) byte {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
	if err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("casenumber: read random: %v", err))
	}
	return alphabet[n.Int64()]
}

// ExistsFunc reports whether a case number is already taken.
type ExistsFunc func(ctx context.Context, caseNumber string) (bool, error)

// Generator retries generation until exists reports a free number.
// The zero value is ready to use.
type Generator struct {
	MaxAttempts int
	// Rand overrides Generate, for tests.
	Rand func() string
}

// Next returns a case number that exists reported as free. The caller's
// insert must still handle a unique-constraint conflict, since a
// concurrent writer can claim the same number after the check.
func (g Generator) Next(ctx context.Context, exists ExistsFunc) (string, error) {
	attempts := g.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	gen := g.Rand
	if gen == nil {
		gen = Generate
	}

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := gen()
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check case number %s: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, attempts)
}
