// Package testutil holds small helpers shared across package tests.
package testutil

import (
	"io"
	"log/slog"
)

// QuietLogger returns a logger that discards everything. Tests pass it
// to components that log so test output stays readable.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RepeatingTokenGenerator returns the same run token every time.
//
// Unlike engine.FixedGenerator, which hands out a scripted sequence and
// panics when it runs dry, this generator never exhausts. Useful when a
// test re-executes the same machine and wants byte-identical run logs,
// or when exercising idempotent store writes.
//
// Thread-safety: stateless and safe for concurrent use.
type RepeatingTokenGenerator struct {
	token string
}

// NewRepeatingTokenGenerator creates a generator for the given token.
// An empty token defaults to "test-run".
func NewRepeatingTokenGenerator(token string) *RepeatingTokenGenerator {
	if token == "" {
		token = "test-run"
	}
	return &RepeatingTokenGenerator{token: token}
}

// Generate returns the fixed token. Implements engine.TokenGenerator.
func (g *RepeatingTokenGenerator) Generate() string {
	return g.token
}
