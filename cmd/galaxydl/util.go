package main

import (
	"crypto/sha256"
	"encoding/hex"
	"runtime"

	"go.uber.org/zap"
)

// sha256Hex hashes a beta branch password before it goes on the wire
// (spec.md §6 "branch_password_sha256").
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func numCPU() int {
	return runtime.NumCPU()
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}
