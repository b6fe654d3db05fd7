package iamclient

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// TokenVerifier validates a raw access token and extracts claims without
// tying callers to a specific verification implementation. The codec
// implements it for local signature checks; RemoteVerifier calls the IAM
// server's verify endpoint.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*TokenClaims, error)
}

// TokenVerifierFunc adapts a function into a TokenVerifier.
type TokenVerifierFunc func(ctx context.Context, raw string) (*TokenClaims, error)

// Verify satisfies the TokenVerifier interface.
func (f TokenVerifierFunc) Verify(ctx context.Context, raw string) (*TokenClaims, error) {
	if f == nil {
		return nil, ErrTokenMalformed
	}
	return f(ctx, raw)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IAM "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IAM "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IAM "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IAM "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// TokenPreview returns a log-safe truncated view of a raw token. Raw tokens
// must never reach logs in full.
func TokenPreview(raw string) string {
	if raw == "" {
		return "<empty>"
	}
	if len(raw) <= 8 {
		return raw[:1] + "…"
	}
	return raw[:8] + "…"
}
