/*-------------------------------------------------------------------------
 *
 * signature.go
 *    Webhook payload authentication
 *
 * Provides HMAC-SHA256 payload signing, constant-time verification, and
 * timestamped verification with replay protection. Verification fails
 * closed: any missing or malformed input rejects the payload.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/security/signature.go
 *
 *-------------------------------------------------------------------------
 */

package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

/* DefaultMaxAge is the default replay protection window */
const DefaultMaxAge = 300 * time.Second

var (
	ErrMissingSignature = errors.New("signature is missing")
	ErrMissingTimestamp = errors.New("timestamp is missing")
	ErrFutureTimestamp  = errors.New("timestamp is in the future")
	ErrStaleTimestamp   = errors.New("timestamp is older than the allowed age")
	ErrBadSignature     = errors.New("signature verification failed")
)

/* Sign computes the hex-encoded HMAC-SHA256 of payload under secret */
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

/* Verify checks a signature in constant time */
func Verify(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

/* VerifyWithTimestamp checks signature presence, timestamp freshness, and
 * the signature itself, cheapest and clearest error first.
 *
 * timestamp is unix seconds as delivered in the X-Webhook-Timestamp header;
 * payloads older than maxAge are rejected to block replays. */
func VerifyWithTimestamp(payload []byte, signature string, timestamp int64, secret string, maxAge time.Duration) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if timestamp <= 0 {
		return ErrMissingTimestamp
	}

	now := time.Now()
	ts := time.Unix(timestamp, 0)

	/* Small allowance for clock skew between sender and receiver */
	if ts.After(now.Add(30 * time.Second)) {
		return fmt.Errorf("%w: timestamp=%d", ErrFutureTimestamp, timestamp)
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if now.Sub(ts) > maxAge {
		return fmt.Errorf("%w: age=%s, max_age=%s", ErrStaleTimestamp, now.Sub(ts), maxAge)
	}

	if !Verify(payload, signature, secret) {
		return ErrBadSignature
	}
	return nil
}

/* GenerateSecret returns n cryptographically secure random bytes, hex encoded */
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = 32
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
