/*-------------------------------------------------------------------------
 *
 * signature_test.go
 *    Tests for webhook payload authentication
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/security/signature_test.go
 *
 *-------------------------------------------------------------------------
 */

package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

/* TestSignDeterministic verifies identical inputs always produce the same
 * signature, which is what lets stored signatures be resent on retry */
func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"approval_id":"a1","status":"approved"}`)

	first := Sign(payload, "secret-a")
	second := Sign(payload, "secret-a")
	if first != second {
		t.Errorf("Expected deterministic signature, got %s and %s", first, second)
	}

	if len(first) != 64 {
		t.Errorf("Expected 64 hex chars for HMAC-SHA256, got %d", len(first))
	}
	if strings.ToLower(first) != first {
		t.Error("Expected lowercase hex signature")
	}
}

func TestSignSecretSensitivity(t *testing.T) {
	payload := []byte("payload")

	if Sign(payload, "secret-a") == Sign(payload, "secret-b") {
		t.Error("Expected different secrets to produce different signatures")
	}
	if Sign([]byte("payload"), "s") == Sign([]byte("payload2"), "s") {
		t.Error("Expected different payloads to produce different signatures")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"event":"approval.approved"}`)
	sig := Sign(payload, "secret")

	if !Verify(payload, sig, "secret") {
		t.Error("Expected valid signature to verify")
	}
	if Verify(payload, sig, "other-secret") {
		t.Error("Expected verification to fail under a different secret")
	}
	if Verify([]byte("tampered"), sig, "secret") {
		t.Error("Expected verification to fail for a tampered payload")
	}
	if Verify(payload, "", "secret") {
		t.Error("Expected empty signature to fail")
	}
}

func TestVerifyWithTimestamp(t *testing.T) {
	payload := []byte("payload")
	secret := "secret"
	sig := Sign(payload, secret)
	now := time.Now().Unix()

	if err := VerifyWithTimestamp(payload, sig, now, secret, DefaultMaxAge); err != nil {
		t.Errorf("Expected fresh signature to verify, got %v", err)
	}

	/* Missing pieces are rejected before any crypto work */
	if err := VerifyWithTimestamp(payload, "", now, secret, DefaultMaxAge); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("Expected ErrMissingSignature, got %v", err)
	}
	if err := VerifyWithTimestamp(payload, sig, 0, secret, DefaultMaxAge); !errors.Is(err, ErrMissingTimestamp) {
		t.Errorf("Expected ErrMissingTimestamp, got %v", err)
	}

	/* Replay protection */
	stale := time.Now().Add(-10 * time.Minute).Unix()
	if err := VerifyWithTimestamp(payload, sig, stale, secret, DefaultMaxAge); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("Expected ErrStaleTimestamp, got %v", err)
	}

	future := time.Now().Add(5 * time.Minute).Unix()
	if err := VerifyWithTimestamp(payload, sig, future, secret, DefaultMaxAge); !errors.Is(err, ErrFutureTimestamp) {
		t.Errorf("Expected ErrFutureTimestamp, got %v", err)
	}

	/* Valid timestamp but wrong signature */
	if err := VerifyWithTimestamp(payload, Sign(payload, "wrong"), now, secret, DefaultMaxAge); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyWithTimestampClockSkew(t *testing.T) {
	payload := []byte("payload")
	secret := "secret"
	sig := Sign(payload, secret)

	/* A few seconds ahead is tolerated */
	slightlyAhead := time.Now().Add(10 * time.Second).Unix()
	if err := VerifyWithTimestamp(payload, sig, slightlyAhead, secret, DefaultMaxAge); err != nil {
		t.Errorf("Expected small clock skew to be tolerated, got %v", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	secret, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("Failed to generate secret: %v", err)
	}
	if len(secret) != 64 {
		t.Errorf("Expected 64 hex chars for 32 bytes, got %d", len(secret))
	}

	other, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("Failed to generate secret: %v", err)
	}
	if secret == other {
		t.Error("Expected distinct secrets on consecutive generations")
	}
}
