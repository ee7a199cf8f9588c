/*-------------------------------------------------------------------------
 *
 * log_context.go
 *    Log context helpers for structured logging
 *
 * Provides helpers for consistent structured logging with request_id,
 * approval_id, delivery_id, rule_id fields across all components.
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/metrics/log_context.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	approvalIDKey contextKey = "approval_id"
	deliveryIDKey contextKey = "delivery_id"
	ruleIDKey     contextKey = "rule_id"
)

/* WithRequestIDLogContext adds request ID to log context */
func WithRequestIDLogContext(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

/* WithApprovalIDLogContext adds approval ID to log context */
func WithApprovalIDLogContext(ctx context.Context, approvalID uuid.UUID) context.Context {
	return context.WithValue(ctx, approvalIDKey, approvalID.String())
}

/* WithDeliveryIDLogContext adds delivery ID to log context */
func WithDeliveryIDLogContext(ctx context.Context, deliveryID uuid.UUID) context.Context {
	return context.WithValue(ctx, deliveryIDKey, deliveryID.String())
}

/* WithRuleIDLogContext adds rule ID to log context */
func WithRuleIDLogContext(ctx context.Context, ruleID int64) context.Context {
	return context.WithValue(ctx, ruleIDKey, ruleID)
}

/* GetRequestIDFromContext gets request ID from context */
func GetRequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

/* LoggerFromContext creates a zerolog logger with fields from context */
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	logger := log.Logger

	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	if id, ok := ctx.Value(approvalIDKey).(string); ok && id != "" {
		logger = logger.With().Str("approval_id", id).Logger()
	}
	if id, ok := ctx.Value(deliveryIDKey).(string); ok && id != "" {
		logger = logger.With().Str("delivery_id", id).Logger()
	}
	if id, ok := ctx.Value(ruleIDKey).(int64); ok {
		logger = logger.With().Int64("rule_id", id).Logger()
	}

	return logger
}

/* LogWithContext logs a message with context fields */
func LogWithContext(ctx context.Context, level zerolog.Level, message string, fields map[string]interface{}) {
	logger := LoggerFromContext(ctx)
	event := logger.WithLevel(level)

	for key, value := range fields {
		event = event.Interface(key, value)
	}

	event.Msg(message)
}

/* DebugWithContext logs a debug message with context */
func DebugWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.DebugLevel, message, fields)
}

/* InfoWithContext logs an info message with context */
func InfoWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.InfoLevel, message, fields)
}

/* WarnWithContext logs a warning message with context */
func WarnWithContext(ctx context.Context, message string, fields map[string]interface{}) {
	LogWithContext(ctx, zerolog.WarnLevel, message, fields)
}

/* ErrorWithContext logs an error message with context */
func ErrorWithContext(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogWithContext(ctx, zerolog.ErrorLevel, message, fields)
}
