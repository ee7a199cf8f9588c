/*-------------------------------------------------------------------------
 *
 * errors.go
 *    API error types and HTTP status mapping
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/internal/api/errors.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"errors"
	"net/http"

	"github.com/outreachforge/approvald/internal/approval"
	"github.com/outreachforge/approvald/internal/webhooks"
)

/* APIError carries an HTTP status and request context alongside the
 * underlying error */
type APIError struct {
	Code      int
	Message   string
	Err       error
	RequestID string
	Endpoint  string
	Method    string
	Details   map[string]interface{}
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

/* ErrorResponse is the JSON body returned for every error */
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    int                    `json:"code"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func NewErrorWithContext(code int, message string, err error, requestID, endpoint, method string, details map[string]interface{}) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Err:       err,
		RequestID: requestID,
		Endpoint:  endpoint,
		Method:    method,
		Details:   details,
	}
}

/* mapDomainError translates orchestrator and delivery errors into HTTP
 * statuses. A lost resolution race is a 409, not a 500: the caller did
 * nothing wrong, the approval just got resolved first. */
func mapDomainError(err error, requestID, endpoint, method string) *APIError {
	code := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, approval.ErrApprovalNotFound):
		code = http.StatusNotFound
		message = "approval request not found"
	case errors.Is(err, approval.ErrApprovalAlreadyProcessed):
		code = http.StatusConflict
		message = "approval request already processed"
	case errors.Is(err, approval.ErrInvalidRequest):
		code = http.StatusBadRequest
		message = "invalid request"
	case errors.Is(err, approval.ErrApprovalNotResolved):
		code = http.StatusConflict
		message = "approval request is not resolved yet"
	case errors.Is(err, webhooks.ErrDeliveryNotFound):
		code = http.StatusNotFound
		message = "webhook delivery not found"
	case errors.Is(err, webhooks.ErrDeliveryNotRequeueable):
		code = http.StatusConflict
		message = "webhook delivery is not in a requeueable state"
	}

	return NewErrorWithContext(code, message, err, requestID, endpoint, method, nil)
}
