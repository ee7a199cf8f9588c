/*-------------------------------------------------------------------------
 *
 * client.go
 *    HTTP client for the approvald API
 *
 * Copyright (c) 2025-2026, OutreachForge, Inc. <eng@outreachforge.io>
 *
 * IDENTIFICATION
 *    approvald/cli/pkg/client/client.go
 *
 *-------------------------------------------------------------------------
 */

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/outreachforge/approvald/internal/utils"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Approval struct {
	ID               string                 `json:"id"`
	ApprovalType     string                 `json:"approval_type"`
	ResourceID       string                 `json:"resource_id"`
	ResourceData     map[string]interface{} `json:"resource_data,omitempty"`
	Status           string                 `json:"status"`
	ResolutionMethod string                 `json:"resolution_method,omitempty"`
	Score            *float64               `json:"score,omitempty"`
	Reviewer         string                 `json:"reviewer,omitempty"`
	Comments         string                 `json:"comments,omitempty"`
	EscalationLevel  int                    `json:"escalation_level"`
	EscalatedTo      string                 `json:"escalated_to,omitempty"`
	TimeoutAt        string                 `json:"timeout_at,omitempty"`
	CreatedAt        string                 `json:"created_at,omitempty"`
	ResolvedAt       string                 `json:"resolved_at,omitempty"`
}

type ApprovalList struct {
	Approvals []Approval `json:"approvals"`
	Count     int        `json:"count"`
}

type Statistics struct {
	Total              int64   `json:"total"`
	Pending            int64   `json:"pending"`
	Escalated          int64   `json:"escalated"`
	Approved           int64   `json:"approved"`
	Rejected           int64   `json:"rejected"`
	TimedOut           int64   `json:"timed_out"`
	AutoResolved       int64   `json:"auto_resolved"`
	ManualResolved     int64   `json:"manual_resolved"`
	AutoResolutionRate float64 `json:"auto_resolution_rate"`
}

type Delivery struct {
	ID            string `json:"id"`
	ApprovalID    string `json:"approval_id"`
	TargetURL     string `json:"target_url"`
	EventType     string `json:"event_type"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attempt_count"`
	MaxAttempts   int    `json:"max_attempts"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

type DeliveryList struct {
	Deliveries []Delivery `json:"deliveries"`
	Count      int        `json:"count"`
}

type BulkResult struct {
	Resolved []string          `json:"resolved"`
	Failed   map[string]string `json:"failed"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListPending(approvalType string, limit int) (*ApprovalList, error) {
	path := fmt.Sprintf("/api/v1/approvals/pending?limit=%d", limit)
	if approvalType != "" {
		path += "&type=" + approvalType
	}

	resp, err := c.makeRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list ApprovalList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &list, nil
}

func (c *Client) GetApproval(id string) (*Approval, error) {
	if !utils.IsValidUUID(id) {
		return nil, fmt.Errorf("invalid approval ID: %s", id)
	}

	resp, err := c.makeRequest("GET", "/api/v1/approvals/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var approval Approval
	if err := json.NewDecoder(resp.Body).Decode(&approval); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &approval, nil
}

func (c *Client) SubmitDecision(id string, approved bool, reviewer, comments string) (*Approval, error) {
	if !utils.IsValidUUID(id) {
		return nil, fmt.Errorf("invalid approval ID: %s", id)
	}

	body, err := json.Marshal(map[string]interface{}{
		"approved":       approved,
		"reviewer_email": reviewer,
		"comments":       comments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.makeRequest("POST", fmt.Sprintf("/api/v1/approvals/%s/decision", id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var approval Approval
	if err := json.NewDecoder(resp.Body).Decode(&approval); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &approval, nil
}

func (c *Client) BulkApprove(ids []string, reviewer, comments string) (*BulkResult, error) {
	for _, id := range ids {
		if !utils.IsValidUUID(id) {
			return nil, fmt.Errorf("invalid approval ID: %s", id)
		}
	}

	body, err := json.Marshal(map[string]interface{}{
		"approval_ids":   ids,
		"reviewer_email": reviewer,
		"comments":       comments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.makeRequest("POST", "/api/v1/approvals/bulk-approve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result BulkResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func (c *Client) GetStatistics() (*Statistics, error) {
	resp, err := c.makeRequest("GET", "/api/v1/approvals/stats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats Statistics
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &stats, nil
}

func (c *Client) ListDeadDeliveries(limit int) (*DeliveryList, error) {
	resp, err := c.makeRequest("GET", fmt.Sprintf("/api/v1/deliveries/dead?limit=%d", limit), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list DeliveryList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &list, nil
}

func (c *Client) RequeueDelivery(id string) (*Delivery, error) {
	if !utils.IsValidUUID(id) {
		return nil, fmt.Errorf("invalid delivery ID: %s", id)
	}

	resp, err := c.makeRequest("POST", fmt.Sprintf("/api/v1/deliveries/%s/requeue", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var delivery Delivery
	if err := json.NewDecoder(resp.Body).Decode(&delivery); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &delivery, nil
}

func (c *Client) makeRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
