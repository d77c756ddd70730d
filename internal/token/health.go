// Package token integrates with the external credential-health service.
// This module only consumes its failure-recording entry point; credential
// acquisition and bookkeeping live elsewhere.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ReasonAuthFailed tags feedback events raised by terminal 401 responses
// from the asset endpoint.
const ReasonAuthFailed = "assets_download_auth_failed"

// Reporter records a failed use of a credential with the health service.
// Calls are issued fire-and-forget by the download pipeline: errors are
// logged at most and never affect the download outcome.
type Reporter interface {
	RecordFailure(ctx context.Context, token string, statusCode int, reason string) error
}

// WebhookReporter posts feedback events to the credential-health service
// over HTTP.
type WebhookReporter struct {
	WebhookURL string
	Client     *http.Client
}

type feedbackEvent struct {
	Token      string `json:"token"`
	StatusCode int    `json:"status_code"`
	Reason     string `json:"reason"`
}

// RecordFailure implements Reporter.
func (r *WebhookReporter) RecordFailure(ctx context.Context, token string, statusCode int, reason string) error {
	if r.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(feedbackEvent{Token: token, StatusCode: statusCode, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal feedback event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}
