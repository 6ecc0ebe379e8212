// Package handler provides built-in domain.TaskHandler implementations.
// Real deployments wire their own handlers; these cover standalone use.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"taskgrid/internal/domain"
)

// Default webhook handler timeouts.
const (
	defaultConnTimeout = 10 * time.Second
	defaultRespTimeout = 30 * time.Second
)

// WebhookHandler delivers each task as a JSON POST to a downstream endpoint.
// Any 2xx response counts as completion; everything else is a handler failure.
type WebhookHandler struct {
	url    string
	client *http.Client
}

// NewWebhookHandler creates a handler with a pooled transport.
func NewWebhookHandler(url string, connTimeout, respTimeout time.Duration) *WebhookHandler {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: respTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &WebhookHandler{
		url: url,
		client: &http.Client{
			Transport: transport,
			Timeout:   connTimeout + respTimeout,
		},
	}
}

// Process implements domain.TaskHandler.
func (h *WebhookHandler) Process(ctx context.Context, task domain.Task) (domain.TaskOutcome, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return domain.TaskOutcome{}, fmt.Errorf("marshal task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return domain.TaskOutcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.TaskOutcome{}, fmt.Errorf("%w: %v", domain.ErrHandlerFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.TaskOutcome{
			Status: domain.TaskStatusFailed,
			Detail: fmt.Sprintf("webhook returned %d", resp.StatusCode),
		}, fmt.Errorf("%w: status %d", domain.ErrHandlerFailed, resp.StatusCode)
	}
	return domain.TaskOutcome{Status: domain.TaskStatusCompleted}, nil
}

var _ domain.TaskHandler = (*WebhookHandler)(nil)
