// Package registryclient implements an HTTP client for the Confirmation
// API (C7), used by the worker (C6). Grounded on the teacher's
// outbound HTTP
// client style in internal/infrastructure/publishing/webhook_client.go
// (tuned *http.Client with TLSClientConfig and connection pooling).
package registryclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ipiton/message-broker/internal/config"
	"github.com/ipiton/message-broker/internal/registry"
)

// Client calls the Confirmation API over HTTPS.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New builds a Client from RegistryConfig (§6: registry URL, TLS
// verification toggle, connect/request timeouts).
func New(cfg config.RegistryConfig) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !cfg.TLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		baseURL:    cfg.URL,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("registryclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("registryclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registryclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("registryclient: decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// Register calls POST /internal/messages/register.
func (c *Client) Register(ctx context.Context, in registry.RegisterInput) (*registry.RegisterResult, error) {
	req := map[string]interface{}{
		"message_id":    in.MessageID,
		"client_id":     in.ClientID,
		"sender_number": in.SenderNumber,
		"message_body":  in.PlaintextBody,
		"domain_tag":    in.DomainTag,
		"queued_at":     in.QueuedAt,
	}

	var out struct {
		ID           string    `json:"id"`
		RegisteredAt time.Time `json:"registered_at"`
	}
	status, err := c.do(ctx, http.MethodPost, "/internal/messages/register", req, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		return nil, &registry.ErrAlreadyRegistered{MessageID: in.MessageID}
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("registryclient: register returned status %d", status)
	}
	return &registry.RegisterResult{ID: out.ID, RegisteredAt: out.RegisteredAt}, nil
}

// Deliver calls POST /internal/messages/deliver.
func (c *Client) Deliver(ctx context.Context, messageID, workerID string) (*time.Time, error) {
	req := map[string]string{"message_id": messageID, "worker_id": workerID}

	var out struct {
		DeliveredAt *time.Time `json:"delivered_at"`
	}
	status, err := c.do(ctx, http.MethodPost, "/internal/messages/deliver", req, &out)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return out.DeliveredAt, nil
	case http.StatusNotFound:
		return nil, &registry.ErrMessageNotFound{MessageID: messageID}
	case http.StatusConflict:
		return nil, &registry.ErrInvalidTransition{MessageID: messageID}
	default:
		return nil, fmt.Errorf("registryclient: deliver returned status %d", status)
	}
}

// UpdateStatus calls PUT /internal/messages/{message_id}/status.
func (c *Client) UpdateStatus(ctx context.Context, messageID string, status registry.Status, attemptCount int, lastError string) error {
	req := map[string]interface{}{
		"status":        status,
		"attempt_count": attemptCount,
		"last_error":    lastError,
	}
	httpStatus, err := c.do(ctx, http.MethodPut, "/internal/messages/"+messageID+"/status", req, nil)
	if err != nil {
		return err
	}
	if httpStatus == http.StatusNotFound {
		return &registry.ErrMessageNotFound{MessageID: messageID}
	}
	if httpStatus != http.StatusOK {
		return fmt.Errorf("registryclient: update status returned status %d", httpStatus)
	}
	return nil
}
