// Package signprovider talks to the external e-signature service that hosts
// the withdrawal contract signing flows.
package signprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensharehq/pointsledger/internal/logger"
)

const (
	CodeNotConfigured = "not-configured"
	CodeRejected      = "rejected"
	CodeUnknown       = "unknown"
)

type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, error: %v", e.Code, e.Err)
}

func NewError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Flow is a signing flow created on the provider side. SignURL is where the
// owner completes the signature.
type Flow struct {
	ID      string `json:"flow_id"`
	SignURL string `json:"sign_url"`
}

type StartFlowRequest struct {
	Reference string `json:"reference"`
	RealName  string `json:"real_name"`
	IDNumber  string `json:"id_number"`
	Phone     string `json:"phone"`
}

type Client struct {
	ProviderAddr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Client{
		ProviderAddr: addr,
		client:       &http.Client{},
		logger:       l,
	}
}

// StartFlow creates a signing flow for the given reference (the owner id).
// The provider is expected to call our webhook when the flow is signed.
func (c *Client) StartFlow(ctx context.Context, r StartFlowRequest) (Flow, error) {
	var flow Flow

	if c.ProviderAddr == "" {
		return flow, NewError(CodeNotConfigured, fmt.Errorf("sign provider address not set"))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(r)
	if err != nil {
		return flow, NewError(CodeUnknown, fmt.Errorf("failed to encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ProviderAddr+"/api/flows", bytes.NewReader(body))
	if err != nil {
		return flow, NewError(CodeUnknown, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return flow, NewError(CodeUnknown, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return c.processSuccess(resp)
	case http.StatusUnprocessableEntity:
		return flow, NewError(CodeRejected, fmt.Errorf("provider rejected flow for reference %s", r.Reference))
	default:
		c.logger.Warn("Failed to start signing flow", "status_code", resp.StatusCode, "reference", r.Reference)
		return flow, NewError(CodeUnknown, fmt.Errorf("unknown status code %d for reference %s", resp.StatusCode, r.Reference))
	}
}

func (c *Client) processSuccess(resp *http.Response) (Flow, error) {
	var flow Flow
	if err := json.NewDecoder(resp.Body).Decode(&flow); err != nil {
		c.logger.Warn("Failed to decode provider response", "error", err)
		return flow, NewError(CodeUnknown, fmt.Errorf("failed to decode response: %w", err))
	}

	c.logger.Debug("Signing flow started", "flow_id", flow.ID)
	return flow, nil
}
