// Package backend is the typed client of the dashboard's REST backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds requests made by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

const (
	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
	// maxErrorMessage bounds a non-JSON error body kept as the message.
	maxErrorMessage = 1024
)

// Client wraps the HTTP interactions with the backend API. baseURL already
// carries the version prefix.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// APIError represents a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("backend api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend api error (%d): %s", e.StatusCode, e.Message)
}

// StatusOf returns the HTTP status carried by an APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// NewClient instantiates a client for the backend API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListUserAgents returns the agents owned by a wallet address.
func (c *Client) ListUserAgents(ctx context.Context, address string) ([]Agent, error) {
	var agents []Agent
	if err := c.get(ctx, []string{"users", address, "agents"}, nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// CreateAgent registers a deployed agent contract.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (Agent, error) {
	var agent Agent
	if err := c.post(ctx, []string{"agents"}, req, &agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// GetAgent fetches one agent by identifier.
func (c *Client) GetAgent(ctx context.Context, id string) (Agent, error) {
	var agent Agent
	if err := c.get(ctx, []string{"agents", id}, nil, &agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// AgentTransactions lists the trades of an agent.
func (c *Client) AgentTransactions(ctx context.Context, id string) ([]Transaction, error) {
	var txs []Transaction
	if err := c.get(ctx, []string{"agents", id, "transactions"}, nil, &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

// AgentStats fetches the trade summary of an agent.
func (c *Client) AgentStats(ctx context.Context, id string) (AgentStats, error) {
	var stats AgentStats
	if err := c.get(ctx, []string{"agents", id, "stats"}, nil, &stats); err != nil {
		return AgentStats{}, err
	}
	return stats, nil
}

// ListServices returns active market services, filtered server-side by type.
func (c *Client) ListServices(ctx context.Context, q ServiceQuery) ([]Service, error) {
	query := url.Values{}
	if q.ServiceType != "" {
		query.Set("service_type", q.ServiceType)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	var services []Service
	if err := c.get(ctx, []string{"market", "services"}, query, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// GetService fetches a market service with its pricing model.
func (c *Client) GetService(ctx context.Context, id string) (Service, error) {
	var service Service
	if err := c.get(ctx, []string{"market", "services", id}, nil, &service); err != nil {
		return Service{}, err
	}
	return service, nil
}

func (c *Client) post(ctx context.Context, elems []string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, elems, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, elems []string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, elems, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method string, elems []string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(elems...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		decodeAPIError(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeAPIError accepts {"error":{...}}, flat {"code","message"} and the
// {"detail": "..."} shape produced by FastAPI.
func decodeAPIError(data []byte, apiErr *APIError) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		apiErr.Message = http.StatusText(apiErr.StatusCode)
		return
	}
	var envelope struct {
		Error  *APIError       `json:"error"`
		Code   string          `json:"code"`
		Detail json.RawMessage `json:"detail"`
		Msg    string          `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		apiErr.Message = clip(data)
		return
	}
	switch {
	case envelope.Error != nil:
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	case envelope.Msg != "":
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Msg
	case len(envelope.Detail) > 0:
		var detail string
		if err := json.Unmarshal(envelope.Detail, &detail); err != nil {
			detail = string(envelope.Detail)
		}
		apiErr.Message = detail
	}
	if apiErr.Message == "" {
		apiErr.Message = clip(data)
	}
}

func clip(data []byte) string {
	if len(data) <= maxErrorMessage {
		return string(data)
	}
	return strings.ToValidUTF8(string(data[:maxErrorMessage]), "") + "…"
}
