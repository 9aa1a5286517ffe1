package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/degenetics/lootchat/domain"
)

// Client is the upstream chat-completion provider client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a new provider client. The timeout is the hard cap on a
// whole streaming exchange, body included.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatCompletionRequest is the upstream chat completion request body.
type chatCompletionRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

// ErrorResponse represents an upstream API error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError represents the error details.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// StreamChatCompletion opens a streaming chat completion request and returns
// the resulting delta stream. A non-2xx upstream status is returned as an
// error with the upstream body folded in; no stream is returned in that case.
func (c *Client) StreamChatCompletion(ctx context.Context, messages []domain.ChatMessage) (*CompletionStream, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("upstream error [%d]: %s (type: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("upstream error [%d]: %s", resp.StatusCode, string(respBody))
	}

	return &CompletionStream{
		body: resp.Body,
		buf:  make([]byte, 4096),
	}, nil
}

// CompletionStream is a pull-based stream of text deltas decoded from the
// upstream SSE body. It is not safe for concurrent use.
type CompletionStream struct {
	body    io.ReadCloser
	dec     DeltaDecoder
	pending []string
	buf     []byte
	err     error
}

// Recv returns the next text delta, or io.EOF once the [DONE] sentinel has
// been decoded or the body is exhausted. Deltas already decoded are delivered
// before any read error is surfaced.
func (s *CompletionStream) Recv() (string, error) {
	for len(s.pending) == 0 {
		if s.dec.Done() {
			return "", io.EOF
		}
		if s.err != nil {
			return "", s.err
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.dec.Feed(s.buf[:n])...)
		}
		if err != nil {
			if err == io.EOF {
				s.err = io.EOF
			} else {
				s.err = fmt.Errorf("failed to read stream: %w", err)
			}
		}
	}

	delta := s.pending[0]
	s.pending = s.pending[1:]
	return delta, nil
}

// Close releases the underlying connection. Safe to call after Recv returned
// an error.
func (s *CompletionStream) Close() error {
	return s.body.Close()
}

// Model represents a model from the models list.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse represents the response from /v1/models.
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ListModels retrieves the list of available upstream models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream error [%d]: %s", resp.StatusCode, string(respBody))
	}

	var result ModelsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return result.Data, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
