// Package chat owns the client-side conversation state: optimistic sends,
// incremental application of streamed assistant text, cancellation, and
// change notification.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/degenetics/lootchat/domain"
)

// Streamer opens a relay stream for a message history.
type Streamer interface {
	Stream(ctx context.Context, messages []domain.ChatMessage) (TextStream, error)
}

// TextStream is a cancellable pull-based sequence of text chunks. Recv
// returns io.EOF when the stream ends; Close releases the transport.
type TextStream interface {
	Recv() (string, error)
	Close() error
}

// Client talks to the relay endpoint over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a relay client. No client-side timeout is imposed;
// cancellation comes from the caller's context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Stream posts the history to /api/chat and returns the response body as a
// text stream. A non-2xx relay status is an error; no stream is returned.
func (c *Client) Stream(ctx context.Context, messages []domain.ChatMessage) (TextStream, error) {
	body, err := json.Marshal(domain.ChatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("relay error [%d]: %s", resp.StatusCode, string(respBody))
	}

	return &httpTextStream{
		body: resp.Body,
		buf:  make([]byte, 4096),
	}, nil
}

// httpTextStream reads raw body chunks. Chunks are byte slices of the UTF-8
// stream; a rune split across chunks is made whole again by plain string
// concatenation on the consumer side.
type httpTextStream struct {
	body io.ReadCloser
	buf  []byte
	err  error
}

func (s *httpTextStream) Recv() (string, error) {
	for {
		if s.err != nil {
			return "", s.err
		}
		n, err := s.body.Read(s.buf)
		if err != nil {
			if err == io.EOF {
				s.err = io.EOF
			} else {
				s.err = fmt.Errorf("failed to read stream: %w", err)
			}
		}
		if n > 0 {
			return string(s.buf[:n]), nil
		}
	}
}

func (s *httpTextStream) Close() error {
	return s.body.Close()
}
