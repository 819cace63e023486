// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"freezy-bot/pkg/logger"

	"github.com/google/uuid"
)

// ErrMissingToken is returned without any network call when an
// authenticated endpoint is invoked with no bearer token.
var ErrMissingToken = errors.New("missing auth token")

// Error is a non-2xx answer from the backend.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// GenericErrorMessage is shown when the backend gives no usable message.
const GenericErrorMessage = "Une erreur est survenue, veuillez réessayer."

// UserMessage extracts the text to show for err: the backend's message
// when there is one, the generic fallback otherwise.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return GenericErrorMessage
}

// Client talks to the FreezyCorp REST backend. It never retries.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

func New(baseURL string, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// call performs one request. A nil out discards the body. When auth is
// true an empty token fails fast with ErrMissingToken.
func (c *Client) call(ctx context.Context, op, method, path, token string, auth bool, in, out any) error {
	if auth && token == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingToken)
	}

	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(op, outcomeTransport, start)
		c.logger.Warnw("Backend request failed", "op", op, "request_id", requestID, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		observe(op, outcomeTransport, start)
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observe(op, outcomeRejected, start)
		c.logger.Infow("Backend rejected request",
			"op", op, "request_id", requestID, "status", resp.StatusCode)
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	observe(op, outcomeOK, start)

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage pulls a human message out of an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	switch {
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	default:
		return body.Msg
	}
}

// decodeList reads an array, or an object wrapping one under a common
// key. Elements that do not decode as T are left out and counted in
// dropped; err is the first such failure. Anything else is an empty list.
func decodeList[T any](raw json.RawMessage) (items []T, dropped int, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, 0, nil
	}
	if raw[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, 0, nil
		}
		for _, key := range []string{"data", "items", "results", "rendezvous", "slots", "conges", "commentaires", "payments", "subscriptions", "offres"} {
			if inner, ok := wrapped[key]; ok {
				return decodeList[T](inner)
			}
		}
		return nil, 0, nil
	}
	if raw[0] != '[' {
		return nil, 0, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, nil
	}
	items = make([]T, 0, len(elems))
	for _, elem := range elems {
		var v T
		if e := json.Unmarshal(elem, &v); e != nil {
			dropped++
			if err == nil {
				err = e
			}
			continue
		}
		items = append(items, v)
	}
	return items, dropped, err
}

// listOf decodes a list answer of op, logging the elements it dropped.
func listOf[T any](c *Client, op string, raw json.RawMessage) []T {
	items, dropped, err := decodeList[T](raw)
	if dropped > 0 {
		c.logger.Warnw("Dropped undecodable list elements", "op", op, "dropped", dropped, "kept", len(items), "error", err)
	}
	return items
}
