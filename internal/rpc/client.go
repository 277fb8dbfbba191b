package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "chrono-crank/0.1"
	jsonRPCVersion = "2.0"
)

// Client is a JSON-RPC client for a Solana node.
// It handles request framing, retry with exponential backoff, and error
// classification. Authentication is the http.Client's concern (see
// NewHTTPClient).
type Client struct {
	endpoint   string
	httpClient *http.Client
	commitment Commitment
	logger     *slog.Logger
	nextID     atomic.Uint64

	// sleepFunc is called to wait between retries and confirmation polls.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an RPC client for endpoint. An empty commitment means
// CommitmentConfirmed.
func NewClient(endpoint string, httpClient *http.Client, commitment Commitment, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if commitment == "" {
		commitment = CommitmentConfirmed
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		commitment: commitment,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Commitment returns the commitment level used for reads and confirmation.
func (c *Client) Commitment() Commitment {
	return c.commitment
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *responseError  `json:"error"`
}

type responseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Call invokes method with params and decodes the result into result,
// which may be nil to discard it.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	body, err := json.Marshal(request{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("rpc: encoding %s request: %w", method, err)
	}

	var attempt int
	for {
		raw, retryAfter, err := c.callOnce(ctx, method, body)
		if err == nil {
			if result == nil {
				return nil
			}

			if err := json.Unmarshal(raw, result); err != nil {
				return fmt.Errorf("rpc: decoding %s result: %w", method, err)
			}

			return nil
		}

		// Context cancellation is not retryable.
		if ctx.Err() != nil {
			return fmt.Errorf("rpc: request canceled: %w", ctx.Err())
		}

		if !c.shouldRetry(err) || attempt >= maxRetries {
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("method", method),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			return err
		}

		backoff := c.calcBackoff(attempt)
		if retryAfter > 0 {
			backoff = retryAfter
		}

		c.logger.Warn("retrying rpc request",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("rpc: request canceled: %w", sleepErr)
		}

		attempt++
	}
}

// transportError marks a failure below the HTTP layer, always retryable.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func (c *Client) shouldRetry(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *Error:
		if e.Code != 0 {
			return isRetryableCode(e.Code)
		}

		return isRetryable(e.StatusCode)
	default:
		return false
	}
}

// callOnce executes a single HTTP round trip (no retry). On a 429 it also
// returns the server's Retry-After hint.
func (c *Client) callOnce(ctx context.Context, method string, body []byte) (json.RawMessage, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("rpc: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("rpc: %s: %w", method, err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("rpc: %s: reading response: %w", method, err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, retryAfter(resp), &Error{
			Method:     method,
			StatusCode: resp.StatusCode,
			Message:    string(payload),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	var envelope response
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, 0, fmt.Errorf("rpc: %s: decoding response envelope: %w", method, err)
	}

	if envelope.Error != nil {
		return nil, 0, &Error{
			Method:     method,
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
			Err:        classifyCode(envelope.Error.Code),
		}
	}

	c.logger.Debug("request succeeded", slog.String("method", method))

	return envelope.Result, 0, nil
}

// retryAfter parses the Retry-After header of a 429 response.
func retryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
