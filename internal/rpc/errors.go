// Package rpc provides a JSON-RPC 2.0 client for Solana nodes with automatic
// retry, rate limiting, and error classification, plus a websocket slot
// subscription.
package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for RPC failure classification.
// Use errors.Is(err, rpc.ErrAccountNotFound) to check.
var (
	ErrBadRequest        = errors.New("rpc: bad request")
	ErrUnauthorized      = errors.New("rpc: unauthorized")
	ErrThrottled         = errors.New("rpc: throttled")
	ErrServerError       = errors.New("rpc: server error")
	ErrNodeUnhealthy     = errors.New("rpc: node unhealthy")
	ErrNotAvailable      = errors.New("rpc: data not yet available")
	ErrPreflightFailure  = errors.New("rpc: transaction simulation failed")
	ErrAccountNotFound   = errors.New("rpc: account not found")
	ErrTransactionFailed = errors.New("rpc: transaction failed")
	ErrConfirmTimeout    = errors.New("rpc: transaction not confirmed before deadline")
)

// JSON-RPC error codes returned by Solana nodes.
const (
	codeInvalidRequest          = -32600
	codeMethodNotFound          = -32601
	codeInvalidParams           = -32602
	codeInternalError           = -32603
	codeSendTxPreflightFailure  = -32002
	codeBlockNotAvailable       = -32004
	codeNodeUnhealthy           = -32005
	codeSlotSkipped             = -32007
	codeBlockStatusNotAvailable = -32014
)

// Error wraps a sentinel error with the HTTP status, the JSON-RPC error
// code, and the node's message for debugging.
type Error struct {
	Method     string
	StatusCode int
	Code       int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("rpc: %s: error %d: %s", e.Method, e.Code, e.Message)
	}

	return fmt.Sprintf("rpc: %s: HTTP %d: %s", e.Method, e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusMultipleChoices {
			return ErrBadRequest
		}

		return nil
	}
}

// classifyCode maps a JSON-RPC error code to a sentinel error.
func classifyCode(code int) error {
	switch code {
	case codeInvalidRequest, codeMethodNotFound, codeInvalidParams:
		return ErrBadRequest
	case codeSendTxPreflightFailure:
		return ErrPreflightFailure
	case codeNodeUnhealthy:
		return ErrNodeUnhealthy
	case codeBlockNotAvailable, codeSlotSkipped, codeBlockStatusNotAvailable:
		return ErrNotAvailable
	default:
		return ErrServerError
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRetryableCode reports whether a JSON-RPC error code is transient.
// Preflight failures are deterministic for a given blockhash and are not
// retried here; the caller rebuilds the transaction instead.
func isRetryableCode(code int) bool {
	switch code {
	case codeNodeUnhealthy, codeBlockNotAvailable, codeBlockStatusNotAvailable, codeInternalError:
		return true
	default:
		return false
	}
}
