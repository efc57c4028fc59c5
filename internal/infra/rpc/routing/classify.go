package routing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	// ActionFailover marks the endpoint as failing and moves to the next candidate.
	ActionFailover ErrorAction = iota
	// ActionFatal surfaces the error to the caller; the endpoint is not blamed.
	ActionFatal
)

func (a ErrorAction) String() string {
	if a == ActionFatal {
		return "fatal"
	}
	return "failover"
}

// JSON-RPC codes that describe the request rather than the endpoint.
var fatalRPCCodes = map[int]bool{
	-32700: true, // parse error
	-32600: true, // invalid request
	-32602: true, // invalid params
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionFatal
	}

	if errors.Is(err, provider.ErrThrottled) {
		return ActionFailover
	}

	// Per-attempt timeouts behave like transport failures.
	if errors.Is(err, context.DeadlineExceeded) {
		return ActionFailover
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		if fatalRPCCodes[rpcErr.Code] {
			return ActionFatal
		}
		switch rpcErr.Code {
		case -32601, -32603, -32005: // method missing on this node, internal error, limit exceeded
			return ActionFailover
		}
		if isEndpointMessage(rpcErr.Message) {
			return ActionFailover
		}
		// Application errors (insufficient funds, rejected tx, unknown tx) are
		// the same on every endpoint.
		return ActionFatal
	}

	var statusErr *provider.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return ActionFailover
		case statusErr.StatusCode == http.StatusBadRequest,
			statusErr.StatusCode == http.StatusUnprocessableEntity:
			return ActionFatal
		default:
			return ActionFailover
		}
	}

	// Network, TLS, decode errors and anything unknown
	return ActionFailover
}

func isEndpointMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range []string{"quota", "plan limit", "unauthorized", "rate limit", "count exceeded", "already in progress"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
