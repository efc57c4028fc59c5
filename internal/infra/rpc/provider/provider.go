// Package provider implements the transports used to reach chain RPC endpoints.
//
// This package contains:
//   - Provider: the minimal endpoint abstraction the routing layer fails over between
//   - Operation: a transport-agnostic description of one call
//   - HTTPProvider: JSON-RPC 2.0, JSON-RPC 1.0 and REST-over-HTTP implementation
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Operation represents an RPC operation to execute.
type Operation struct {
	// Name is the JSON-RPC method or, for REST calls, the path below the endpoint URL.
	Name string

	// Params are positional JSON-RPC params ([]any) or the REST request body.
	Params any

	// IsREST indicates a REST call instead of JSON-RPC.
	IsREST bool

	// RESTMethod is the HTTP method for REST calls. Defaults to POST.
	RESTMethod string

	// JSONRPCVersion is "1.0" or "2.0". Empty means 2.0.
	JSONRPCVersion string
}

// NewJSONRPCOperation creates a JSON-RPC 2.0 operation.
func NewJSONRPCOperation(method string, params ...any) Operation {
	if params == nil {
		params = []any{}
	}
	return Operation{Name: method, Params: params}
}

// NewJSONRPC10Operation creates a JSON-RPC 1.0 operation (bitcoind dialect).
func NewJSONRPC10Operation(method string, params ...any) Operation {
	if params == nil {
		params = []any{}
	}
	return Operation{Name: method, Params: params, JSONRPCVersion: "1.0"}
}

// NewRESTOperation creates a REST operation posting body to path.
func NewRESTOperation(path string, body any) Operation {
	return Operation{Name: path, Params: body, IsREST: true, RESTMethod: "POST"}
}

// Provider is a single RPC endpoint.
type Provider interface {
	// GetName returns the endpoint identifier (e.g. "alchemy", "infura").
	GetName() string

	// Execute performs the operation against this endpoint only.
	Execute(ctx context.Context, op Operation) (any, error)

	// Close releases transport resources.
	Close() error
}

// ErrThrottled marks responses that indicate rate limiting or blocking.
var ErrThrottled = errors.New("provider throttled")

// RPCError is an error object returned inside a well-formed JSON-RPC response.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is a non-2xx HTTP response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// IsThrottleMessage checks if a message contains a known throttle phrase.
func IsThrottleMessage(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
