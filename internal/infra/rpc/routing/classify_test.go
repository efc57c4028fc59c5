package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{fmt.Errorf("%w: http 429", provider.ErrThrottled), ActionFailover},
		{&provider.HTTPStatusError{StatusCode: 502, Body: "bad gateway"}, ActionFailover},
		{&provider.HTTPStatusError{StatusCode: 404, Body: "not found"}, ActionFailover},
		{&provider.HTTPStatusError{StatusCode: 400, Body: "bad request"}, ActionFatal},
		{&provider.RPCError{Code: -32600, Message: "invalid request"}, ActionFatal},
		{&provider.RPCError{Code: -32602, Message: "invalid params"}, ActionFatal},
		{&provider.RPCError{Code: -32601, Message: "method not found"}, ActionFailover},
		{&provider.RPCError{Code: -32000, Message: "project quota exceeded"}, ActionFailover},
		{&provider.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}, ActionFatal},
		{&provider.RPCError{Code: -26, Message: "min relay fee not met"}, ActionFatal},
		{fmt.Errorf("rpc call: %w", context.DeadlineExceeded), ActionFailover},
		{&net.OpError{Op: "dial", Err: errors.New("connection refused")}, ActionFailover},
		{errors.New("connection reset by peer"), ActionFailover},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}
