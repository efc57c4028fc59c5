package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

func TestBroadcastError(t *testing.T) {
	known := fmt.Errorf("send failed: %w", &provider.RPCError{Code: -32000, Message: "Already Known"})
	assert.NoError(t, BroadcastError(known, "already known"))

	rejected := BroadcastError(&provider.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}, "already known")
	require.Error(t, rejected)
	assert.ErrorIs(t, rejected, ErrBroadcastRejected)
	assert.ErrorContains(t, rejected, "insufficient funds")

	// no node reply: the outcome is unknown
	timeout := BroadcastError(context.DeadlineExceeded, "already known")
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.False(t, errors.Is(timeout, ErrBroadcastRejected))
}
