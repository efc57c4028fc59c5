package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
)

// ErrBroadcastRejected is returned when a node answered a broadcast and refused
// the transaction.
var ErrBroadcastRejected = errors.New("broadcast rejected")

// BroadcastError interprets a failed broadcast call. A node reply containing one
// of the duplicate phrases means the node already holds the transaction and
// yields nil. Any other node reply is a rejection. Transport errors pass through
// unchanged since the transaction may or may not have been relayed.
func BroadcastError(err error, duplicates ...string) error {
	var rpcErr *provider.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, d := range duplicates {
		if strings.Contains(msg, d) {
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrBroadcastRejected, err)
}
