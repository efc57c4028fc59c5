// Package sweeper moves breaching balances to their configured destination
// and later reconciles submitted sweeps with the chain.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/routing"
	"github.com/vietddude/sweepwatch/internal/infra/signer"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
)

var (
	// ErrNoDestinationConfigured is returned when the family has no valid destination address.
	ErrNoDestinationConfigured = errors.New("no destination configured")
	// ErrNoAdapter is returned when the family has no chain adapter.
	ErrNoAdapter = errors.New("no adapter for chain family")
)

// Events receives operator notifications. notify.Dispatcher implements it.
type Events interface {
	Dispatch(e domain.Event)
}

// Sweeper submits one sweep per breach decision.
type Sweeper struct {
	adapters map[domain.ChainFamily]chain.Adapter
	signer   signer.Signer
	sweeps   storage.SweepRepository
	events   Events
	log      *slog.Logger
}

func New(
	adapters map[domain.ChainFamily]chain.Adapter,
	sgn signer.Signer,
	sweeps storage.SweepRepository,
	events Events,
) *Sweeper {
	return &Sweeper{
		adapters: adapters,
		signer:   sgn,
		sweeps:   sweeps,
		events:   events,
		log:      slog.Default().With("component", "sweeper"),
	}
}

// Sweep moves d's balance to the family destination in cfg. reserved is native
// balance committed by sweeps of the same wallet earlier in the cycle.
//
// storage.ErrAlreadyPending means another cycle owns the tuple and nothing was
// done. Any other error after the pending record was written leaves that
// record failed, and the returned record reflects it. A broadcast whose outcome
// is unknown is recorded as submitted under the locally computed hash so the
// reconciler settles it.
func (s *Sweeper) Sweep(
	ctx context.Context,
	d domain.BreachDecision,
	cfg domain.MonitorConfig,
	reserved *big.Int,
) (*domain.SweepRecord, error) {
	log := s.log.With("wallet", d.WalletID, "family", d.ChainFamily, "asset", d.Asset.Key())

	adapter, ok := s.adapters[d.ChainFamily]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, d.ChainFamily)
	}

	destination, ok := cfg.Destination(d.ChainFamily)
	if !ok {
		s.configError(d, "no destination address configured for "+string(d.ChainFamily))
		return nil, fmt.Errorf("%w: %s", ErrNoDestinationConfigured, d.ChainFamily)
	}
	if err := adapter.ValidateAddress(destination); err != nil {
		s.configError(d, fmt.Sprintf("invalid destination address %q: %v", destination, err))
		return nil, fmt.Errorf("%w: %s: %w", ErrNoDestinationConfigured, d.ChainFamily, err)
	}

	// decided but not yet started: a stopping monitor drops it
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := &domain.SweepRecord{
		WalletID:    d.WalletID,
		ChainFamily: d.ChainFamily,
		Asset:       d.Asset.Key(),
		Amount:      d.AmountRaw,
		Destination: destination,
	}
	if err := s.sweeps.InsertPending(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyPending) {
			log.Debug("Sweep already in flight")
			return nil, err
		}
		return nil, fmt.Errorf("insert pending sweep: %w", err)
	}
	metrics.SweepsTotal.WithLabelValues(string(d.ChainFamily), string(domain.SweepStatusPending)).Inc()

	sub, err := s.submit(ctx, adapter, d, rec, reserved)
	// the outcome must be recorded even if the cycle is being cancelled
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		reason := err.Error()
		if markErr := s.sweeps.MarkFailed(persistCtx, rec.ID, reason); markErr != nil {
			log.Error("Failed to mark sweep failed", "id", rec.ID, "error", markErr)
		}
		rec.Status = domain.SweepStatusFailed
		rec.Reason = reason
		metrics.SweepsTotal.WithLabelValues(string(d.ChainFamily), string(domain.SweepStatusFailed)).Inc()
		log.Error("Sweep failed", "id", rec.ID, "error", err)
		s.events.Dispatch(domain.Event{
			Type:        domain.EventSweepFailed,
			WalletID:    d.WalletID,
			ChainFamily: d.ChainFamily,
			Asset:       d.Asset.Key(),
			Amount:      d.AmountRaw.String(),
			USDValue:    d.USDValue,
			Message:     reason,
		})
		return rec, err
	}

	amount := sub.transfer.Amount
	// the fee is committed from here on, whatever the record says
	rec.Fee = sub.transfer.Fee
	if err := s.sweeps.MarkSubmitted(persistCtx, rec.ID, sub.txHash, amount); err != nil {
		// the transaction is out; the record stays pending and blocks the tuple
		log.Error("Failed to mark sweep submitted", "id", rec.ID, "tx", sub.txHash, "error", err)
		return rec, fmt.Errorf("record submitted sweep %s: %w", sub.txHash, err)
	}
	rec.Status = domain.SweepStatusSubmitted
	rec.TxHash = sub.txHash
	rec.Amount = amount
	metrics.SweepsTotal.WithLabelValues(string(d.ChainFamily), string(domain.SweepStatusSubmitted)).Inc()

	var msg string
	if sub.broadcastErr != nil {
		msg = "broadcast unconfirmed: " + sub.broadcastErr.Error()
		log.Warn("Broadcast outcome unknown, leaving sweep to reconciliation",
			"id", rec.ID, "tx", sub.txHash, "error", sub.broadcastErr)
	} else {
		log.Info("Sweep submitted", "id", rec.ID, "tx", sub.txHash, "amount", amount.String(), "to", destination)
	}
	s.events.Dispatch(domain.Event{
		Type:        domain.EventSweepSubmitted,
		WalletID:    d.WalletID,
		ChainFamily: d.ChainFamily,
		Asset:       d.Asset.Key(),
		Amount:      amount.String(),
		USDValue:    d.USDValue,
		TxHash:      sub.txHash,
		Message:     msg,
	})
	return rec, nil
}

type submission struct {
	transfer *chain.Transfer
	txHash   string
	// broadcastErr is set when the broadcast failed without a node rejecting
	// the transaction; it may still have been relayed.
	broadcastErr error
}

func (s *Sweeper) submit(
	ctx context.Context,
	adapter chain.Adapter,
	d domain.BreachDecision,
	rec *domain.SweepRecord,
	reserved *big.Int,
) (*submission, error) {
	transfer, err := adapter.BuildTransfer(ctx, d.Address, rec.Destination, d.Asset, d.AmountRaw, reserved)
	if err != nil {
		return nil, fmt.Errorf("build transfer: %w", err)
	}

	signed, err := s.signer.Sign(ctx, d.WalletID, transfer)
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	localHash, err := adapter.TxHash(signed)
	if err != nil {
		return nil, fmt.Errorf("signed transaction: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cancelled before broadcast: %w", err)
	}

	txHash, err := adapter.Broadcast(ctx, signed)
	if err != nil {
		if rejected(err) {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		return &submission{transfer: transfer, txHash: localHash, broadcastErr: err}, nil
	}
	return &submission{transfer: transfer, txHash: txHash}, nil
}

// rejected reports whether a broadcast error proves the transaction was not
// accepted anywhere.
func rejected(err error) bool {
	if errors.Is(err, routing.ErrNoHealthyEndpoint) {
		return true
	}
	return errors.Is(err, chain.ErrBroadcastRejected) && !errors.Is(err, routing.ErrPriorAttemptFailed)
}

func (s *Sweeper) configError(d domain.BreachDecision, msg string) {
	s.log.Warn("Sweep not attempted", "wallet", d.WalletID, "family", d.ChainFamily, "asset", d.Asset.Key(), "reason", msg)
	s.events.Dispatch(domain.Event{
		Type:        domain.EventConfigError,
		WalletID:    d.WalletID,
		ChainFamily: d.ChainFamily,
		Asset:       d.Asset.Key(),
		Amount:      d.AmountRaw.String(),
		USDValue:    d.USDValue,
		Message:     msg,
	})
}
