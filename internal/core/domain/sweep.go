package domain

import (
	"fmt"
	"math/big"
	"time"
)

type SweepStatus string

const (
	SweepStatusPending   SweepStatus = "pending"
	SweepStatusSubmitted SweepStatus = "submitted"
	SweepStatusConfirmed SweepStatus = "confirmed"
	SweepStatusFailed    SweepStatus = "failed"
)

// Active reports whether the status blocks a new sweep for the same tuple.
func (s SweepStatus) Active() bool {
	return s == SweepStatusPending || s == SweepStatusSubmitted
}

// SweepTuple is the unit of sweep exclusivity.
type SweepTuple struct {
	WalletID    string
	ChainFamily ChainFamily
	Asset       string
}

func (t SweepTuple) String() string {
	return fmt.Sprintf("%s/%s/%s", t.WalletID, t.ChainFamily, t.Asset)
}

// SweepRecord is the audit trail of one automated sweep. Records are never deleted.
type SweepRecord struct {
	ID          string
	WalletID    string
	ChainFamily ChainFamily
	Asset       string
	Amount      *big.Int
	Destination string
	Status      SweepStatus
	TxHash      string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Fee is the native fee the submitted transaction commits. Not persisted.
	Fee *big.Int
}

// Tuple returns the record's idempotency key.
func (r *SweepRecord) Tuple() SweepTuple {
	return SweepTuple{WalletID: r.WalletID, ChainFamily: r.ChainFamily, Asset: r.Asset}
}

// TxStatus is the on-chain state of a submitted sweep transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
	TxStatusNotFound  TxStatus = "not_found"
)
