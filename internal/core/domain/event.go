package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBreachDetected EventType = "BREACH_DETECTED"
	EventSweepSubmitted EventType = "SWEEP_SUBMITTED"
	EventSweepFailed    EventType = "SWEEP_FAILED"
	EventSweepConfirmed EventType = "SWEEP_CONFIRMED"
	EventConfigError    EventType = "CONFIG_ERROR"
	EventCycleError     EventType = "CYCLE_ERROR"
)

// Event is an operator-facing notification.
type Event struct {
	Type        EventType       `json:"type"`
	WalletID    string          `json:"walletId,omitempty"`
	ChainFamily ChainFamily     `json:"chainFamily,omitempty"`
	Asset       string          `json:"asset,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	USDValue    decimal.Decimal `json:"usdValue"`
	TxHash      string          `json:"txHash,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
