package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StreamKey identifies one balance stream: a watch address and a token.
// An empty TokenAddress is the native asset.
type StreamKey struct {
	WatchAddressID uuid.UUID
	TokenAddress   string
}

// Native reports whether the stream is the native-asset stream.
func (k StreamKey) Native() bool { return k.TokenAddress == "" }

func (k StreamKey) String() string {
	if k.Native() {
		return k.WatchAddressID.String() + "/native"
	}
	return k.WatchAddressID.String() + "/" + k.TokenAddress
}

// BalanceHistory is one immutable balance observation.
//
// OrderingBlock is the row's block number or, for rows recorded without one,
// the stream head block at insertion time. History is ordered by
// (OrderingBlock, ID) descending.
type BalanceHistory struct {
	ID             int64           `json:"id"              db:"id"`
	WatchAddressID uuid.UUID       `json:"watch_address_id" db:"watch_address_id"`
	Balance        decimal.Decimal `json:"balance"         db:"balance"`
	TokenAddress   *string         `json:"token_address"   db:"token_address"`
	TokenSymbol    *string         `json:"token_symbol"    db:"token_symbol"`
	BlockNumber    *uint64         `json:"block_number"    db:"block_number"`
	OrderingBlock  uint64          `json:"-"               db:"ordering_block"`
	Late           bool            `json:"late"            db:"late"`
	RecordedAt     time.Time       `json:"recorded_at"     db:"recorded_at"`
}

// Stream returns the stream key of the row.
func (h *BalanceHistory) Stream() StreamKey {
	k := StreamKey{WatchAddressID: h.WatchAddressID}
	if h.TokenAddress != nil {
		k.TokenAddress = *h.TokenAddress
	}
	return k
}

// Observation is a raw balance reading handed to the ledger.
type Observation struct {
	WatchAddressID uuid.UUID
	Balance        string
	TokenAddress   *string
	TokenSymbol    *string
	BlockNumber    *uint64
}

// BalanceChanged is published to the notifier after a committed observation
// that moved the stream head to a different value.
type BalanceChanged struct {
	UserID         uuid.UUID       `json:"user_id"`
	WatchAddressID uuid.UUID       `json:"watch_address_id"`
	Address        string          `json:"address"`
	NetworkID      NetworkID       `json:"network_id"`
	TokenAddress   string          `json:"token_address,omitempty"`
	Previous       *string         `json:"previous,omitempty"`
	Current        decimal.Decimal `json:"current"`
	BlockNumber    *uint64         `json:"block_number,omitempty"`
	HistoryID      int64           `json:"history_id"`
	RecordedAt     time.Time       `json:"recorded_at"`
}
