package ledger

import "errors"

// Amounts are integers in the smallest currency unit. No floats.

var (
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")

	// ErrOverflow is an invariant-violation class: with a bounded token
	// supply a pending return can never overflow int64. Callers must treat
	// it as fatal rather than continue with corrupt balances.
	ErrOverflow = errors.New("pending return overflow")
)

// Entry is a bidder's refundable balance on one auction, owed back after
// being outbid. Pull-payment: it is only ever moved by an explicit withdraw.
type Entry struct {
	AuctionID uint64 `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
}
