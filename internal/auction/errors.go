package auction

import "errors"

// Validation errors: rejected synchronously, no state mutation.
var (
	ErrInvalidParameters       = errors.New("auction: invalid parameters")
	ErrDuplicateCorrelationKey = errors.New("auction: correlation key already used")
	ErrBidTooLow               = errors.New("auction: bid too low")
	ErrSelfOutbid              = errors.New("auction: already the highest bidder")
)

// State-conflict errors: the caller raced a transition; no mutation occurred
// and a retry after re-reading state is legitimate.
var (
	ErrNotFound           = errors.New("auction: not found")
	ErrAuctionEnded       = errors.New("auction: ended")
	ErrAuctionStillActive = errors.New("auction: still active")
	ErrAlreadyEnded       = errors.New("auction: already ended")
	ErrNotSettleable      = errors.New("auction: not settleable")
	ErrAlreadySettled     = errors.New("auction: already settled")
)
