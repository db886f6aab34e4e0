package credential

import (
	"errors"
	"time"
)

// Credential is the single-use access token minted for an auction winner.
// It stays transferable in principle (the holder field is mutable state)
// until burned; burning is the redemption action and is irreversible.
type Credential struct {
	ID                     string    `json:"id"`
	AuctionID              uint64    `json:"auction_id"`
	Holder                 string    `json:"holder"`
	HostCorrelationKey     string    `json:"host_correlation_key"`
	Metadata               string    `json:"metadata"`
	MeetingDurationMinutes int       `json:"meeting_duration_minutes"`
	MintedAt               time.Time `json:"minted_at"`
	Burned                 bool      `json:"burned"`
	BurnedAt               time.Time `json:"burned_at,omitzero"`
}

// Grant is the one-time proof of redemption handed to the external
// meeting-provisioning collaborator after a successful burn.
type Grant struct {
	Token                  string    `json:"token"`
	CredentialID           string    `json:"credential_id"`
	AuctionID              uint64    `json:"auction_id"`
	Holder                 string    `json:"holder"`
	MeetingDurationMinutes int       `json:"meeting_duration_minutes"`
	IssuedAt               time.Time `json:"issued_at"`
}

var (
	ErrNotFound      = errors.New("credential: not found")
	ErrNotHolder     = errors.New("credential: caller is not the holder")
	ErrAlreadyBurned = errors.New("credential: already burned")

	// ErrAuctionBound guards the unique index on auction id: a second mint
	// for the same auction is an invariant violation the settlement guard
	// should have made unreachable.
	ErrAuctionBound = errors.New("credential: auction already has a credential")
)
