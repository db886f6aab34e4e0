// Package credential mints, redeems and tracks the access credentials an
// auction settlement produces. One credential per auction, burned at most
// once by its holder, like tearing a physical ticket.
package credential

import (
	"context"
	"time"

	"github.com/google/uuid"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/ids"
	"meetbid.org/internal/obs"
	"meetbid.org/internal/stream"
)

// Issuer performs settlement: exactly one credential per won auction.
type Issuer struct {
	machine    *auction.Machine
	store      Store
	facts      *stream.Stream
	burnWindow auction.Tick
}

// NewIssuer wires the issuer over the state machine and credential store.
// burnWindow bounds CanBurn around the scheduled meeting time.
func NewIssuer(machine *auction.Machine, store Store, facts *stream.Stream, burnWindow auction.Tick) *Issuer {
	return &Issuer{machine: machine, store: store, facts: facts, burnWindow: burnWindow}
}

// Issue settles the auction and mints its credential in one atomic step.
// Fails auction.ErrNotSettleable before the end transition or without a
// winner, and auction.ErrAlreadySettled on any repeat call.
func (i *Issuer) Issue(ctx context.Context, auctionID uint64) (Credential, error) {
	var cred Credential
	_, err := i.machine.Settle(ctx, auctionID, func(won auction.Auction) (string, error) {
		cred = Credential{
			ID:                     ids.New(),
			AuctionID:              won.ID,
			Holder:                 won.HighestBidder,
			HostCorrelationKey:     won.CorrelationKey,
			Metadata:               won.Metadata,
			MeetingDurationMinutes: won.MeetingDurationMinutes,
			MintedAt:               time.Now().UTC(),
		}
		if err := i.store.Put(ctx, cred); err != nil {
			return "", err
		}
		return cred.ID, nil
	})
	if err != nil {
		return Credential{}, err
	}

	if i.facts != nil {
		i.facts.Publish(stream.Fact{
			Kind:         stream.KindCredentialIssued,
			AuctionID:    cred.AuctionID,
			CredentialID: cred.ID,
			Holder:       cred.Holder,
		})
	}
	obs.CredentialsIssuedTotal.Inc()
	return cred, nil
}

// Get returns one credential by id.
func (i *Issuer) Get(ctx context.Context, id string) (Credential, error) {
	return i.store.Get(ctx, id)
}

// Burn redeems the credential for its holder and returns the one-time grant
// the meeting-provisioning collaborator accepts. Irreversible.
func (i *Issuer) Burn(ctx context.Context, credentialID, caller string) (Grant, error) {
	cred, err := i.store.Burn(ctx, credentialID, caller)
	if err != nil {
		return Grant{}, err
	}

	grant := Grant{
		Token:                  uuid.NewString(),
		CredentialID:           cred.ID,
		AuctionID:              cred.AuctionID,
		Holder:                 cred.Holder,
		MeetingDurationMinutes: cred.MeetingDurationMinutes,
		IssuedAt:               time.Now().UTC(),
	}

	if i.facts != nil {
		i.facts.Publish(stream.Fact{
			Kind:         stream.KindCredentialBurned,
			AuctionID:    cred.AuctionID,
			CredentialID: cred.ID,
			Holder:       cred.Holder,
		})
	}
	return grant, nil
}

// CanBurn reports whether caller could redeem the credential right now.
// meetingTime is supplied by the external scheduling collaborator; the
// check passes within burnWindow ticks either side of it.
func (i *Issuer) CanBurn(ctx context.Context, credentialID, caller string, now, meetingTime auction.Tick) bool {
	cred, err := i.store.Get(ctx, credentialID)
	if err != nil {
		return false
	}
	if cred.Burned || cred.Holder != caller {
		return false
	}
	return now >= meetingTime-i.burnWindow && now <= meetingTime+i.burnWindow
}
