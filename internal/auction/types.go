package auction

import "time"

// Tick is the logical clock auctions run on: a monotonic integer comparable
// across the process. Production maps ticks to Unix seconds; tests pass
// explicit values.
type Tick int64

// Clock supplies the current tick to the operational layers.
type Clock interface {
	Now() Tick
}

// WallClock maps ticks to Unix seconds.
type WallClock struct{}

func (WallClock) Now() Tick { return Tick(time.Now().Unix()) }

// Outcome is the terminal result of an ended auction.
type Outcome string

const (
	OutcomeWon    Outcome = "won"
	OutcomeUnsold Outcome = "unsold"
)

// Auction is one scheduled-slot auction. Amounts are integers in the
// smallest currency unit.
type Auction struct {
	ID             uint64 `json:"id"`
	Host           string `json:"host"`
	CorrelationKey string `json:"correlation_key"`

	StartTime Tick `json:"start_time"`
	// EndTime only ever increases (anti-snipe extension).
	EndTime Tick `json:"end_time"`

	ReservePrice  int64  `json:"reserve_price"`
	HighestBid    int64  `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder,omitempty"` // empty while no valid leader

	MeetingDurationMinutes int    `json:"meeting_duration_minutes"`
	Metadata               string `json:"metadata"`

	Ended   bool    `json:"ended"`
	Outcome Outcome `json:"outcome,omitempty"` // empty until ended
	Settled bool    `json:"settled"`

	// Set exactly once when the auction ends with a winner.
	PlatformAmount int64 `json:"platform_amount,omitempty"`
	HostAmount     int64 `json:"host_amount,omitempty"`

	// Set exactly once at settlement.
	CredentialID string `json:"credential_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Params are the fixed platform constants the state machine enforces.
type Params struct {
	MinIncrement    int64
	FeeBps          int64
	MinReservePrice int64
	AntiSnipeWindow Tick
	ExtensionWindow Tick
}

// DefaultParams mirrors the production platform constants: 2.5% fee,
// five-minute anti-snipe window with a matching extension.
func DefaultParams() Params {
	return Params{
		MinIncrement:    1,
		FeeBps:          250,
		MinReservePrice: 100,
		AntiSnipeWindow: 300,
		ExtensionWindow: 300,
	}
}

// CreateParams carries the host-authorized creation request.
type CreateParams struct {
	Host                   string
	CorrelationKey         string
	DurationTicks          Tick
	ReservePrice           int64
	Metadata               string
	MeetingDurationMinutes int
}
