package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetbid.org/internal/audit"
	"meetbid.org/internal/auction"
	"meetbid.org/internal/identity"
	"meetbid.org/internal/ledger"
)

type createAuctionRequest struct {
	Host                   string `json:"host"`
	CorrelationKey         string `json:"correlation_key"`
	DurationTicks          int64  `json:"duration_ticks"`
	ReservePrice           int64  `json:"reserve_price"`
	Metadata               string `json:"metadata"`
	MeetingDurationMinutes int    `json:"meeting_duration_minutes"`
}

type placeBidRequest struct {
	Bidder string `json:"bidder,omitempty"`
	Amount int64  `json:"amount"`
}

type withdrawalResponse struct {
	AuctionID uint64 `json:"auction_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
}

type listAuctionsResponse struct {
	Items []auction.Auction `json:"items"`
	AsOf  time.Time         `json:"as_of"`
}

func (a *API) handleAuctionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createAuction(w, r)
	case http.MethodGet:
		a.listAuctions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAuctionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/auctions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	idPart, action, _ := strings.Cut(path, "/")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "auction not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAuction(w, r, id)
	case "bids":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.placeBid(w, r, id)
	case "withdrawal":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.withdraw(w, r, id)
	case "pending":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getPending(w, r, id)
	case "end":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.endAuction(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createAuction(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, identity.RoleHost); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	var req createAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	host := caller(r, req.Host)
	if host == "" {
		writeError(w, r, http.StatusBadRequest, "host is required")
		return
	}
	if strings.TrimSpace(req.CorrelationKey) == "" {
		writeError(w, r, http.StatusBadRequest, "correlation_key is required")
		return
	}

	acc, err := a.registry.Create(r.Context(), auction.CreateParams{
		Host:                   host,
		CorrelationKey:         strings.TrimSpace(req.CorrelationKey),
		DurationTicks:          auction.Tick(req.DurationTicks),
		ReservePrice:           req.ReservePrice,
		Metadata:               req.Metadata,
		MeetingDurationMinutes: req.MeetingDurationMinutes,
	}, a.clock.Now())
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auction.create", map[string]any{
		"auction_id":      acc.ID,
		"host":            host,
		"correlation_key": acc.CorrelationKey,
		"reserve_price":   strconv.FormatInt(acc.ReservePrice, 10),
	})

	w.Header().Set("Location", "/v1/auctions/"+strconv.FormatUint(acc.ID, 10))
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) listAuctions(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.registry.ListActive(r.Context(), limit)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) getAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	acc, err := a.registry.Get(r.Context(), id)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) placeBid(w http.ResponseWriter, r *http.Request, id uint64) {
	if err := requireRole(r, identity.RoleBidder); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	var req placeBidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bidder := caller(r, req.Bidder)
	if bidder == "" {
		writeError(w, r, http.StatusBadRequest, "bidder is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, r, http.StatusBadRequest, "amount must be > 0")
		return
	}

	acc, err := a.machine.PlaceBid(r.Context(), id, bidder, req.Amount, a.clock.Now())
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auction.bid.place", map[string]any{
		"auction_id": id,
		"bidder":     bidder,
		"amount":     strconv.FormatInt(req.Amount, 10),
	})

	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request, id uint64) {
	var req struct {
		Bidder string `json:"bidder,omitempty"`
	}
	// Body is optional; an authenticated caller withdraws for themselves.
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	bidder := caller(r, req.Bidder)
	if bidder == "" {
		writeError(w, r, http.StatusBadRequest, "bidder is required")
		return
	}

	amount, err := a.machine.WithdrawBid(r.Context(), id, bidder)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auction.funds.withdraw", map[string]any{
		"auction_id": id,
		"bidder":     bidder,
		"amount":     strconv.FormatInt(amount, 10),
	})

	writeJSON(w, http.StatusOK, withdrawalResponse{
		AuctionID: id,
		Bidder:    bidder,
		Amount:    amount,
	})
}

func (a *API) getPending(w http.ResponseWriter, r *http.Request, id uint64) {
	bidder := caller(r, r.URL.Query().Get("bidder"))
	if bidder == "" {
		writeError(w, r, http.StatusBadRequest, "bidder is required")
		return
	}
	amount, err := a.ledger.Pending(r.Context(), id, bidder)
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawalResponse{
		AuctionID: id,
		Bidder:    bidder,
		Amount:    amount,
	})
}

func (a *API) endAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	if err := requireRole(r, identity.RoleOperator); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	acc, err := a.machine.EndAuction(r.Context(), id, a.clock.Now())
	if err != nil {
		handleAuctionError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auction.end", map[string]any{
		"auction_id": id,
		"outcome":    string(acc.Outcome),
		"winner":     acc.HighestBidder,
	})

	writeJSON(w, http.StatusOK, acc)
}

func handleAuctionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auction.ErrInvalidParameters),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrDuplicateCorrelationKey),
		errors.Is(err, auction.ErrBidTooLow),
		errors.Is(err, auction.ErrSelfOutbid),
		errors.Is(err, auction.ErrAuctionEnded),
		errors.Is(err, auction.ErrAuctionStillActive),
		errors.Is(err, auction.ErrAlreadyEnded),
		errors.Is(err, auction.ErrNotSettleable),
		errors.Is(err, auction.ErrAlreadySettled),
		errors.Is(err, ledger.ErrNothingToWithdraw):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
