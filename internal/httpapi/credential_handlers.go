package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"meetbid.org/internal/audit"
	"meetbid.org/internal/auction"
	"meetbid.org/internal/credential"
)

type canBurnResponse struct {
	CredentialID string `json:"credential_id"`
	CanBurn      bool   `json:"can_burn"`
	At           int64  `json:"at"`
}

func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "credential not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getCredential(w, r, id)
	case "burn":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.burnCredential(w, r, id)
	case "can-burn":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.canBurn(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request, id string) {
	cred, err := a.issuer.Get(r.Context(), id)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) burnCredential(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Holder string `json:"holder,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	holder := caller(r, req.Holder)
	if holder == "" {
		writeError(w, r, http.StatusBadRequest, "holder is required")
		return
	}

	grant, err := a.issuer.Burn(r.Context(), id, holder)
	if err != nil {
		handleCredentialError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "credential.burn", map[string]any{
		"credential_id": id,
		"holder":        holder,
		"auction_id":    grant.AuctionID,
	})

	writeJSON(w, http.StatusOK, grant)
}

func (a *API) canBurn(w http.ResponseWriter, r *http.Request, id string) {
	holder := caller(r, r.URL.Query().Get("holder"))
	if holder == "" {
		writeError(w, r, http.StatusBadRequest, "holder is required")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("meeting_time"))
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "meeting_time is required")
		return
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "meeting_time must be an integer")
		return
	}
	meetingTime := auction.Tick(v)

	now := a.clock.Now()

	ok := a.issuer.CanBurn(r.Context(), id, holder, now, meetingTime)
	writeJSON(w, http.StatusOK, canBurnResponse{
		CredentialID: id,
		CanBurn:      ok,
		At:           int64(now),
	})
}

func handleCredentialError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, credential.ErrNotHolder):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, credential.ErrAlreadyBurned),
		errors.Is(err, credential.ErrAuctionBound):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		handleAuctionError(w, r, err)
	}
}
