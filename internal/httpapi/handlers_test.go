package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"

	"meetbid.org/internal/auction"
	"meetbid.org/internal/credential"
	"meetbid.org/internal/identity"
	"meetbid.org/internal/ledger"
	"meetbid.org/internal/stream"
)

type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() auction.Tick { return auction.Tick(c.now.Load()) }

func (c *testClock) set(t auction.Tick) { c.now.Store(int64(t)) }

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	clock   *testClock
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("MEETBID_AUTH_SECRET", "test-secret")
	identity.ResetSecretForTests()

	params := auction.Params{
		MinIncrement:    1,
		FeeBps:          250,
		MinReservePrice: 100,
		AntiSnipeWindow: 50,
		ExtensionWindow: 25,
	}
	store := auction.NewInMemoryStore()
	svc := ledger.NewInMemory()
	facts := stream.New()
	registry := auction.NewRegistry(store, facts, params)
	machine := auction.NewMachine(store, svc, facts, params)
	creds := credential.NewInMemoryStore()
	issuer := credential.NewIssuer(machine, creds, facts, 3600)

	clock := &testClock{}
	clock.set(100)

	api := New(ReadyProbe{}, "test", registry, machine, issuer, svc, facts, clock)
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		clock:   clock,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(user string, roles []string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  user,
		"roles": roles,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token: %v", err)
	}
	return payload.Token
}

func (c *apiClient) authHeaders(user string, roles []string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.obtainToken(user, roles)}
}

func (c *apiClient) createAuction(headers map[string]string, key string) auction.Auction {
	c.t.Helper()
	resp := c.post("/v1/auctions", map[string]any{
		"correlation_key":          key,
		"duration_ticks":           900,
		"reserve_price":            100,
		"meeting_duration_minutes": 30,
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create auction status: %d", resp.StatusCode)
	}
	var acc auction.Auction
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		c.t.Fatalf("decode auction: %v", err)
	}
	return acc
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}

	resp2 := c.get("/readyz", nil, nil)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp2.StatusCode)
	}
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	c := newTestAPI(t)

	host := c.authHeaders("alice", []string{identity.RoleHost, identity.RoleOperator})
	acc := c.createAuction(host, "alice:slot-1")
	if acc.EndTime != 1000 {
		t.Fatalf("end_time: got %d, want 1000", acc.EndTime)
	}

	auctionPath := "/v1/auctions/" + strconv.FormatUint(acc.ID, 10)

	bob := c.authHeaders("bob", []string{identity.RoleBidder})
	resp := c.post(auctionPath+"/bids", map[string]any{"amount": 150}, bob)
	bid := decodeBody[auction.Auction](t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bid status: %d", resp.StatusCode)
	}
	if bid.HighestBid != 150 || bid.HighestBidder != "bob" {
		t.Fatalf("unexpected leader: %+v", bid)
	}

	carol := c.authHeaders("carol", []string{identity.RoleBidder})
	resp = c.post(auctionPath+"/bids", map[string]any{"amount": 200}, carol)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("second bid status: %d", resp.StatusCode)
	}

	// Outbid bidder withdraws the held funds.
	resp = c.post(auctionPath+"/withdrawal", nil, bob)
	wd := decodeBody[withdrawalResponse](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("withdraw status: %d", resp.StatusCode)
	}
	if wd.Amount != 150 {
		t.Fatalf("withdraw amount: got %d, want 150", wd.Amount)
	}

	// Second withdrawal conflicts.
	resp = c.post(auctionPath+"/withdrawal", nil, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat withdraw status: %d", resp.StatusCode)
	}

	// End before the deadline conflicts, after it succeeds.
	resp = c.post(auctionPath+"/end", nil, host)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("early end status: %d", resp.StatusCode)
	}

	c.clock.set(1000)
	resp = c.post(auctionPath+"/end", nil, host)
	ended := decodeBody[auction.Auction](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status: %d", resp.StatusCode)
	}
	if ended.Outcome != auction.OutcomeWon || ended.HighestBidder != "carol" {
		t.Fatalf("unexpected outcome: %+v", ended)
	}
	if ended.PlatformAmount != 5 || ended.HostAmount != 195 {
		t.Fatalf("fee split: platform=%d host=%d", ended.PlatformAmount, ended.HostAmount)
	}
}

func TestBidValidationOverHTTP(t *testing.T) {
	c := newTestAPI(t)

	host := c.authHeaders("alice", []string{identity.RoleHost})
	acc := c.createAuction(host, "alice:slot-1")
	path := "/v1/auctions/" + strconv.FormatUint(acc.ID, 10) + "/bids"

	bob := c.authHeaders("bob", []string{identity.RoleBidder})

	// Below reserve.
	resp := c.post(path, map[string]any{"amount": 50}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("below-reserve status: %d", resp.StatusCode)
	}

	resp = c.post(path, map[string]any{"amount": 150}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bid status: %d", resp.StatusCode)
	}

	// Leader may not outbid themselves.
	resp = c.post(path, map[string]any{"amount": 200}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("self-outbid status: %d", resp.StatusCode)
	}

	// Host role cannot bid.
	resp = c.post(path, map[string]any{"amount": 300}, host)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("host bid status: %d", resp.StatusCode)
	}
}

func TestDuplicateCorrelationKeyOverHTTP(t *testing.T) {
	c := newTestAPI(t)

	host := c.authHeaders("alice", []string{identity.RoleHost})
	c.createAuction(host, "alice:slot-1")

	resp := c.post("/v1/auctions", map[string]any{
		"correlation_key":          "alice:slot-1",
		"duration_ticks":           900,
		"reserve_price":            100,
		"meeting_duration_minutes": 30,
	}, host)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate key status: %d", resp.StatusCode)
	}
}

func TestUnknownAuctionIs404(t *testing.T) {
	c := newTestAPI(t)
	headers := c.authHeaders("alice", []string{identity.RoleHost})

	resp := c.get("/v1/auctions/9999", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestFactsEndpointReplays(t *testing.T) {
	c := newTestAPI(t)

	host := c.authHeaders("alice", []string{identity.RoleHost})
	acc := c.createAuction(host, "alice:slot-1")

	bob := c.authHeaders("bob", []string{identity.RoleBidder})
	resp := c.post("/v1/auctions/"+strconv.FormatUint(acc.ID, 10)+"/bids", map[string]any{"amount": 150}, bob)
	resp.Body.Close()

	resp = c.get("/v1/facts", nil, host)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("facts status: %d", resp.StatusCode)
	}
	body := decodeBody[struct {
		Items []stream.Fact `json:"items"`
	}](t, resp)
	if len(body.Items) != 2 {
		t.Fatalf("facts: got %d, want 2", len(body.Items))
	}
	if body.Items[0].Kind != stream.KindAuctionCreated || body.Items[1].Kind != stream.KindBidPlaced {
		t.Fatalf("unexpected fact kinds: %+v", body.Items)
	}
}

func TestCanBurnRequiresMeetingTime(t *testing.T) {
	c := newTestAPI(t)

	bob := c.authHeaders("bob", []string{identity.RoleBidder})

	resp := c.get("/v1/credentials/cred-1/can-burn", url.Values{"holder": {"bob"}}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing meeting_time status: got %d, want 400", resp.StatusCode)
	}

	resp = c.get("/v1/credentials/cred-1/can-burn", url.Values{
		"holder":       {"bob"},
		"meeting_time": {"not-a-tick"},
	}, bob)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad meeting_time status: got %d, want 400", resp.StatusCode)
	}

	resp = c.get("/v1/credentials/cred-1/can-burn", url.Values{
		"holder":       {"bob"},
		"meeting_time": {"500"},
	}, bob)
	body := decodeBody[canBurnResponse](t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("can-burn status: got %d, want 200", resp.StatusCode)
	}
	if body.CanBurn {
		t.Fatalf("unknown credential must not be burnable")
	}
}
