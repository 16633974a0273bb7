package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/http/middleware"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/rpcproxy"
	"github.com/d4l-network/d4l-gateway/internal/security"
	"github.com/d4l-network/d4l-gateway/internal/service"
)

const (
	walletA = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	walletB = "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return env
}

func withSession(r *http.Request, address string) *http.Request {
	info := &service.SessionInfo{Address: address, TokenID: "jti", ExpiresAt: time.Now().Add(time.Hour)}
	return r.WithContext(context.WithValue(r.Context(), middleware.SessionContextKey, info))
}

func withAdmin(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.AdminContextKey, true))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type fakeProfiles struct {
	records map[string]*domain.ProfileRecord
}

func (f *fakeProfiles) Get(_ context.Context, address string) (*domain.ProfileRecord, error) {
	if !security.IsAddress(address) {
		return nil, service.ErrInvalidAddress
	}
	return f.records[security.NormalizeAddress(address)], nil
}

func (f *fakeProfiles) Upsert(_ context.Context, in service.ProfileInput) (*domain.ProfileRecord, error) {
	rec := &domain.ProfileRecord{Address: security.NormalizeAddress(in.Address), BaseAmount: "0", BonusAmount: "0"}
	f.records[rec.Address] = rec
	return rec, nil
}

func (f *fakeProfiles) MarkClaimed(_ context.Context, address string) (*domain.ProfileRecord, error) {
	rec, ok := f.records[security.NormalizeAddress(address)]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	rec.Claimed = true
	return rec, nil
}

func TestProfileGetAbsentReportsNoProfile(t *testing.T) {
	h := NewProfileHandler(&fakeProfiles{records: map[string]*domain.ProfileRecord{}})
	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/api/fallback/profile?address="+walletA, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if !env.Success || string(env.Data) != `{"hasProfile":false}` {
		t.Fatalf("unexpected payload %s", rr.Body.String())
	}
}

func TestProfileGetInvalidAddress(t *testing.T) {
	h := NewProfileHandler(&fakeProfiles{records: map[string]*domain.ProfileRecord{}})
	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/api/fallback/profile?address=0x123", nil))
	if rr.Code != http.StatusBadRequest || decodeEnvelope(t, rr).Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestProfileMarkClaimedNotFoundAndOwnership(t *testing.T) {
	h := NewProfileHandler(&fakeProfiles{records: map[string]*domain.ProfileRecord{}})

	rr := httptest.NewRecorder()
	h.MarkClaimed(rr, withSession(jsonRequest(http.MethodPatch, "/api/fallback/profile", `{"address":"`+walletA+`"}`), walletA))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.MarkClaimed(rr, withSession(jsonRequest(http.MethodPatch, "/api/fallback/profile", `{"address":"`+walletB+`"}`), walletA))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another wallet, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Upsert(rr, withAdmin(jsonRequest(http.MethodPost, "/api/fallback/profile", `{"address":"`+walletB+`"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin upsert for any wallet, got %d", rr.Code)
	}
}

type fakeClaims struct {
	outcome  *service.ClaimOutcome
	err      error
	lastList repository.ClaimListQuery
}

func (f *fakeClaims) Claim(context.Context, service.ClaimInput) (*service.ClaimOutcome, error) {
	return f.outcome, f.err
}

func (f *fakeClaims) Status(_ context.Context, address string) (*service.ClaimStatusView, error) {
	return &service.ClaimStatusView{Address: address}, nil
}

func (f *fakeClaims) List(_ context.Context, q repository.ClaimListQuery) (repository.PageResult[domain.ClaimRequest], error) {
	f.lastList = q
	return repository.PageResult[domain.ClaimRequest]{Items: []domain.ClaimRequest{}, Page: q.Page, PageSize: q.PageSize}, nil
}

func (f *fakeClaims) Resolve(_ context.Context, id uint, status domain.ClaimStatus, _ string) (*domain.ClaimRequest, error) {
	if id == 404 {
		return nil, repository.ErrClaimRequestNotFound
	}
	if !status.Valid() || status == domain.ClaimStatusPending {
		return nil, service.ErrValidation
	}
	return &domain.ClaimRequest{ID: id, Status: status}, nil
}

func TestClaimRecordedReturnsAccepted(t *testing.T) {
	claims := &fakeClaims{outcome: &service.ClaimOutcome{Status: service.ClaimStatusRecorded, Message: "claim recorded, pending processing"}}
	h := NewClaimHandler(claims)

	rr := httptest.NewRecorder()
	h.Claim(rr, withSession(jsonRequest(http.MethodPost, "/api/claim", `{"address":"`+walletA+`","amount":"1"}`), walletA))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"recorded"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	claims.outcome = &service.ClaimOutcome{Status: service.ClaimStatusConfirmed, TransactionHash: "0xabc"}
	rr = httptest.NewRecorder()
	h.Claim(rr, withSession(jsonRequest(http.MethodPost, "/api/claim", `{"address":"`+walletA+`","amount":"1"}`), walletA))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for confirmed claim, got %d", rr.Code)
	}
}

func TestClaimRejectsOtherWallet(t *testing.T) {
	h := NewClaimHandler(&fakeClaims{})
	rr := httptest.NewRecorder()
	h.Claim(rr, withSession(jsonRequest(http.MethodPost, "/api/claim", `{"address":"`+walletB+`","amount":"1"}`), walletA))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

type fakeForwarder struct{}

func (fakeForwarder) Forward(_ context.Context, method string, _ json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_blockNumber":
		return json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`), nil
	case "eth_chainId":
		return nil, fmt.Errorf("%w: dial tcp", rpcproxy.ErrUpstreamUnavailable)
	default:
		return nil, fmt.Errorf("%w: %s", rpcproxy.ErrMethodNotAllowed, method)
	}
}

func TestRPCProxyResponses(t *testing.T) {
	h := NewRPCHandler(fakeForwarder{})
	cases := []struct {
		body string
		want int
		code string
	}{
		{body: `{"method":"eth_blockNumber","params":[]}`, want: http.StatusOK},
		{body: `{"method":"eth_sendRawTransaction","params":["0x00"]}`, want: http.StatusForbidden, code: "FORBIDDEN"},
		{body: `{"method":"eth_chainId"}`, want: http.StatusServiceUnavailable, code: "BLOCKCHAIN_UNAVAILABLE"},
		{body: `{"params":[]}`, want: http.StatusBadRequest, code: "BAD_REQUEST"},
		{body: `not json`, want: http.StatusBadRequest, code: "BAD_REQUEST"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.Proxy(rr, jsonRequest(http.MethodPost, "/api/rpc", tc.body))
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.body, tc.want, rr.Code)
		}
		env := decodeEnvelope(t, rr)
		if tc.code != "" && (env.Error == nil || env.Error.Code != tc.code) {
			t.Fatalf("%s: expected code %s, got %s", tc.body, tc.code, rr.Body.String())
		}
		if tc.want == http.StatusOK && !strings.Contains(string(env.Data), `"result":"0x10"`) {
			t.Fatalf("expected raw provider document, got %s", env.Data)
		}
	}
}

type fakeRelay struct {
	calls  int
	err    error
	status string
}

func (f *fakeRelay) Execute(_ context.Context, req service.RelayRequest) (*service.RelayResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == "" {
		status = service.RelayStatusConfirmed
	}
	return &service.RelayResult{Action: req.Action, Status: status, Message: "ok", TransactionHash: "0xhash", BlockNumber: 7}, nil
}

func TestTransactionPendingReceiptReturnsAccepted(t *testing.T) {
	h := NewTransactionHandler(&fakeRelay{status: service.RelayStatusSubmitted})
	rr := httptest.NewRecorder()
	h.Execute(rr, withAdmin(jsonRequest(http.MethodPost, "/api/transaction", `{"action":"transfer","params":{}}`)))
	if rr.Code != http.StatusAccepted || !strings.Contains(rr.Body.String(), `"status":"submitted"`) {
		t.Fatalf("expected 202 submitted, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestTransactionErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{name: "validation", err: fmt.Errorf("%w: recipient", service.ErrValidation), want: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "reverted", err: &chain.ContractError{Kind: chain.KindReverted, Contract: chain.ContractToken, Function: "transfer", Reason: "insufficient balance"}, want: http.StatusBadGateway, code: "CONTRACT_ERROR"},
		{name: "network", err: &chain.ContractError{Kind: chain.KindNetwork, Contract: chain.ContractToken, Function: "transfer", Err: errors.New("timeout")}, want: http.StatusServiceUnavailable, code: "BLOCKCHAIN_UNAVAILABLE"},
		{name: "refused", err: &chain.ContractError{Kind: chain.KindSubmission, Contract: chain.ContractToken, Function: "transfer", Err: errors.New("insufficient funds for gas * price + value")}, want: http.StatusServiceUnavailable, code: "BLOCKCHAIN_UNAVAILABLE"},
		{name: "pending", err: &chain.ContractError{Kind: chain.KindNetwork, Contract: chain.ContractToken, Function: "transfer", Err: fmt.Errorf("%w: %w", chain.ErrTxPending, chain.ErrReceiptTimeout)}, want: http.StatusGatewayTimeout, code: "BLOCKCHAIN_UNAVAILABLE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewTransactionHandler(&fakeRelay{err: tc.err})
			rr := httptest.NewRecorder()
			h.Execute(rr, withAdmin(jsonRequest(http.MethodPost, "/api/transaction", `{"action":"transfer","params":{}}`)))
			if rr.Code != tc.want || decodeEnvelope(t, rr).Error.Code != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.want, tc.code, rr.Code, rr.Body.String())
			}
		})
	}

	relay := &fakeRelay{}
	h := NewTransactionHandler(relay)
	rr := httptest.NewRecorder()
	h.Execute(rr, withAdmin(jsonRequest(http.MethodPost, "/api/transaction", `{"params":{}}`)))
	if rr.Code != http.StatusBadRequest || relay.calls != 0 {
		t.Fatalf("expected missing action rejected before relay, got %d calls=%d", rr.Code, relay.calls)
	}
}

type fakeReconciler struct{}

func (fakeReconciler) RunOnce(context.Context) (service.ReconcileReport, error) {
	return service.ReconcileReport{Scanned: 2, Confirmed: 1, Retried: 1}, nil
}

type fakeAnalytics struct {
	tracked int
	window  time.Duration
}

func (f *fakeAnalytics) Track(_ context.Context, in service.EventInput) error {
	if in.EventType == "" {
		return fmt.Errorf("%w: eventType is required", service.ErrValidation)
	}
	f.tracked++
	return nil
}

func (f *fakeAnalytics) StartSession(_ context.Context, in service.SessionInput) (*domain.AnalyticsSession, error) {
	id := in.SessionID
	if id == "" {
		id = "11111111-2222-4333-8444-555555555555"
	}
	return &domain.AnalyticsSession{ID: id, UserAgent: in.UserAgent}, nil
}

func (f *fakeAnalytics) Summary(_ context.Context, window time.Duration) (*service.AnalyticsSummary, error) {
	f.window = window
	return &service.AnalyticsSummary{Total: 3}, nil
}

func TestAnalyticsEventAndSession(t *testing.T) {
	analytics := &fakeAnalytics{}
	h := NewAnalyticsHandler(analytics)

	rr := httptest.NewRecorder()
	h.Event(rr, jsonRequest(http.MethodPost, "/api/analytics/event", `{"eventType":"page_view","path":"/claim"}`))
	if rr.Code != http.StatusAccepted || analytics.tracked != 1 {
		t.Fatalf("expected 202 and one tracked event, got %d tracked=%d", rr.Code, analytics.tracked)
	}

	rr = httptest.NewRecorder()
	h.Event(rr, jsonRequest(http.MethodPost, "/api/analytics/event", `{"path":"/claim"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event type, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.Session(rr, httptest.NewRequest(http.MethodPost, "/api/analytics/session", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"sessionId":"11111111-2222-4333-8444-555555555555"`) {
		t.Fatalf("unexpected session response %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminHandlers(t *testing.T) {
	claims := &fakeClaims{}
	analytics := &fakeAnalytics{}
	h := NewAdminHandler(claims, fakeReconciler{}, analytics)
	r := chi.NewRouter()
	r.Get("/claims", h.ListClaims)
	r.Post("/claims/reconcile", h.Reconcile)
	r.Patch("/claims/{id}", h.ResolveClaim)
	r.Get("/analytics/summary", h.AnalyticsSummary)

	serve := func(req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	if rr := serve(httptest.NewRequest(http.MethodGet, "/claims?status=pending&page=2&page_size=5", nil)); rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	if claims.lastList.Status != domain.ClaimStatusPending || claims.lastList.Page != 2 || claims.lastList.PageSize != 5 {
		t.Fatalf("unexpected list query %+v", claims.lastList)
	}
	if rr := serve(httptest.NewRequest(http.MethodGet, "/claims?status=bogus", nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("list: expected 400 for bad status, got %d", rr.Code)
	}

	rr := serve(httptest.NewRequest(http.MethodPost, "/claims/reconcile", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"confirmed":1`) {
		t.Fatalf("reconcile: unexpected %d %s", rr.Code, rr.Body.String())
	}

	if rr := serve(jsonRequest(http.MethodPatch, "/claims/9", `{"status":"failed"}`)); rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rr.Code)
	}
	if rr := serve(jsonRequest(http.MethodPatch, "/claims/404", `{"status":"failed"}`)); rr.Code != http.StatusNotFound {
		t.Fatalf("resolve: expected 404, got %d", rr.Code)
	}
	if rr := serve(jsonRequest(http.MethodPatch, "/claims/abc", `{"status":"failed"}`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("resolve: expected 400 for bad id, got %d", rr.Code)
	}

	if rr := serve(httptest.NewRequest(http.MethodGet, "/analytics/summary?window=2h", nil)); rr.Code != http.StatusOK || analytics.window != 2*time.Hour {
		t.Fatalf("summary: unexpected %d window=%v", rr.Code, analytics.window)
	}
	if rr := serve(httptest.NewRequest(http.MethodGet, "/analytics/summary?window=soon", nil)); rr.Code != http.StatusBadRequest {
		t.Fatalf("summary: expected 400, got %d", rr.Code)
	}
}
