package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/server/middleware"
)

type fakeOfferService struct {
	createErr error
	buyErr    error
	cancelErr error
	getErr    error
	offer     domain.Offer
	fill      domain.Fill
	offers    []domain.Offer

	gotSeller string
	gotBuyer  string
	gotAmount decimal.Decimal
}

func (f *fakeOfferService) CreateOffer(_ context.Context, seller string, _ domain.CreateOfferRequest) (uint64, error) {
	f.gotSeller = seller
	if f.createErr != nil {
		return 0, f.createErr
	}
	return 42, nil
}

func (f *fakeOfferService) BatchCreateOffers(_ context.Context, seller string, reqs []domain.CreateOfferRequest) ([]domain.BatchCreateResult, error) {
	results := make([]domain.BatchCreateResult, len(reqs))
	for i := range reqs {
		results[i] = domain.BatchCreateResult{Index: i, OfferID: uint64(i + 1)}
	}
	return results, nil
}

func (f *fakeOfferService) BuyOffer(_ context.Context, buyer string, _ uint64, amount decimal.Decimal) (domain.Fill, error) {
	f.gotBuyer = buyer
	f.gotAmount = amount
	if f.buyErr != nil {
		return domain.Fill{}, f.buyErr
	}
	return f.fill, nil
}

func (f *fakeOfferService) CancelOffer(context.Context, string, uint64) error {
	return f.cancelErr
}

func (f *fakeOfferService) GetOffer(context.Context, uint64) (domain.Offer, error) {
	if f.getErr != nil {
		return domain.Offer{}, f.getErr
	}
	return f.offer, nil
}

func (f *fakeOfferService) ListOffers(context.Context, domain.OfferFilter) []domain.Offer {
	return f.offers
}

func (f *fakeOfferService) ListFills(context.Context, uint64, domain.ListOpts) ([]domain.Fill, error) {
	return nil, nil
}

func (f *fakeOfferService) RecentFills(context.Context, int) ([]domain.Fill, error) {
	return []domain.Fill{f.fill}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newOfferMux registers the offer routes the way the server does, wrapped in
// auth so handlers see a principal.
func newOfferMux(svc OfferService, keys map[string]string) http.Handler {
	h := NewOfferHandler(svc, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/offers", h.ListOffers)
	mux.HandleFunc("POST /api/offers", h.CreateOffer)
	mux.HandleFunc("POST /api/offers/batch", h.BatchCreateOffers)
	mux.HandleFunc("GET /api/offers/{id}", h.GetOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", h.CancelOffer)
	mux.HandleFunc("POST /api/offers/{id}/fill", h.FillOffer)
	return middleware.Auth(keys)(mux)
}

func TestCreateOfferUsesAuthenticatedPrincipal(t *testing.T) {
	svc := &fakeOfferService{}
	mux := newOfferMux(svc, map[string]string{"key-1": "alice"})

	body := `{"offer_token":"WETH","payment_token":"USDC","price":"2450","amount":"10","expires_at":"2027-01-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer key-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "alice", svc.gotSeller)

	var resp map[string]uint64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(42), resp["offer_id"])
}

func TestCreateOfferRejectsBadToken(t *testing.T) {
	mux := newOfferMux(&fakeOfferService{}, map[string]string{"key-1": "alice"})

	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEngineErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "validation maps to 400",
			err:    domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "amount must be positive"),
			status: http.StatusBadRequest,
			code:   domain.CodeInvalidAmount,
		},
		{
			name:   "authorization maps to 403",
			err:    domain.Errorf(domain.ErrAuthorization, domain.CodePermissionDenied, "denied"),
			status: http.StatusForbidden,
			code:   domain.CodePermissionDenied,
		},
		{
			name:   "state maps to 409",
			err:    domain.Errorf(domain.ErrState, domain.CodeOfferNotActive, "offer not active"),
			status: http.StatusConflict,
			code:   domain.CodeOfferNotActive,
		},
		{
			name:   "breaker maps to 422",
			err:    domain.Errorf(domain.ErrCircuitBreaker, domain.CodeVolumeLimitExceeded, "daily limit"),
			status: http.StatusUnprocessableEntity,
			code:   domain.CodeVolumeLimitExceeded,
		},
		{
			name:   "funds maps to 422",
			err:    domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance, "balance"),
			status: http.StatusUnprocessableEntity,
			code:   domain.CodeInsufficientBalance,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeOfferService{buyErr: tc.err}
			mux := newOfferMux(svc, map[string]string{"key-1": "bob"})

			req := httptest.NewRequest(http.MethodPost, "/api/offers/7/fill", strings.NewReader(`{"amount":"4"}`))
			req.Header.Set("X-API-Key", "key-1")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code, rec.Body.String())

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp["code"])
		})
	}
}

func TestFillOfferDecodesDecimalAmount(t *testing.T) {
	svc := &fakeOfferService{
		fill: domain.Fill{
			TradeID:   "t-1",
			OfferID:   7,
			Buyer:     "bob",
			Amount:    decimal.NewFromInt(4),
			Price:     decimal.NewFromInt(2450),
			Notional:  decimal.NewFromInt(9800),
			Fee:       decimal.RequireFromString("29.4"),
			Timestamp: time.Now(),
		},
	}
	mux := newOfferMux(svc, map[string]string{"key-1": "bob"})

	req := httptest.NewRequest(http.MethodPost, "/api/offers/7/fill", strings.NewReader(`{"amount":"4"}`))
	req.Header.Set("X-API-Key", "key-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "bob", svc.gotBuyer)
	assert.True(t, svc.gotAmount.Equal(decimal.NewFromInt(4)))

	var fill domain.Fill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fill))
	assert.Equal(t, "t-1", fill.TradeID)
	assert.True(t, fill.Fee.Equal(decimal.RequireFromString("29.4")))
}

func TestGetOfferNotFound(t *testing.T) {
	svc := &fakeOfferService{getErr: domain.ErrNotFound}
	mux := newOfferMux(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/offers/999", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOfferInvalidID(t *testing.T) {
	mux := newOfferMux(&fakeOfferService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/offers/abc", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOffersEmptyIsJSONArray(t *testing.T) {
	mux := newOfferMux(&fakeOfferService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/offers?status=active", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"offers":[]}`, rec.Body.String())
}

func TestMutationsRequirePrincipalInDemoMode(t *testing.T) {
	// No keys configured: auth is disabled, but mutating endpoints still
	// need a claimed principal via X-Principal.
	mux := newOfferMux(&fakeOfferService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	svc := &fakeOfferService{}
	mux = newOfferMux(svc, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{"offer_token":"WETH"}`))
	req.Header.Set("X-Principal", "alice")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", svc.gotSeller)
}
