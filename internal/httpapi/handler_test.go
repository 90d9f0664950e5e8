package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"boltcard-withdraw-server/internal/lnd"
	"boltcard-withdraw-server/internal/lnurlw"
	"boltcard-withdraw-server/internal/store"
	"boltcard-withdraw-server/internal/tap"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCardStore struct {
	createResult *store.CreateCardResult
	createErr    error
	material     *store.ProvisioningMaterial
	fetchErr     error
	lastParams   store.CreateCardParams
	card         *store.Card
	getErr       error
	list         []*store.Card
	listErr      error
}

func (f *fakeCardStore) Create(_ context.Context, p store.CreateCardParams) (*store.CreateCardResult, error) {
	f.lastParams = p
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeCardStore) FetchProvisioning(_ context.Context, _ string) (*store.ProvisioningMaterial, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.material, nil
}

func (f *fakeCardStore) GetByID(_ context.Context, _ int64) (*store.Card, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.card, nil
}

func (f *fakeCardStore) List(_ context.Context) ([]*store.Card, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, stream string, _ []byte) (string, error) {
	f.published = append(f.published, stream)
	return "1-0", nil
}

func newTestHandler(cards *fakeCardStore, pub Publisher) *Handler {
	return NewHandler(cards, nil, nil, pub, "bolt.example.com", 50_000, 200_000, 15*time.Minute)
}

func TestCreateBoltCard_Success(t *testing.T) {
	cards := &fakeCardStore{createResult: &store.CreateCardResult{CardID: 1, OneTimeCode: "abc123"}}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	body := `{"card_name":"wallet card","tx_limit_sats":1000,"day_limit_sats":5000}`
	req := httptest.NewRequest(http.MethodPost, "/api/createboltcard", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp["status"])
	assert.Equal(t, "https://bolt.example.com/new?a=abc123", resp["url"])
	assert.Equal(t, int64(1000), cards.lastParams.TxLimitSats)
	assert.Equal(t, int64(5000), cards.lastParams.DayLimitSats)
}

func TestCreateBoltCard_MalformedRequest(t *testing.T) {
	cards := &fakeCardStore{}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/createboltcard", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBoltCard_DefaultsApplied(t *testing.T) {
	cards := &fakeCardStore{createResult: &store.CreateCardResult{CardID: 1, OneTimeCode: "code"}}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/createboltcard", strings.NewReader(`{"card_name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(50_000), cards.lastParams.TxLimitSats)
	assert.Equal(t, int64(200_000), cards.lastParams.DayLimitSats)
	assert.True(t, cards.lastParams.Enabled)
}

func TestFetchProvisioning_Success(t *testing.T) {
	cards := &fakeCardStore{material: &store.ProvisioningMaterial{
		CardID: 1, CardName: "wallet card",
		K0: "00", K1: "01", K2: "02", K3: "03", K4: "04",
	}}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/new?a=abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp provisioningResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "create_bolt_card_response", resp.ProtocolName)
	assert.Equal(t, 2, resp.ProtocolVersion)
	assert.Equal(t, "lnurlw://bolt.example.com/ln", resp.LnurlwBase)
	assert.Equal(t, "01", resp.K1)
}

func TestFetchProvisioning_AlreadyUsed(t *testing.T) {
	cards := &fakeCardStore{fetchErr: store.ErrCodeAlreadyUsed}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/new?a=abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp["status"])
	assert.Equal(t, "provisioning code already used", resp["reason"])
}

func TestFetchProvisioning_MissingCode(t *testing.T) {
	cards := &fakeCardStore{}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/new", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp["status"])
}

func TestGetCard_Success(t *testing.T) {
	cards := &fakeCardStore{card: &store.Card{CardID: 1, CardName: "wallet card", Enabled: true}}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp store.Card
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "wallet card", resp.CardName)
	assert.NotContains(t, w.Body.String(), "\"k1\"")
}

func TestGetCard_NotFound(t *testing.T) {
	cards := &fakeCardStore{getErr: store.ErrCardNotFound}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/99", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCard_BadID(t *testing.T) {
	h := newTestHandler(&fakeCardStore{}, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/cards/notanumber", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCards_Success(t *testing.T) {
	cards := &fakeCardStore{list: []*store.Card{{CardID: 1}, {CardID: 2}}}
	h := newTestHandler(cards, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/cards", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Cards []store.Card `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Cards, 2)
}

// fakeCardRepo/fakePaymentRepo/fakeDispatcher below back a real
// lnurlw.SessionManager and tap.Authenticator so the /ln and /ln/callback
// handlers exercise actual routing and JSON shaping, not just stubs.

type fakeCardRepo struct {
	card *store.Card
}

func (f *fakeCardRepo) GetByID(_ context.Context, cardID int64) (*store.Card, error) {
	if f.card == nil || f.card.CardID != cardID {
		return nil, store.ErrCardNotFound
	}
	return f.card, nil
}

func (f *fakeCardRepo) AdvanceCounter(_ context.Context, _ int64, _ uint32) error { return nil }
func (f *fakeCardRepo) RecordTapUID(_ context.Context, _ int64, _ string) error   { return nil }

type fakePaymentRepo struct {
	session *store.CardPayment
}

func (f *fakePaymentRepo) CreateSession(_ context.Context, cardID int64) (*store.CardPayment, error) {
	f.session = &store.CardPayment{PaymentID: 1, CardID: cardID, K1Session: "sesk1"}
	return f.session, nil
}

func (f *fakePaymentRepo) GetByK1Session(_ context.Context, k1 string) (*store.CardPayment, error) {
	if f.session == nil || f.session.K1Session != k1 {
		return nil, store.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakePaymentRepo) BindInvoice(_ context.Context, k1, invoice string, amountMsats int64) (*store.CardPayment, error) {
	f.session.Invoice = &invoice
	f.session.AmountMsats = &amountMsats
	return f.session, nil
}

func (f *fakePaymentRepo) MarkPaid(_ context.Context, paymentID int64) error {
	f.session.Paid = true
	return nil
}

func (f *fakePaymentRepo) SumPaidLast24h(_ context.Context, _ int64, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeDispatcherStub struct{}

func (fakeDispatcherStub) PayInvoice(_ context.Context, _ string, amountMsats int64) (*lnd.PaymentResult, error) {
	return &lnd.PaymentResult{Status: lnd.PaymentSucceeded, Preimage: "ff"}, nil
}
func (fakeDispatcherStub) GetInfo(_ context.Context) (*lnd.NodeInfo, error) { return &lnd.NodeInfo{}, nil }
func (fakeDispatcherStub) Close() error                                    { return nil }

func TestWithdraw_UnknownCard(t *testing.T) {
	cards := &fakeCardRepo{}
	payments := &fakePaymentRepo{}
	tapAuth := tap.NewAuthenticator(cards, payments)
	sessions, err := lnurlw.NewSessionManager(cards, payments, fakeDispatcherStub{}, "bolt.example.com", "mainnet")
	require.NoError(t, err)

	h := NewHandler(&fakeCardStore{}, tapAuth, sessions, nil, "bolt.example.com", 1000, 5000, 15*time.Minute)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/ln?card_id=99&p="+strings.Repeat("a", 32)+"&c="+strings.Repeat("b", 16), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp["status"])
}

func TestWithdraw_BadCardIDParam(t *testing.T) {
	h := newTestHandler(&fakeCardStore{}, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/ln?card_id=notanumber&p=x&c=y", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp["status"])
}

func TestWithdrawCallback_MissingParams(t *testing.T) {
	h := newTestHandler(&fakeCardStore{}, nil)
	r := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/ln/callback", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp["status"])
}
