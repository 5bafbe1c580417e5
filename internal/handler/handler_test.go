package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"debtloop/internal/loop"
	"debtloop/internal/netting"
	"debtloop/internal/registry"
	"debtloop/internal/repository/memory"
	"debtloop/internal/settlement"
	"debtloop/pkg/cache"
	apperrors "debtloop/pkg/errors"
	"debtloop/pkg/logger"
	"debtloop/pkg/validator"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *mux.Router
	conn   *settlement.SimulatedConnector
}

func newTestServer(t *testing.T, checks map[string]PingFunc) *testServer {
	t.Helper()
	log := logger.NewNop()
	store := memory.NewStore()
	rc := cache.NewMemoryCache()
	conn := settlement.NewSimulatedConnector()
	conn.Open("clearing", decimal.Zero, true)

	engine := netting.NewEngine(netting.DefaultOptions(), netting.DefaultFeeSchedule(), log)
	reg := registry.NewService(store.Companies(), store.Positions(), rc, "USD", log)
	loops := loop.NewService(engine, store, store.Companies(), store.Positions(), store.Loops(),
		settlement.NewExecutor(conn, "clearing", log), rc,
		loop.Config{LoopTTL: time.Hour, ResultCacheTTL: time.Minute}, log)

	val := validator.New()
	r := mux.NewRouter()
	RegisterRoutes(r,
		NewCompanyHandler(reg, val, log),
		NewLoopHandler(loops, val, log),
		NewSystemHandler(checks, log),
	)
	return &testServer{router: r, conn: conn}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (s *testServer) company(t *testing.T, id, funds string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/v1/companies",
		`{"name":"Company `+id+`","anonymous_id":"`+id+`","payment_handle":"acct-`+id+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	s.conn.Open("acct-"+id, decimal.RequireFromString(funds), false)
}

func (s *testServer) debt(t *testing.T, debtor, creditor, amount string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/v1/companies/"+debtor+"/positions",
		`{"counterparty_id":"`+creditor+`","role":"debt","amount":"`+amount+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCompanyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.company(t, "ANX-2847", "0")
	s.company(t, "BTA-5791", "0")

	w, body := s.do(t, http.MethodGet, "/api/v1/companies", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, body = s.do(t, http.MethodGet, "/api/v1/companies/ANX-2847", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2500), body["token_balance"])

	w, _ = s.do(t, http.MethodGet, "/api/v1/companies/NOP-0000", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/companies", `{"name":"Again","anonymous_id":"ANX-2847"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/v1/companies", `{"name":"X","anonymous_id":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation failed", body["error"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/companies", `{"name":"Unknown","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPositionEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.company(t, "ANX-2847", "0")
	s.company(t, "BTA-5791", "0")

	w, _ := s.do(t, http.MethodPost, "/api/v1/companies/ANX-2847/positions",
		`{"counterparty_id":"BTA-5791","role":"credit","amount":"250.75"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/v1/companies/ANX-2847/positions",
		`{"counterparty_id":"GMA-9234","role":"debt","amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ErrCounterpartyNotFound.Error(), body["error"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/companies/ANX-2847/positions",
		`{"counterparty_id":"BTA-5791","role":"loan","amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/companies/ANX-2847/positions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = s.do(t, http.MethodGet, "/api/v1/companies/ANX-2847/net-position", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "250.75", body["net"])
}

func TestLoopLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	s.company(t, "AAA-0001", "0")
	s.company(t, "BBB-0002", "0")
	s.company(t, "CCC-0003", "100")
	s.debt(t, "AAA-0001", "BBB-0002", "100")
	s.debt(t, "BBB-0002", "CCC-0003", "80")
	s.debt(t, "CCC-0003", "AAA-0001", "120")

	w, body := s.do(t, http.MethodPost, "/api/v1/loops/detect", `{"initiator":"AAA-0001"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	candidates := body["candidates"].([]interface{})
	require.Len(t, candidates, 1)
	assert.Equal(t, float64(25), candidates[0].(map[string]interface{})["fee"])

	w, body = s.do(t, http.MethodPost, "/api/v1/loops",
		`{"initiator":"AAA-0001","participants":["AAA-0001","BBB-0002","CCC-0003"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	loopID := body["id"].(string)
	assert.Equal(t, "pending", body["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/companies/BBB-0002/loops/active", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/respond", `{"company_id":"BBB-0002","action":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/respond", `{"company_id":"AAA-0001","action":"accept"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/respond", `{"company_id":"BBB-0002","action":"accept"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = s.do(t, http.MethodPost, "/api/v1/loops/"+loopID+"/respond", `{"company_id":"CCC-0003","action":"accept"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "completed", body["status"])

	w, body = s.do(t, http.MethodGet, "/api/v1/loops/"+loopID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["participants"], 3)

	w, body = s.do(t, http.MethodGet, "/api/v1/loops?status=completed", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = s.do(t, http.MethodGet, "/api/v1/companies/AAA-0001", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2475), body["token_balance"])
}

func TestLoopErrors(t *testing.T) {
	s := newTestServer(t, nil)
	s.company(t, "AAA-0001", "0")
	s.company(t, "BBB-0002", "0")
	s.company(t, "CCC-0003", "0")

	w, _ := s.do(t, http.MethodGet, "/api/v1/loops/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/loops/7d0b8a56-8f0e-4a53-9a3b-0b8a2f1f6c11", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops",
		`{"initiator":"AAA-0001","participants":["AAA-0001","BBB-0002","CCC-0003"]}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops",
		`{"initiator":"AAA-0001","participants":["AAA-0001","BBB-0002"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/loops/detect", `{"max_depth":20}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteFee(t *testing.T) {
	s := newTestServer(t, nil)

	w, body := s.do(t, http.MethodPost, "/api/v1/fees/quote", `{"participants":3,"total_value":"80"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(25), body["fee"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/fees/quote", `{"participants":2,"total_value":"80"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]PingFunc{
		"database": func(ctx context.Context) error { return nil },
	})
	w, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, body = s.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	down := newTestServer(t, map[string]PingFunc{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	w, body = down.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not ready", body["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, statusFor(apperrors.ErrInsufficientTokens))
	assert.Equal(t, http.StatusGone, statusFor(apperrors.Wrap(apperrors.ErrLoopExpired, "respond")))
	assert.Equal(t, http.StatusForbidden, statusFor(apperrors.ErrNotParticipant))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
