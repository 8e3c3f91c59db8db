package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/baller-exchange/internal/adapter/identity"
	"github.com/rl1809/baller-exchange/internal/adapter/oracle"
	"github.com/rl1809/baller-exchange/internal/adapter/storage"
	"github.com/rl1809/baller-exchange/internal/core/service"
)

var testSecret = []byte("test-secret")

type services struct {
	ledger  *service.LedgerService
	rolls   *service.RollService
	trades  *service.TradeService
	queries *service.QueryService
}

func newServices(t *testing.T) services {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	coord := service.NewCoordinator(store, 20, time.Millisecond, log)
	cfg := service.DefaultEconomyConfig()
	return services{
		ledger:  service.NewLedgerService(coord, cfg, log),
		rolls:   service.NewRollService(coord, oracle.NewLocalOracle("", nil), identity.NewClaimsSource("baller"), nil, cfg, log),
		trades:  service.NewTradeService(coord, cfg, log),
		queries: service.NewQueryService(store),
	}
}

func newTestRouter(t *testing.T, cfg RouterConfig) http.Handler {
	t.Helper()
	log, _ := test.NewNullLogger()
	s := newServices(t)
	return NewRouter(NewHTTPHandler(s.ledger, s.rolls, s.trades, s.queries, log), cfg, log)
}

// call sends a request as userID through the X-User-ID header.
func call(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return raw
}
