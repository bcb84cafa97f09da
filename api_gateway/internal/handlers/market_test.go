package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"cryptofx/api_gateway/internal/marketdata"
	"cryptofx/api_gateway/internal/plans"
	pkgmw "cryptofx/pkg/middleware"
)

type fakeCrypto struct {
	err      error
	lastIDs  []string
	lastDays int
}

func (f *fakeCrypto) SimplePrices(_ context.Context, ids, vs []string) (marketdata.Result[[]marketdata.Price], error) {
	f.lastIDs = ids
	if f.err != nil {
		return marketdata.Result[[]marketdata.Price]{}, f.err
	}
	return marketdata.Result[[]marketdata.Price]{
		Data:     []marketdata.Price{{ID: ids[0], VsCurrency: vs[0], CurrentPrice: decimal.RequireFromString("64321.5")}},
		CacheHit: true,
	}, nil
}

func (f *fakeCrypto) Popular(ctx context.Context) (marketdata.Result[[]marketdata.Price], error) {
	return f.SimplePrices(ctx, marketdata.PopularCoins, []string{"usd"})
}

func (f *fakeCrypto) MarketChart(_ context.Context, _, _ string, days int) (marketdata.Result[marketdata.MarketChart], error) {
	f.lastDays = days
	return marketdata.Result[marketdata.MarketChart]{Data: marketdata.MarketChart{Prices: [][2]float64{{1, 2}}}, Stale: true}, f.err
}

func (f *fakeCrypto) CoinsList(context.Context) (marketdata.Result[[]marketdata.Coin], error) {
	return marketdata.Result[[]marketdata.Coin]{Data: []marketdata.Coin{{ID: "bitcoin"}}}, f.err
}

type fakeForex struct{ err error }

func (f *fakeForex) DailyRates(context.Context) (marketdata.Result[[]marketdata.Rate], error) {
	return marketdata.Result[[]marketdata.Rate]{Data: []marketdata.Rate{{Currency: "EUR", Rate: decimal.NewFromInt(1)}}}, f.err
}

func (f *fakeForex) HistoricalRates(_ context.Context, days int) (marketdata.Result[map[string][]marketdata.Rate], error) {
	return marketdata.Result[map[string][]marketdata.Rate]{Data: map[string][]marketdata.Rate{"2024-06-03": nil}}, f.err
}

func (f *fakeForex) Convert(_ context.Context, amount decimal.Decimal, from, to string) (marketdata.Conversion, error) {
	if to == "XYZ" {
		return marketdata.Conversion{}, fmt.Errorf("%w: XYZ", marketdata.ErrUnsupportedCurrency)
	}
	rate := decimal.RequireFromString("0.5")
	return marketdata.Conversion{From: from, To: to, Amount: amount, Rate: rate, Result: amount.Mul(rate)}, f.err
}

func (f *fakeForex) SupportedCurrencies(context.Context) []string {
	return []string{"EUR", "USD"}
}

func newMarketRouter(crypto *fakeCrypto, forex *fakeForex) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewMarketHandlers(crypto, forex, plans.MustDefaultRegistry(), logrus.New())
	h.Register(r.Group("/api/v1"))
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(rec, req)
	return rec
}

func TestPricesEnvelope(t *testing.T) {
	crypto := &fakeCrypto{}
	r := newMarketRouter(crypto, &fakeForex{})

	rec := get(r, "/api/v1/crypto/prices?ids=bitcoin,%20ethereum&vs_currencies=eur")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Success  bool               `json:"success"`
		CacheHit bool               `json:"cache_hit"`
		Data     []marketdata.Price `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || !env.CacheHit || len(env.Data) != 1 || env.Data[0].VsCurrency != "eur" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if strings.Join(crypto.lastIDs, ",") != "bitcoin,ethereum" {
		t.Fatalf("ids not split: %v", crypto.lastIDs)
	}
}

func TestPricesValidation(t *testing.T) {
	r := newMarketRouter(&fakeCrypto{}, &fakeForex{})

	if rec := get(r, "/api/v1/crypto/prices"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing ids: got %d", rec.Code)
	}
	// Anonymous callers get the free plan batch size of 5.
	rec := get(r, "/api/v1/crypto/prices?ids=a,b,c,d,e,f")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "max_batch_size") {
		t.Fatalf("batch cap: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestChartHistoryCap(t *testing.T) {
	crypto := &fakeCrypto{}
	r := newMarketRouter(crypto, &fakeForex{})

	rec := get(r, "/api/v1/crypto/chart/bitcoin?days=30")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 beyond free history, got %d", rec.Code)
	}
	rec = get(r, "/api/v1/crypto/chart/bitcoin")
	if rec.Code != http.StatusOK || crypto.lastDays != 7 {
		t.Fatalf("default days: got %d days=%d", rec.Code, crypto.lastDays)
	}
	if !strings.Contains(rec.Body.String(), `"stale":true`) {
		t.Fatalf("expected stale flag, got %s", rec.Body.String())
	}
	if rec := get(r, "/api/v1/crypto/chart/bitcoin?days=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad days: got %d", rec.Code)
	}
}

func TestUpstreamFailureIs503(t *testing.T) {
	err := fmt.Errorf("%w: coingecko: boom", marketdata.ErrUpstreamFetchFailed)
	r := newMarketRouter(&fakeCrypto{err: err}, &fakeForex{err: err})

	for _, path := range []string{"/api/v1/crypto/popular", "/api/v1/crypto/coins", "/api/v1/forex/rates"} {
		rec := get(r, path)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: got %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"success":false`) {
			t.Fatalf("%s: expected error envelope, got %s", path, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "boom") {
			t.Fatalf("%s: provider detail leaked: %s", path, rec.Body.String())
		}
	}
}

func TestUpstreamFailureLogsRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, hook := logrustest.NewNullLogger()
	r := gin.New()
	r.Use(pkgmw.RequestIDMiddleware())
	err := fmt.Errorf("%w: coingecko: boom", marketdata.ErrUpstreamFetchFailed)
	NewMarketHandlers(&fakeCrypto{err: err}, &fakeForex{}, plans.MustDefaultRegistry(), logger).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crypto/popular", nil)
	req.Header.Set("X-Request-ID", "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected an error log entry, got %+v", entry)
	}
	if entry.Data["request_id"] != "req-9" || entry.Data["route"] != "/api/v1/crypto/popular" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
	if !strings.Contains(fmt.Sprint(entry.Data[logrus.ErrorKey]), "boom") {
		t.Fatalf("expected provider error in log, got %v", entry.Data)
	}
}

func TestConvert(t *testing.T) {
	r := newMarketRouter(&fakeCrypto{}, &fakeForex{})

	rec := get(r, "/api/v1/forex/convert?from=USD&to=GBP&amount=10")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"result":"5"`) {
		t.Fatalf("convert: got %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(r, "/api/v1/forex/convert?from=USD"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing to: got %d", rec.Code)
	}
	if rec := get(r, "/api/v1/forex/convert?from=USD&to=GBP&amount=-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative amount: got %d", rec.Code)
	}
	if rec := get(r, "/api/v1/forex/convert?from=USD&to=XYZ"); rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported: got %d", rec.Code)
	}
}

func TestHistoricalRequiresFeature(t *testing.T) {
	r := newMarketRouter(&fakeCrypto{}, &fakeForex{})

	rec := get(r, "/api/v1/forex/historical?days=10")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected feature gate for anonymous caller, got %d", rec.Code)
	}
}

func TestCurrencies(t *testing.T) {
	r := newMarketRouter(&fakeCrypto{}, &fakeForex{})

	rec := get(r, "/api/v1/forex/currencies")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `["EUR","USD"]`) {
		t.Fatalf("currencies: got %d %s", rec.Code, rec.Body.String())
	}
}
