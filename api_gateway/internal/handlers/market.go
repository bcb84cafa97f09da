package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	apierrors "cryptofx/api_gateway/internal/errors"
	"cryptofx/api_gateway/internal/marketdata"
	"cryptofx/api_gateway/internal/middleware"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/pkg/logging"
	pkgmw "cryptofx/pkg/middleware"
)

// CryptoSource is implemented by *marketdata.CoinGecko.
type CryptoSource interface {
	SimplePrices(ctx context.Context, coinIDs, vsCurrencies []string) (marketdata.Result[[]marketdata.Price], error)
	Popular(ctx context.Context) (marketdata.Result[[]marketdata.Price], error)
	MarketChart(ctx context.Context, coinID, vsCurrency string, days int) (marketdata.Result[marketdata.MarketChart], error)
	CoinsList(ctx context.Context) (marketdata.Result[[]marketdata.Coin], error)
}

// ForexSource is implemented by *marketdata.ECB.
type ForexSource interface {
	DailyRates(ctx context.Context) (marketdata.Result[[]marketdata.Rate], error)
	HistoricalRates(ctx context.Context, days int) (marketdata.Result[map[string][]marketdata.Rate], error)
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (marketdata.Conversion, error)
	SupportedCurrencies(ctx context.Context) []string
}

// MarketHandlers serves crypto and forex data.
type MarketHandlers struct {
	crypto   CryptoSource
	forex    ForexSource
	registry *plans.Registry
	logger   logging.Logger
}

// NewMarketHandlers creates market data handlers.
func NewMarketHandlers(crypto CryptoSource, forex ForexSource, registry *plans.Registry, logger logging.Logger) *MarketHandlers {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &MarketHandlers{crypto: crypto, forex: forex, registry: registry, logger: logger}
}

// Register mounts the market routes on rg.
func (h *MarketHandlers) Register(rg *gin.RouterGroup) {
	crypto := rg.Group("/crypto")
	crypto.GET("/popular", h.Popular())
	crypto.GET("/prices", h.Prices())
	crypto.GET("/chart/:id", h.Chart())
	crypto.GET("/coins", h.Coins())

	forex := rg.Group("/forex")
	forex.GET("/rates", h.Rates())
	forex.GET("/convert", h.Convert())
	forex.GET("/historical", middleware.RequireFeature(h.registry, "historical_extended"), h.Historical())
	forex.GET("/currencies", h.Currencies())
}

// Popular returns prices for the popular coin set.
func (h *MarketHandlers) Popular() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.crypto.Popular(c.Request.Context())
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch popular cryptocurrencies")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Prices returns prices for ?ids= in ?vs_currencies=. The number of ids is
// capped by the caller's plan batch size.
func (h *MarketHandlers) Prices() gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := splitList(c.Query("ids"))
		if len(ids) == 0 {
			fail(c, http.StatusBadRequest, "Validation failed", map[string]any{"ids": "at least one coin id is required"})
			return
		}
		plan := middleware.PlanFromContext(c, h.registry.Free())
		if len(ids) > plan.BatchSize {
			fail(c, http.StatusBadRequest, "Too many coin ids for your plan", map[string]any{
				"max_batch_size": plan.BatchSize,
				"current_plan":   string(plan.Tier),
				"upgrade_info":   plan.QuotaUpgradeInfo(),
			})
			return
		}
		vs := splitList(c.DefaultQuery("vs_currencies", "usd"))

		res, err := h.crypto.SimplePrices(c.Request.Context(), ids, vs)
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch cryptocurrency prices")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Chart returns the price history of a coin. ?days is capped by the
// caller's plan history.
func (h *MarketHandlers) Chart() gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
		if err != nil || days <= 0 {
			fail(c, http.StatusBadRequest, "Validation failed", map[string]any{"days": "must be a positive integer"})
			return
		}
		plan := middleware.PlanFromContext(c, h.registry.Free())
		if days > plan.HistoricalDays {
			fail(c, http.StatusForbidden, "Historical range not available in your plan", map[string]any{
				"max_days":     plan.HistoricalDays,
				"current_plan": string(plan.Tier),
				"upgrade_info": plan.FeatureUpgradeInfo(),
			})
			return
		}

		res, err := h.crypto.MarketChart(c.Request.Context(), c.Param("id"), c.DefaultQuery("vs_currency", "usd"), days)
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch market chart")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Coins returns the list of known coins.
func (h *MarketHandlers) Coins() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.crypto.CoinsList(c.Request.Context())
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch coins list")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Rates returns the latest EUR reference rates.
func (h *MarketHandlers) Rates() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.forex.DailyRates(c.Request.Context())
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch exchange rates")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Convert converts ?amount (default 1) from ?from to ?to.
func (h *MarketHandlers) Convert() gin.HandlerFunc {
	return func(c *gin.Context) {
		from, to := c.Query("from"), c.Query("to")
		if from == "" || to == "" {
			fail(c, http.StatusBadRequest, "Both from and to currencies are required", nil)
			return
		}
		amount, err := decimal.NewFromString(c.DefaultQuery("amount", "1"))
		if err != nil || amount.IsNegative() {
			fail(c, http.StatusBadRequest, "Validation failed", map[string]any{"amount": "must be a non-negative number"})
			return
		}

		conv, err := h.forex.Convert(c.Request.Context(), amount, from, to)
		if errors.Is(err, marketdata.ErrUnsupportedCurrency) {
			fail(c, http.StatusBadRequest, "Exchange rate not available", map[string]any{"from": from, "to": to})
			return
		}
		if err != nil {
			h.upstreamError(c, err, "Failed to convert currencies")
			return
		}
		respond(c, http.StatusOK, conv, false, false)
	}
}

// Historical returns reference rates for the last ?days publication days.
func (h *MarketHandlers) Historical() gin.HandlerFunc {
	return func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
		if err != nil || days <= 0 || days > marketdata.MaxHistoricalDays {
			fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
				"days": "must be between 1 and " + strconv.Itoa(marketdata.MaxHistoricalDays),
			})
			return
		}
		res, err := h.forex.HistoricalRates(c.Request.Context(), days)
		if err != nil {
			h.upstreamError(c, err, "Failed to fetch historical exchange rates")
			return
		}
		respond(c, http.StatusOK, res.Data, res.CacheHit, res.Stale)
	}
}

// Currencies lists supported fiat currencies.
func (h *MarketHandlers) Currencies() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, http.StatusOK, h.forex.SupportedCurrencies(c.Request.Context()), false, false)
	}
}

func (h *MarketHandlers) upstreamError(c *gin.Context, err error, msg string) {
	status, public := apierrors.Classify(err, msg)
	entry := pkgmw.GetContextLogger(c, h.logger).WithError(err).WithField("route", c.FullPath())
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Debug(msg)
	}
	fail(c, status, public, nil)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
