package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko v3 API.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

const (
	priceTTL     = 5 * time.Minute
	chartTTL     = 10 * time.Minute
	coinsListTTL = time.Hour
	staleFactor  = 24
)

// PopularCoins are served by the popular endpoint.
var PopularCoins = []string{
	"bitcoin", "ethereum", "binancecoin", "ripple", "cardano",
	"solana", "dogecoin", "polkadot", "avalanche-2", "chainlink",
}

// Price is one coin quoted in one fiat currency. Amounts are decimals to
// avoid float rounding.
type Price struct {
	ID                       string           `json:"id"`
	Symbol                   string           `json:"symbol"`
	Name                     string           `json:"name"`
	VsCurrency               string           `json:"vs_currency"`
	CurrentPrice             decimal.Decimal  `json:"current_price"`
	MarketCap                *decimal.Decimal `json:"market_cap"`
	TotalVolume              *decimal.Decimal `json:"total_volume"`
	PriceChangePercentage24h *decimal.Decimal `json:"price_change_percentage_24h"`
	LastUpdated              time.Time        `json:"last_updated"`
}

// MarketChart is a historical series of [unix millis, value] points.
type MarketChart struct {
	Prices       [][2]float64 `json:"prices"`
	MarketCaps   [][2]float64 `json:"market_caps"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// Coin identifies a listed coin.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CoinGecko fetches crypto prices.
type CoinGecko struct {
	up  *upstream
	now func() time.Time
}

// NewCoinGecko creates a client. An empty BaseURL uses DefaultCoinGeckoURL.
func NewCoinGecko(cfg Config) *CoinGecko {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCoinGeckoURL
	}
	return &CoinGecko{up: newUpstream("coingecko", cfg), now: time.Now}
}

// SimplePrices quotes coinIDs in each of vsCurrencies.
func (g *CoinGecko) SimplePrices(ctx context.Context, coinIDs, vsCurrencies []string) (Result[[]Price], error) {
	coinIDs = normalizeList(coinIDs)
	vsCurrencies = normalizeList(vsCurrencies)
	if len(vsCurrencies) == 0 {
		vsCurrencies = []string{"usd"}
	}
	if len(coinIDs) == 0 {
		return Result[[]Price]{}, fmt.Errorf("%w: at least one coin id is required", ErrInvalidRequest)
	}

	ids := strings.Join(coinIDs, ",")
	vs := strings.Join(vsCurrencies, ",")
	key := "coingecko:simple:" + ids + "-" + vs

	return load(ctx, g.up, key, priceTTL, priceTTL*staleFactor, func(ctx context.Context) ([]Price, error) {
		q := url.Values{}
		q.Set("ids", ids)
		q.Set("vs_currencies", vs)
		q.Set("include_market_cap", "true")
		q.Set("include_24hr_vol", "true")
		q.Set("include_24hr_change", "true")
		q.Set("include_last_updated_at", "true")

		body, err := g.up.get(ctx, "/simple/price?"+q.Encode())
		if err != nil {
			return nil, err
		}
		var raw map[string]map[string]*decimal.Decimal
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode coingecko prices: %w", err)
		}
		return g.parsePrices(raw, coinIDs, vsCurrencies), nil
	})
}

func (g *CoinGecko) parsePrices(raw map[string]map[string]*decimal.Decimal, coinIDs, vsCurrencies []string) []Price {
	out := make([]Price, 0, len(raw)*len(vsCurrencies))
	for _, id := range coinIDs {
		data, ok := raw[id]
		if !ok {
			continue
		}
		updated := g.now().UTC()
		if ts := data["last_updated_at"]; ts != nil {
			updated = time.Unix(ts.IntPart(), 0).UTC()
		}
		for _, cur := range vsCurrencies {
			price := data[cur]
			if price == nil {
				continue
			}
			out = append(out, Price{
				ID:                       id,
				Symbol:                   id,
				Name:                     displayName(id),
				VsCurrency:               cur,
				CurrentPrice:             *price,
				MarketCap:                data[cur+"_market_cap"],
				TotalVolume:              data[cur+"_24h_vol"],
				PriceChangePercentage24h: data[cur+"_24h_change"],
				LastUpdated:              updated,
			})
		}
	}
	return out
}

// Popular quotes PopularCoins in USD and EUR.
func (g *CoinGecko) Popular(ctx context.Context) (Result[[]Price], error) {
	return g.SimplePrices(ctx, PopularCoins, []string{"usd", "eur"})
}

// MarketChart returns the price history of coinID over the last days days.
func (g *CoinGecko) MarketChart(ctx context.Context, coinID, vsCurrency string, days int) (Result[MarketChart], error) {
	coinID = strings.ToLower(strings.TrimSpace(coinID))
	vsCurrency = strings.ToLower(strings.TrimSpace(vsCurrency))
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	if coinID == "" || days <= 0 {
		return Result[MarketChart]{}, fmt.Errorf("%w: coin id and a positive day count are required", ErrInvalidRequest)
	}
	key := fmt.Sprintf("coingecko:chart:%s-%s-%d", coinID, vsCurrency, days)

	return load(ctx, g.up, key, chartTTL, chartTTL*staleFactor, func(ctx context.Context) (MarketChart, error) {
		q := url.Values{}
		q.Set("vs_currency", vsCurrency)
		q.Set("days", strconv.Itoa(days))
		body, err := g.up.get(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart?"+q.Encode())
		if err != nil {
			return MarketChart{}, err
		}
		var chart MarketChart
		if err := json.Unmarshal(body, &chart); err != nil {
			return MarketChart{}, fmt.Errorf("decode coingecko chart: %w", err)
		}
		return chart, nil
	})
}

// CoinsList returns every coin CoinGecko lists.
func (g *CoinGecko) CoinsList(ctx context.Context) (Result[[]Coin], error) {
	return load(ctx, g.up, "coingecko:coins:list", coinsListTTL, coinsListTTL*staleFactor, func(ctx context.Context) ([]Coin, error) {
		body, err := g.up.get(ctx, "/coins/list")
		if err != nil {
			return nil, err
		}
		var coins []Coin
		if err := json.Unmarshal(body, &coins); err != nil {
			return nil, fmt.Errorf("decode coingecko coins list: %w", err)
		}
		return coins, nil
	})
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// displayName turns "avalanche-2" into "Avalanche 2".
func displayName(id string) string {
	words := strings.Fields(strings.ReplaceAll(id, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
