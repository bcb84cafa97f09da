package marketdata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultECBURL is the ECB reference-rate feed.
const DefaultECBURL = "https://www.ecb.europa.eu/stats/eurofxref"

// BaseCurrency is the base of every ECB reference rate.
const BaseCurrency = "EUR"

const (
	ratesTTL      = time.Hour
	historicalTTL = 2 * time.Hour
	// MaxHistoricalDays is the span of the ECB 90-day feed.
	MaxHistoricalDays = 90
)

// ErrUnsupportedCurrency is returned for currencies the ECB does not quote.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// FallbackCurrencies are reported when the rate feed is unavailable.
var FallbackCurrencies = []string{"AUD", "CAD", "CHF", "CNY", "EUR", "GBP", "JPY", "NZD", "SEK", "USD"}

// Rate is the EUR reference rate of one currency on one date.
type Rate struct {
	Currency     string          `json:"currency"`
	Rate         decimal.Decimal `json:"rate"`
	Date         string          `json:"date"`
	BaseCurrency string          `json:"base_currency"`
}

// Conversion is the result of converting an amount between currencies.
type Conversion struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Rate   decimal.Decimal `json:"rate"`
	Result decimal.Decimal `json:"result"`
	Date   string          `json:"date"`
}

type ecbEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Days    []ecbDay `xml:"Cube>Cube"`
}

type ecbDay struct {
	Time  string    `xml:"time,attr"`
	Rates []ecbRate `xml:"Cube"`
}

type ecbRate struct {
	Currency string `xml:"currency,attr"`
	Rate     string `xml:"rate,attr"`
}

// ECB fetches fiat exchange rates.
type ECB struct {
	up *upstream
}

// NewECB creates a client. An empty BaseURL uses DefaultECBURL.
func NewECB(cfg Config) *ECB {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultECBURL
	}
	return &ECB{up: newUpstream("ecb", cfg)}
}

// DailyRates returns the latest reference rates, EUR first.
func (e *ECB) DailyRates(ctx context.Context) (Result[[]Rate], error) {
	return load(ctx, e.up, "ecb:daily:rates", ratesTTL, ratesTTL*staleFactor, func(ctx context.Context) ([]Rate, error) {
		env, err := e.fetch(ctx, "/eurofxref-daily.xml")
		if err != nil {
			return nil, err
		}
		if len(env.Days) == 0 || len(env.Days[0].Rates) == 0 {
			return nil, fmt.Errorf("no rate data found in ECB response")
		}
		return parseDay(env.Days[0])
	})
}

// HistoricalRates returns reference rates keyed by date for the most recent
// days publication days, up to MaxHistoricalDays.
func (e *ECB) HistoricalRates(ctx context.Context, days int) (Result[map[string][]Rate], error) {
	if days <= 0 || days > MaxHistoricalDays {
		return Result[map[string][]Rate]{}, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, MaxHistoricalDays)
	}
	key := fmt.Sprintf("ecb:historical:%d", days)

	return load(ctx, e.up, key, historicalTTL, historicalTTL*staleFactor, func(ctx context.Context) (map[string][]Rate, error) {
		env, err := e.fetch(ctx, "/eurofxref-hist-90d.xml")
		if err != nil {
			return nil, err
		}
		sort.Slice(env.Days, func(i, j int) bool { return env.Days[i].Time > env.Days[j].Time })
		if len(env.Days) > days {
			env.Days = env.Days[:days]
		}
		out := make(map[string][]Rate, len(env.Days))
		for _, d := range env.Days {
			rates, err := parseDay(d)
			if err != nil {
				return nil, err
			}
			out[d.Time] = rates
		}
		return out, nil
	})
}

// CrossRate returns how many units of to one unit of from buys.
func (e *ECB) CrossRate(ctx context.Context, from, to string) (decimal.Decimal, string, error) {
	res, err := e.DailyRates(ctx)
	if err != nil {
		return decimal.Zero, "", err
	}
	return crossRate(res.Data, from, to)
}

// Convert converts amount from one currency to another at the latest rate.
func (e *ECB) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	rate, date, err := e.CrossRate(ctx, from, to)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		From:   from,
		To:     to,
		Amount: amount,
		Rate:   rate.Round(6),
		Result: amount.Mul(rate).Round(6),
		Date:   date,
	}, nil
}

// SupportedCurrencies lists the quoted currencies, falling back to a fixed
// list when the feed cannot be read.
func (e *ECB) SupportedCurrencies(ctx context.Context) []string {
	res, err := e.DailyRates(ctx)
	if err != nil {
		out := make([]string, len(FallbackCurrencies))
		copy(out, FallbackCurrencies)
		return out
	}
	out := make([]string, 0, len(res.Data))
	for _, r := range res.Data {
		out = append(out, r.Currency)
	}
	sort.Strings(out)
	return out
}

func (e *ECB) fetch(ctx context.Context, path string) (ecbEnvelope, error) {
	body, err := e.up.get(ctx, path)
	if err != nil {
		return ecbEnvelope{}, err
	}
	var env ecbEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return ecbEnvelope{}, fmt.Errorf("decode ECB XML: %w", err)
	}
	return env, nil
}

func parseDay(d ecbDay) ([]Rate, error) {
	rates := make([]Rate, 0, len(d.Rates)+1)
	rates = append(rates, Rate{Currency: BaseCurrency, Rate: decimal.NewFromInt(1), Date: d.Time, BaseCurrency: BaseCurrency})
	for _, r := range d.Rates {
		v, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("invalid ECB rate %q for %s: %w", r.Rate, r.Currency, err)
		}
		rates = append(rates, Rate{Currency: r.Currency, Rate: v, Date: d.Time, BaseCurrency: BaseCurrency})
	}
	return rates, nil
}

func crossRate(rates []Rate, from, to string) (decimal.Decimal, string, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	var fromRate, toRate *Rate
	for i := range rates {
		if rates[i].Currency == from {
			fromRate = &rates[i]
		}
		if rates[i].Currency == to {
			toRate = &rates[i]
		}
	}
	if fromRate == nil {
		return decimal.Zero, "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, from)
	}
	if toRate == nil {
		return decimal.Zero, "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	if fromRate.Rate.IsZero() {
		return decimal.Zero, "", fmt.Errorf("%w: %s has a zero rate", ErrUnsupportedCurrency, from)
	}
	return toRate.Rate.Div(fromRate.Rate), toRate.Date, nil
}
