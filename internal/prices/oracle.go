// Package prices resolves USD exchange rates for supported crypto currencies.
// Lookups never fail for a supported currency: when the price API is
// unreachable the oracle degrades to the last known rate and finally to a
// static table.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/texitpay/paygate/internal/currency"
	"github.com/texitpay/paygate/internal/errors"
	"github.com/texitpay/paygate/internal/logger"
)

// Source tells where a quote came from
type Source string

const (
	SourceLive      Source = "live"
	SourceCache     Source = "cache"
	SourceLastKnown Source = "last_known"
	SourceFallback  Source = "fallback"
)

// CoinMarketCap ids
var coinIDs = map[string]string{
	"TXC":  "32744",
	"LTC":  "2",
	"ETH":  "1027",
	"USDT": "825",
	"USDC": "3408",
	"BTC":  "1",
}

var fallbackPrices = map[string]decimal.Decimal{
	"TXC":  decimal.RequireFromString("1.88"),
	"LTC":  decimal.NewFromInt(100),
	"ETH":  decimal.NewFromInt(3500),
	"USDT": decimal.NewFromInt(1),
	"USDC": decimal.NewFromInt(1),
	"BTC":  decimal.NewFromInt(95000),
}

// Quote is the USD price of one whole unit of a currency
type Quote struct {
	Currency  string          `json:"currency"`
	USD       decimal.Decimal `json:"usd"`
	Source    Source          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// StoredRate is the quote as rate x 10^8
func (q Quote) StoredRate() int64 {
	return currency.RateToStoredRate(q.USD)
}

// RateStore persists the last good quote per currency
type RateStore interface {
	GetRate(ctx context.Context, code string) (*Quote, error)
	PutRate(ctx context.Context, quote *Quote) error
}

// Options configure the oracle
type Options struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Oracle fetches prices from CoinMarketCap with caching and fallbacks
type Oracle struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	cacheTTL time.Duration
	clk      clock.Clock
	store    RateStore

	mu    sync.Mutex
	cache map[string]Quote
}

// NewOracle creates a price oracle. store may be nil.
func NewOracle(opts Options, clk clock.Clock, store RateStore) *Oracle {
	if clk == nil {
		clk = clock.New()
	}
	return &Oracle{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		client:   &http.Client{Timeout: opts.Timeout},
		cacheTTL: opts.CacheTTL,
		clk:      clk,
		store:    store,
		cache:    make(map[string]Quote),
	}
}

// SupportedCurrencies lists the currencies the oracle can price, sorted
func SupportedCurrencies() []string {
	codes := make([]string, 0, len(coinIDs))
	for code := range coinIDs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Price returns the USD price of code. The only error is an unsupported currency.
func (o *Oracle) Price(ctx context.Context, code string) (Quote, error) {
	code = strings.ToUpper(code)
	coinID, ok := coinIDs[code]
	if !ok {
		return Quote{}, errors.ErrValidation("currency", fmt.Sprintf("'%s' has no price feed", code))
	}

	now := o.clk.Now()
	o.mu.Lock()
	cached, hit := o.cache[code]
	o.mu.Unlock()
	if hit && now.Sub(cached.FetchedAt) < o.cacheTTL {
		cached.Source = SourceCache
		return cached, nil
	}

	price, err := o.fetch(ctx, coinID)
	if err == nil {
		q := Quote{Currency: code, USD: price, Source: SourceLive, FetchedAt: now}
		o.mu.Lock()
		o.cache[code] = q
		o.mu.Unlock()
		o.persist(ctx, q)
		return q, nil
	}

	logger.Warn("Price API unavailable, degrading", logger.Fields{
		"currency": code,
		"error":    err.Error(),
	})

	if hit {
		cached.Source = SourceLastKnown
		return cached, nil
	}
	if o.store != nil {
		stored, serr := o.store.GetRate(ctx, code)
		if serr == nil && stored != nil && stored.USD.IsPositive() {
			stored.Source = SourceLastKnown
			return *stored, nil
		}
		if serr != nil {
			logger.Warn("Rate store lookup failed", logger.Fields{"currency": code, "error": serr.Error()})
		}
	}

	return Quote{Currency: code, USD: fallbackPrices[code], Source: SourceFallback, FetchedAt: now}, nil
}

// AllPrices prices every supported currency, each with its own fallback
func (o *Oracle) AllPrices(ctx context.Context) map[string]Quote {
	out := make(map[string]Quote, len(coinIDs))
	for _, code := range SupportedCurrencies() {
		q, _ := o.Price(ctx, code)
		out[code] = q
	}
	return out
}

func (o *Oracle) persist(ctx context.Context, q Quote) {
	if o.store == nil {
		return
	}
	if err := o.store.PutRate(ctx, &q); err != nil {
		logger.Warn("Failed to persist rate", logger.Fields{"currency": q.Currency, "error": err.Error()})
	}
}

type quotesResponse struct {
	Data map[string]struct {
		Quote map[string]struct {
			Price json.Number `json:"price"`
		} `json:"quote"`
	} `json:"data"`
}

func (o *Oracle) fetch(ctx context.Context, coinID string) (decimal.Decimal, error) {
	if o.apiKey == "" {
		return decimal.Zero, fmt.Errorf("no API key configured")
	}

	q := url.Values{}
	q.Set("id", coinID)
	q.Set("convert", "USD")
	endpoint := o.baseURL + "/v1/cryptocurrency/quotes/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(err, "build quote request")
	}
	req.Header.Set("X-CMC_PRO_API_KEY", o.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(err, "quote request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price API returned status %d: %s", resp.StatusCode, body)
	}

	var parsed quotesResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return decimal.Zero, pkgerrors.Wrap(err, "decode quote response")
	}

	entry, ok := parsed.Data[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("coin %s missing from response", coinID)
	}
	usd, ok := entry.Quote["USD"]
	if !ok {
		return decimal.Zero, fmt.Errorf("coin %s has no USD quote", coinID)
	}
	price, err := decimal.NewFromString(usd.Price.String())
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(err, "parse price")
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("coin %s has non-positive price %s", coinID, price)
	}
	return price.Round(currency.RatePrecision), nil
}
