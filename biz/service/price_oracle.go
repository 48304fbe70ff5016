package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cex-core/biz/model"
)

// PriceOracle supplies the external reference price. Implementations must
// be side-effect-free and safe to call repeatedly; unavailability is a
// typed error (ErrOracleUnavailable), never a zero price.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// GetPrices batch-fetches; symbols without a price are absent from the
	// result map rather than failing the whole call.
	GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// HTTPOracle reads spot tickers from a venue REST API
// (Binance-compatible /api/v3/ticker/price).
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type tickerPayload struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// venueSymbol maps "BTC-USDT" to the venue's "BTCUSDT".
func venueSymbol(symbol string) string {
	base, quote := model.SplitSymbol(symbol)
	return base + quote
}

func (o *HTTPOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", o.baseURL, url.QueryEscape(venueSymbol(symbol)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: ticker %s status %d", ErrOracleUnavailable, symbol, resp.StatusCode)
	}
	var payload tickerPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	price, err := decimal.NewFromString(payload.Price)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: bad ticker price %q for %s", ErrOracleUnavailable, payload.Price, symbol)
	}
	return price, nil
}

func (o *HTTPOracle) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		p, err := o.GetPrice(ctx, s)
		if err != nil {
			// one slow/unknown symbol skips itself, not the batch
			hlog.Warnf("oracle: skip symbol %s: %v", s, err)
			continue
		}
		prices[s] = p
	}
	if len(prices) == 0 && len(symbols) > 0 {
		return prices, ErrOracleUnavailable
	}
	return prices, nil
}

// CachedOracle keeps the last quote per symbol in redis so one worker tick
// costs at most one venue round-trip per symbol across the whole cluster.
type CachedOracle struct {
	inner PriceOracle
	rdb   *redis.Client
	ttl   time.Duration
}

func NewCachedOracle(inner PriceOracle, rdb *redis.Client, ttl time.Duration) *CachedOracle {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &CachedOracle{inner: inner, rdb: rdb, ttl: ttl}
}

func priceKey(symbol string) string {
	return "oracle:price:" + symbol
}

func (c *CachedOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if cached, err := c.rdb.Get(ctx, priceKey(symbol)).Result(); err == nil {
		if p, perr := decimal.NewFromString(cached); perr == nil {
			return p, nil
		}
	}
	price, err := c.inner.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, priceKey(symbol), price.String(), c.ttl).Err(); err != nil {
		hlog.Debugf("oracle: cache set %s failed: %v", symbol, err)
	}
	return price, nil
}

func (c *CachedOracle) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	var misses []string

	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = priceKey(s)
	}
	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		misses = symbols
	} else {
		for i, v := range cached {
			s, ok := v.(string)
			if !ok {
				misses = append(misses, symbols[i])
				continue
			}
			p, perr := decimal.NewFromString(s)
			if perr != nil {
				misses = append(misses, symbols[i])
				continue
			}
			prices[symbols[i]] = p
		}
	}

	if len(misses) > 0 {
		fetched, ferr := c.inner.GetPrices(ctx, misses)
		for s, p := range fetched {
			prices[s] = p
			if err := c.rdb.Set(ctx, priceKey(s), p.String(), c.ttl).Err(); err != nil {
				hlog.Debugf("oracle: cache set %s failed: %v", s, err)
			}
		}
		if ferr != nil && len(prices) == 0 {
			return prices, ferr
		}
	}
	return prices, nil
}
