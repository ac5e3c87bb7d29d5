// Package priceoracle fetches gas-currency prices from a centralized
// exchange's one-minute kline endpoint.
//
// Prices come back as decimal strings; they are kept as an integer unit
// count plus a fractional-digit count so every later computation stays in
// arbitrary-precision integer arithmetic.
package priceoracle

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// DefaultBaseURL points at the production oracle.
const DefaultBaseURL = "https://api.binance.com"

const cacheSize = 16

// Price is a close price expressed as Units * 10^-Decimals.
type Price struct {
	Units    *big.Int
	Decimals int
}

// GasCost returns the quoted cost of gasUsed*gasPriceWei at this price,
// floored to integer units of the quote currency's smallest increment.
func (p Price) GasCost(gasUsed, gasPriceWei *big.Int) *big.Int {
	cost := new(big.Int).Mul(p.Units, gasUsed)
	cost.Mul(cost, gasPriceWei)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)
	return cost.Div(cost, scale)
}

// PricePoint is a close price tagged with its kline close time in seconds.
type PricePoint struct {
	CloseTime int64
	Price     Price
}

// Client queries the oracle REST API.
type Client struct {
	log        zerolog.Logger
	baseURL    string
	http       *http.Client
	pointCache *lru.Cache
}

// New returns a client for the oracle at baseURL.
func New(baseURL string) (*Client, error) {
	pointCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating price cache: %s", err)
	}
	return &Client{
		log:        logger.With().Str("component", "priceoracle").Logger(),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		http:       &http.Client{},
		pointCache: pointCache,
	}, nil
}

// ClosePriceAt returns the close price of the one-minute kline ending at
// timestamp (seconds). Results are LRU-cached by the exact currency pair and
// timestamp tuple.
func (c *Client) ClosePriceAt(ctx context.Context, gasCurrency, quoteCurrency string, timestamp int64) (Price, error) {
	key := fmt.Sprintf("%s%s-%d", gasCurrency, quoteCurrency, timestamp)
	if p, ok := c.pointCache.Get(key); ok {
		return p.(Price), nil
	}

	uri := fmt.Sprintf(
		"%s/api/v3/klines?symbol=%s%s&interval=1m&endTime=%d&limit=1",
		c.baseURL, gasCurrency, quoteCurrency, timestamp*1000,
	)
	klines, err := c.fetchKlines(ctx, uri)
	if err != nil {
		return Price{}, err
	}
	if len(klines) == 0 {
		return Price{}, fmt.Errorf("no kline covering timestamp %d", timestamp)
	}

	price, _, err := parseKline(klines[0])
	if err != nil {
		return Price{}, err
	}
	c.pointCache.Add(key, price)
	return price, nil
}

// ClosePriceRange returns the close prices of the one-minute klines covering
// [minTimestamp-60, maxTimestamp] (seconds), ordered by close time.
func (c *Client) ClosePriceRange(
	ctx context.Context, gasCurrency, quoteCurrency string, minTimestamp, maxTimestamp int64,
) ([]PricePoint, error) {
	uri := fmt.Sprintf(
		"%s/api/v3/klines?symbol=%s%s&interval=1m&startTime=%d&endTime=%d",
		c.baseURL, gasCurrency, quoteCurrency, (minTimestamp-60)*1000, maxTimestamp*1000,
	)
	klines, err := c.fetchKlines(ctx, uri)
	if err != nil {
		return nil, err
	}

	points := make([]PricePoint, len(klines))
	for i, kline := range klines {
		price, closeTime, err := parseKline(kline)
		if err != nil {
			return nil, err
		}
		points[i] = PricePoint{CloseTime: closeTime, Price: price}
	}
	return points, nil
}

// ResetConnections drops idle HTTP connections so the next request opens a
// fresh one.
func (c *Client) ResetConnections() {
	c.http.CloseIdleConnections()
}

func (c *Client) fetchKlines(ctx context.Context, uri string) ([][]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating klines request: %s", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching klines: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request returned status %d", res.StatusCode)
	}

	var klines [][]interface{}
	if err := jsoniter.NewDecoder(res.Body).Decode(&klines); err != nil {
		return nil, fmt.Errorf("decoding klines response: %s", err)
	}
	return klines, nil
}

// parseKline extracts the close price (index 4) and close time (index 6,
// normalized from milliseconds to seconds) out of a kline row.
func parseKline(kline []interface{}) (Price, int64, error) {
	if len(kline) < 7 {
		return Price{}, 0, fmt.Errorf("malformed kline of %d fields", len(kline))
	}
	closeStr, ok := kline[4].(string)
	if !ok {
		return Price{}, 0, fmt.Errorf("kline close price isn't a string: %v", kline[4])
	}
	closeTimeMs, ok := kline[6].(float64)
	if !ok {
		return Price{}, 0, fmt.Errorf("kline close time isn't a number: %v", kline[6])
	}

	price, err := parsePrice(closeStr)
	if err != nil {
		return Price{}, 0, err
	}
	return price, int64(closeTimeMs) / 1000, nil
}

// parsePrice splits a decimal string like "1234.56" into integer units
// (123456) and a fractional-digit count (2).
func parsePrice(s string) (Price, error) {
	whole, frac, _ := strings.Cut(s, ".")
	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return Price{}, fmt.Errorf("malformed price %q", s)
	}
	return Price{Units: units, Decimals: len(frac)}, nil
}
