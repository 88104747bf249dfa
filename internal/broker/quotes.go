package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sensextrader/internal/errs"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
)

// FallbackQuoteSource fetches a last price from a secondary public endpoint
// when the primary broker API fails. The URL template receives the symbol via
// %s and must return JSON of the form {"price": <number>, "volume": <number>}
// (volume optional). No fallback is attempted when URL is empty.
type FallbackQuoteSource struct {
	URL    string
	Client *http.Client
}

func (f *FallbackQuoteSource) get(ctx context.Context, symbol string) (market.Quote, error) {
	if f == nil || f.URL == "" {
		return market.Quote{}, fmt.Errorf("no fallback quote source configured")
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	url := strings.Replace(f.URL, "%s", symbol, 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return market.Quote{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return market.Quote{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return market.Quote{}, err
	}
	if resp.StatusCode >= 400 {
		return market.Quote{}, fmt.Errorf("fallback quote HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Price  float64 `json:"price"`
		Volume int64   `json:"volume"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.Quote{}, fmt.Errorf("decode fallback quote: %w", err)
	}
	if payload.Price <= 0 {
		return market.Quote{}, fmt.Errorf("fallback quote returned non-positive price %v", payload.Price)
	}
	return market.Quote{
		Symbol: symbol,
		Price:  payload.Price,
		Volume: payload.Volume,
		Time:   time.Now(),
		Source: market.SourceFallback,
	}, nil
}

// quoteWithFallback tries the primary fetch, then the secondary source, and
// only then declares the data unavailable.
func quoteWithFallback(ctx context.Context, broker, symbol string, fallback *FallbackQuoteSource,
	primary func(context.Context) (market.Quote, error)) (market.Quote, error) {

	q, err := primary(ctx)
	if err == nil {
		q.Source = market.SourceLive
		return q, nil
	}
	logs.Warnf("%s quote for %s failed, trying fallback source: %v", broker, symbol, err)

	fq, ferr := fallback.get(ctx, symbol)
	if ferr == nil {
		return fq, nil
	}
	return market.Quote{}, errs.NoData(fmt.Sprintf("%s quote %s", broker, symbol),
		fmt.Errorf("primary: %w; fallback: %w", err, ferr))
}
