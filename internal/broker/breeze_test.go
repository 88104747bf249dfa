package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensextrader/internal/config"
	"sensextrader/internal/errs"
)

func breezeForTest(t *testing.T, handler http.Handler) *Breeze {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBreeze(BreezeOptions{
		BaseURL: srv.URL,
		Credentials: config.Credentials{
			BreezeAPIKey: "key", BreezeAPISecret: "secret",
			BreezeSessionToken: "session", ICICIClientCode: "client",
		},
		Resolver: testResolver(),
	})
}

func TestBreezeQuoteDecodesEnvelope(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quotes", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Checksum"))
		fmt.Fprint(w, `{"Success":[{"stock_code":"RELIANCE","ltp":2501.5,"total_quantity_traded":120000}],"Status":200,"Error":null}`)
	}))

	q, err := b.GetQuote(context.Background(), "RELIANCE", "NSE")
	require.NoError(t, err)
	assert.Equal(t, 2501.5, q.Price)
	assert.Equal(t, int64(120000), q.Volume)
}

func TestBreezeQuoteFallsBackToSecondarySource(t *testing.T) {
	fallbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price": 2498.0, "volume": 500}`)
	}))
	t.Cleanup(fallbackSrv.Close)

	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	b.fallback = &FallbackQuoteSource{URL: fallbackSrv.URL + "/quote/%s"}

	q, err := b.GetQuote(context.Background(), "RELIANCE", "NSE")
	require.NoError(t, err)
	assert.Equal(t, 2498.0, q.Price)
	assert.Equal(t, "fallback", q.Source)
}

func TestBreezeQuoteNoFallbackIsDataUnavailable(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := b.GetQuote(context.Background(), "RELIANCE", "NSE")
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

func TestBreezePlaceOrderRejectionIsTyped(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Success":null,"Status":500,"Error":"RMS: margin shortfall"}`)
	}))

	res, err := b.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "RELIANCE", Exchange: "NSE", Side: SideBuy, Quantity: 1, Price: 2500,
	})
	var rejected *errs.OrderRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "margin shortfall")
	assert.Equal(t, StatusError, res.Status)
}

func TestBreezeUnmappedIndexOrderIsNotTradable(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should reach the API for an unmapped index")
	}))

	_, err := b.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "NIFTY", Exchange: "NSE", Side: SideBuy, Quantity: 50,
	})
	assert.ErrorIs(t, err, errs.ErrNotTradable)
}

func TestBreezeSessionProblemBecomesSessionExpired(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Success":null,"Status":401,"Error":"Session token expired"}`)
	}))

	_, err := b.GetPositions(context.Background())
	assert.ErrorIs(t, err, errs.ErrSessionExpired)
	assert.Contains(t, err.Error(), "regenerate session token")
}

func TestBreezeMarginsPreferFNOSegment(t *testing.T) {
	b := breezeForTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Success":[{"segment":"equity","available_margin":10000,"used_margin":0},{"segment":"FNO","available_margin":80000,"used_margin":5000}],"Status":200,"Error":null}`)
	}))
	b.cache = tempCache(t)

	snap, err := b.GetMargins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FNO", snap.Segment)
	assert.Equal(t, 80000.0, snap.Cash)
	assert.Equal(t, 5000.0, snap.Used)
}
