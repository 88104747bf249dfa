package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sensextrader/internal/config"
	"sensextrader/internal/errs"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
)

var _ Gateway = (*Kite)(nil)

// kiteIndexAliases maps index symbols to the instrument keys Kite's quote
// API expects. Quotes work for indices; orders still go through the
// substitution table.
var kiteIndexAliases = map[string]string{
	"NIFTY":     "NSE:NIFTY 50",
	"BANKNIFTY": "NSE:NIFTY BANK",
	"SENSEX":    "BSE:SENSEX",
}

// Kite talks to the Zerodha Kite Connect REST API. Requests authenticate
// with an "Authorization: token api_key:access_token" header; responses
// arrive in a {status, data, message, error_type} envelope.
type Kite struct {
	baseURL     string
	http        *http.Client
	creds       config.Credentials
	resolver    *Resolver
	cache       *MarginCache
	fallback    *FallbackQuoteSource
	defaultCash float64
}

// KiteOptions wires the gateway's collaborators.
type KiteOptions struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials config.Credentials
	Resolver    *Resolver
	MarginCache *MarginCache
	Fallback    *FallbackQuoteSource
	DefaultCash float64
}

func NewKite(opts KiteOptions) *Kite {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kite{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        &http.Client{Timeout: timeout},
		creds:       opts.Credentials,
		resolver:    opts.Resolver,
		cache:       opts.MarginCache,
		fallback:    opts.Fallback,
		defaultCash: opts.DefaultCash,
	}
}

func (k *Kite) Name() string { return "kite" }

type kiteEnvelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

type kiteAPIError struct {
	Endpoint  string
	ErrorType string
	Message   string
}

func (e *kiteAPIError) Error() string {
	return fmt.Sprintf("kite %s: %s: %s", e.Endpoint, e.ErrorType, e.Message)
}

func (e *kiteAPIError) sessionProblem() bool {
	return e.ErrorType == "TokenException"
}

// Connect re-reads credentials and probes the profile endpoint, the
// cheapest call that fails on a stale access token.
func (k *Kite) Connect(ctx context.Context) error {
	k.creds = config.ReloadCredentials()
	if missing := k.creds.MissingKite(); len(missing) > 0 {
		return &errs.CredentialError{Broker: "kite", Missing: missing}
	}

	var profile struct {
		UserID string `json:"user_id"`
	}
	if err := k.do(ctx, http.MethodGet, "/user/profile", nil, &profile); err != nil {
		return k.classify("connect", err)
	}
	logs.Infof("kite session established for user %s", profile.UserID)
	return nil
}

// do sends one request and decodes the data payload into out. Kite takes
// form-encoded bodies and query params, never JSON requests.
func (k *Kite) do(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	var body io.Reader
	reqURL := k.baseURL + endpoint
	if params != nil {
		if method == http.MethodGet || method == http.MethodDelete {
			reqURL += "?" + params.Encode()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+k.creds.KiteAPIKey+":"+k.creds.KiteAccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := k.http.Do(req)
	if err != nil {
		return errs.Unavailable("kite "+endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Unavailable("kite "+endpoint, err)
	}
	if resp.StatusCode >= 500 {
		return errs.Unavailable("kite "+endpoint, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw)))
	}

	var env kiteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Unavailable("kite "+endpoint, fmt.Errorf("decode envelope: %w", err))
	}
	if env.Status != "success" {
		return &kiteAPIError{Endpoint: endpoint, ErrorType: env.ErrorType, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errs.Unavailable("kite "+endpoint, fmt.Errorf("decode data payload: %w", err))
		}
	}
	return nil
}

func (k *Kite) classify(op string, err error) error {
	if apiErr, ok := err.(*kiteAPIError); ok {
		if apiErr.sessionProblem() {
			return &errs.SessionError{
				Broker: "kite",
				Hint:   "regenerate access token via the Kite Connect login flow and update KITE_ACCESS_TOKEN",
			}
		}
		return fmt.Errorf("%s: %w", op, errs.ErrBrokerUnavailable)
	}
	return err
}

// instrumentKey builds the EXCHANGE:SYMBOL key the quote API wants,
// applying the index aliases.
func instrumentKey(symbol, exchange string) string {
	if alias, ok := kiteIndexAliases[strings.ToUpper(symbol)]; ok {
		return alias
	}
	if exchange == "" {
		exchange = "NSE"
	}
	return strings.ToUpper(exchange) + ":" + strings.ToUpper(symbol)
}

func (k *Kite) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	return quoteWithFallback(ctx, "kite", symbol, k.fallback, func(ctx context.Context) (market.Quote, error) {
		key := instrumentKey(symbol, exchange)
		params := url.Values{"i": {key}}

		var data map[string]struct {
			LastPrice float64 `json:"last_price"`
			Volume    int64   `json:"volume"`
		}
		if err := k.do(ctx, http.MethodGet, "/quote/ltp", params, &data); err != nil {
			return market.Quote{}, k.classify("get quote", err)
		}
		row, ok := data[key]
		if !ok || row.LastPrice <= 0 {
			return market.Quote{}, fmt.Errorf("kite ltp: no usable price for %s", key)
		}
		return market.Quote{
			Symbol:   symbol,
			Exchange: exchange,
			Price:    row.LastPrice,
			Volume:   row.Volume,
			Time:     time.Now(),
		}, nil
	})
}

func (k *Kite) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	symbol, exchange, err := k.resolver.Resolve(req.Symbol, req.Exchange)
	if err != nil {
		return OrderResult{Status: StatusError, Message: err.Error()}, err
	}
	if symbol != req.Symbol {
		logs.Infof("kite order: substituting %s -> %s@%s", req.Symbol, symbol, exchange)
	}
	if exchange == "" {
		exchange = "NSE"
	}

	orderType := "MARKET"
	if req.Type == TypeLimit || (req.Type == "" && req.Price > 0) {
		orderType = "LIMIT"
	}
	product := "MIS"
	if req.Product == "options" {
		product = "NRML"
	}

	params := url.Values{
		"tradingsymbol":    {strings.ToUpper(symbol)},
		"exchange":         {strings.ToUpper(exchange)},
		"transaction_type": {strings.ToUpper(req.Side)},
		"order_type":       {orderType},
		"quantity":         {strconv.Itoa(req.Quantity)},
		"product":          {product},
		"validity":         {"DAY"},
	}
	if orderType == "LIMIT" {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', 2, 64))
	}
	if req.Tag != "" {
		params.Set("tag", req.Tag)
	}

	var ack struct {
		OrderID string `json:"order_id"`
	}
	if err := k.do(ctx, http.MethodPost, "/orders/regular", params, &ack); err != nil {
		if apiErr, ok := err.(*kiteAPIError); ok && !apiErr.sessionProblem() {
			rejection := &errs.OrderRejectedError{Broker: "kite", Reason: apiErr.Message}
			return OrderResult{Status: StatusError, Message: apiErr.Message}, rejection
		}
		classified := k.classify("place order", err)
		return OrderResult{Status: StatusError, Message: classified.Error()}, classified
	}
	if ack.OrderID == "" {
		rejection := &errs.OrderRejectedError{Broker: "kite", Reason: "no order id in response"}
		return OrderResult{Status: StatusError, Message: rejection.Reason}, rejection
	}
	return OrderResult{Status: StatusSuccess, OrderID: ack.OrderID}, nil
}

func (k *Kite) CancelOrder(ctx context.Context, orderID string) error {
	if err := k.do(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil, nil); err != nil {
		return k.classify("cancel order", err)
	}
	return nil
}

type kitePosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	PnL           float64 `json:"pnl"`
}

func (k *Kite) GetPositions(ctx context.Context) (PositionsSnapshot, error) {
	var data struct {
		Net []kitePosition `json:"net"`
	}
	if err := k.do(ctx, http.MethodGet, "/portfolio/positions", nil, &data); err != nil {
		return PositionsSnapshot{}, k.classify("get positions", err)
	}
	snap := PositionsSnapshot{Source: SourceLive, Time: time.Now()}
	for _, r := range data.Net {
		snap.Positions = append(snap.Positions, BrokerPosition{
			Symbol:   r.TradingSymbol,
			Exchange: r.Exchange,
			Quantity: r.Quantity,
			AvgPrice: r.AveragePrice,
			PnL:      r.PnL,
		})
	}
	return snap, nil
}

func (k *Kite) GetMargins(ctx context.Context) (MarginsSnapshot, error) {
	return marginsWithFallback(ctx, "kite", k.cache, k.defaultCash, func(ctx context.Context) (MarginsSnapshot, error) {
		var data struct {
			Equity struct {
				Net       float64 `json:"net"`
				Available struct {
					Cash float64 `json:"cash"`
				} `json:"available"`
				Utilised struct {
					Debits float64 `json:"debits"`
				} `json:"utilised"`
			} `json:"equity"`
		}
		if err := k.do(ctx, http.MethodGet, "/user/margins", nil, &data); err != nil {
			return MarginsSnapshot{}, k.classify("get margins", err)
		}
		return MarginsSnapshot{
			Cash:      data.Equity.Available.Cash,
			Available: data.Equity.Net,
			Used:      data.Equity.Utilised.Debits,
			Segment:   "equity",
		}, nil
	})
}
