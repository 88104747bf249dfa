package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sensextrader/internal/config"
	"sensextrader/internal/errs"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
)

var _ Gateway = (*Breeze)(nil)

// Breeze talks to the ICICI Direct Breeze REST API. Every request body is
// signed with SHA-256(timestamp + payload + secret) per the API's checksum
// scheme; responses arrive in a {Success, Status, Error} envelope.
type Breeze struct {
	baseURL     string
	http        *http.Client
	creds       config.Credentials
	resolver    *Resolver
	cache       *MarginCache
	fallback    *FallbackQuoteSource
	defaultCash float64

	mu         sync.RWMutex
	sessionKey string
	connected  bool
	orderExch  map[string]string // order id -> exchange code, needed for cancels
}

// BreezeOptions wires the gateway's collaborators.
type BreezeOptions struct {
	BaseURL     string
	Timeout     time.Duration
	Credentials config.Credentials
	Resolver    *Resolver
	MarginCache *MarginCache
	Fallback    *FallbackQuoteSource
	DefaultCash float64
}

func NewBreeze(opts BreezeOptions) *Breeze {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Breeze{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        &http.Client{Timeout: timeout},
		creds:       opts.Credentials,
		resolver:    opts.Resolver,
		cache:       opts.MarginCache,
		fallback:    opts.Fallback,
		defaultCash: opts.DefaultCash,
		orderExch:   make(map[string]string),
	}
}

func (b *Breeze) Name() string { return "breeze" }

type breezeEnvelope struct {
	Success json.RawMessage `json:"Success"`
	Status  int             `json:"Status"`
	Error   string          `json:"Error"`
}

type breezeAPIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *breezeAPIError) Error() string {
	return fmt.Sprintf("breeze %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

func (e *breezeAPIError) sessionProblem() bool {
	msg := strings.ToLower(e.Message)
	return e.Status == 401 || strings.Contains(msg, "session") || strings.Contains(msg, "token")
}

// Connect re-reads credentials from .env (so a regenerated session token is
// picked up without a restart) and validates the session against the
// customer-details endpoint.
func (b *Breeze) Connect(ctx context.Context) error {
	b.creds = config.ReloadCredentials()
	if missing := b.creds.MissingBreeze(); len(missing) > 0 {
		return &errs.CredentialError{Broker: "breeze", Missing: missing}
	}

	body := map[string]string{
		"SessionToken": b.creds.BreezeSessionToken,
		"AppKey":       b.creds.BreezeAPIKey,
	}
	var ack struct {
		SessionToken string `json:"session_token"`
	}
	if err := b.do(ctx, http.MethodGet, "customerdetails", body, &ack); err != nil {
		return b.classify("connect", err)
	}

	b.mu.Lock()
	b.sessionKey = ack.SessionToken
	if b.sessionKey == "" {
		b.sessionKey = b.creds.BreezeSessionToken
	}
	b.connected = true
	b.mu.Unlock()

	logs.Infof("breeze session established for client %s", b.creds.ICICIClientCode)
	return nil
}

// do signs and sends one request and decodes the Success payload into out.
func (b *Breeze) do(ctx context.Context, method, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ts := time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05") + ".000Z"
	sum := sha256.Sum256([]byte(ts + string(payload) + b.creds.BreezeAPISecret))

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Checksum", "token "+hex.EncodeToString(sum[:]))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-AppKey", b.creds.BreezeAPIKey)
	b.mu.RLock()
	req.Header.Set("X-SessionToken", b.sessionKey)
	b.mu.RUnlock()

	resp, err := b.http.Do(req)
	if err != nil {
		return errs.Unavailable("breeze "+endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Unavailable("breeze "+endpoint, err)
	}
	if resp.StatusCode >= 500 {
		return errs.Unavailable("breeze "+endpoint, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw)))
	}

	var env breezeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errs.Unavailable("breeze "+endpoint, fmt.Errorf("decode envelope: %w", err))
	}
	if env.Status != 200 {
		return &breezeAPIError{Endpoint: endpoint, Status: env.Status, Message: env.Error}
	}
	if out != nil && len(env.Success) > 0 {
		if err := json.Unmarshal(env.Success, out); err != nil {
			return errs.Unavailable("breeze "+endpoint, fmt.Errorf("decode success payload: %w", err))
		}
	}
	return nil
}

// classify converts API-level errors into the shared taxonomy.
func (b *Breeze) classify(op string, err error) error {
	if apiErr, ok := err.(*breezeAPIError); ok {
		if apiErr.sessionProblem() {
			b.mu.Lock()
			b.connected = false
			b.mu.Unlock()
			return &errs.SessionError{
				Broker: "breeze",
				Hint: fmt.Sprintf("regenerate session token at https://api.icicidirect.com/apiuser/login?api_key=%s and update BREEZE_SESSION_TOKEN",
					b.creds.BreezeAPIKey),
			}
		}
		return fmt.Errorf("%s: %w", op, errs.ErrBrokerUnavailable)
	}
	return err
}

type breezeQuote struct {
	StockCode string      `json:"stock_code"`
	LTP       json.Number `json:"ltp"`
	Volume    json.Number `json:"total_quantity_traded"`
	LTT       string      `json:"ltt"`
}

// GetQuote fetches the last traded price. Indices are quoted directly (they
// have prices even though they are not tradable); the substitution table only
// applies to orders.
func (b *Breeze) GetQuote(ctx context.Context, symbol, exchange string) (market.Quote, error) {
	return quoteWithFallback(ctx, "breeze", symbol, b.fallback, func(ctx context.Context) (market.Quote, error) {
		product := "cash"
		if b.resolver != nil && b.resolver.indices[strings.ToUpper(symbol)] {
			product = "others"
		}
		body := map[string]string{
			"stock_code":    symbol,
			"exchange_code": exchange,
			"product_type":  product,
		}
		var rows []breezeQuote
		if err := b.do(ctx, http.MethodGet, "quotes", body, &rows); err != nil {
			return market.Quote{}, b.classify("get quote", err)
		}
		if len(rows) == 0 {
			return market.Quote{}, fmt.Errorf("breeze quotes: empty response for %s", symbol)
		}
		price, err := rows[0].LTP.Float64()
		if err != nil || price <= 0 {
			return market.Quote{}, fmt.Errorf("breeze quotes: bad ltp %q for %s", rows[0].LTP, symbol)
		}
		volume, _ := rows[0].Volume.Int64()
		return market.Quote{
			Symbol:   symbol,
			Exchange: exchange,
			Price:    price,
			Volume:   volume,
			Time:     time.Now(),
		}, nil
	})
}

type breezeOrderAck struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// PlaceOrder submits an order, rewriting index symbols through the
// substitution table first.
func (b *Breeze) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	symbol, exchange, err := b.resolver.Resolve(req.Symbol, req.Exchange)
	if err != nil {
		return OrderResult{Status: StatusError, Message: err.Error()}, err
	}
	if symbol != req.Symbol {
		logs.Infof("breeze order: substituting %s -> %s@%s", req.Symbol, symbol, exchange)
	}

	product := req.Product
	if product == "" {
		product = "cash"
	}
	validity := req.Validity
	if validity == "" {
		validity = "day"
	}
	orderType := req.Type
	if orderType == "" {
		if req.Price > 0 {
			orderType = TypeLimit
		} else {
			orderType = TypeMarket
		}
	}

	body := map[string]string{
		"stock_code":    symbol,
		"exchange_code": exchange,
		"product":       product,
		"action":        req.Side,
		"order_type":    orderType,
		"quantity":      strconv.Itoa(req.Quantity),
		"price":         strconv.FormatFloat(req.Price, 'f', 2, 64),
		"validity":      validity,
	}
	if req.Tag != "" {
		body["user_remark"] = req.Tag
	}
	if product == "options" {
		body["expiry_date"] = req.Expiry
		body["right"] = req.Right
		body["strike_price"] = strconv.FormatFloat(req.Strike, 'f', -1, 64)
	}

	var raw json.RawMessage
	if err := b.do(ctx, http.MethodPost, "order", body, &raw); err != nil {
		if apiErr, ok := err.(*breezeAPIError); ok && !apiErr.sessionProblem() {
			rejection := &errs.OrderRejectedError{Broker: "breeze", Reason: apiErr.Message}
			return OrderResult{Status: StatusError, Message: apiErr.Message}, rejection
		}
		classified := b.classify("place order", err)
		return OrderResult{Status: StatusError, Message: classified.Error()}, classified
	}

	ack := decodeBreezeOrderAck(raw)
	if ack.OrderID == "" {
		rejection := &errs.OrderRejectedError{Broker: "breeze", Reason: "no order id in response"}
		return OrderResult{Status: StatusError, Message: rejection.Reason}, rejection
	}

	b.mu.Lock()
	b.orderExch[ack.OrderID] = exchange
	b.mu.Unlock()

	return OrderResult{Status: StatusSuccess, OrderID: ack.OrderID, Message: ack.Message}, nil
}

// decodeBreezeOrderAck tolerates both shapes the API uses: a bare object and
// a single-element array.
func decodeBreezeOrderAck(raw json.RawMessage) breezeOrderAck {
	var one breezeOrderAck
	if err := json.Unmarshal(raw, &one); err == nil && one.OrderID != "" {
		return one
	}
	var many []breezeOrderAck
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return breezeOrderAck{}
}

func (b *Breeze) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.RLock()
	exchange, ok := b.orderExch[orderID]
	b.mu.RUnlock()
	if !ok {
		exchange = "NSE"
	}
	body := map[string]string{
		"order_id":      orderID,
		"exchange_code": exchange,
	}
	if err := b.do(ctx, http.MethodDelete, "order", body, nil); err != nil {
		return b.classify("cancel order", err)
	}
	return nil
}

type breezePosition struct {
	StockCode    string      `json:"stock_code"`
	ExchangeCode string      `json:"exchange_code"`
	Quantity     json.Number `json:"quantity"`
	AveragePrice json.Number `json:"average_price"`
	PnL          json.Number `json:"pnl"`
}

func (b *Breeze) GetPositions(ctx context.Context) (PositionsSnapshot, error) {
	var rows []breezePosition
	if err := b.do(ctx, http.MethodGet, "portfoliopositions", map[string]string{}, &rows); err != nil {
		return PositionsSnapshot{}, b.classify("get positions", err)
	}
	snap := PositionsSnapshot{Source: SourceLive, Time: time.Now()}
	for _, r := range rows {
		qty, _ := r.Quantity.Int64()
		avg, _ := r.AveragePrice.Float64()
		pnl, _ := r.PnL.Float64()
		snap.Positions = append(snap.Positions, BrokerPosition{
			Symbol:   r.StockCode,
			Exchange: r.ExchangeCode,
			Quantity: int(qty),
			AvgPrice: avg,
			PnL:      pnl,
		})
	}
	return snap, nil
}

type breezeFund struct {
	Segment         string      `json:"segment"`
	AvailableMargin json.Number `json:"available_margin"`
	UsedMargin      json.Number `json:"used_margin"`
}

// GetMargins prefers the FNO segment's available margin, mirroring how the
// account funds options trades.
func (b *Breeze) GetMargins(ctx context.Context) (MarginsSnapshot, error) {
	return marginsWithFallback(ctx, "breeze", b.cache, b.defaultCash, func(ctx context.Context) (MarginsSnapshot, error) {
		var raw json.RawMessage
		if err := b.do(ctx, http.MethodGet, "funds", map[string]string{}, &raw); err != nil {
			return MarginsSnapshot{}, b.classify("get margins", err)
		}
		funds := decodeBreezeFunds(raw)
		if len(funds) == 0 {
			return MarginsSnapshot{}, fmt.Errorf("breeze funds: empty response")
		}

		picked := funds[0]
		for _, f := range funds {
			if strings.EqualFold(f.Segment, "FNO") {
				picked = f
				break
			}
		}
		avail, err := picked.AvailableMargin.Float64()
		if err != nil {
			return MarginsSnapshot{}, fmt.Errorf("breeze funds: bad available_margin %q", picked.AvailableMargin)
		}
		used, _ := picked.UsedMargin.Float64()
		return MarginsSnapshot{
			Cash:      avail,
			Available: avail,
			Used:      used,
			Segment:   picked.Segment,
		}, nil
	})
}

func decodeBreezeFunds(raw json.RawMessage) []breezeFund {
	var many []breezeFund
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one breezeFund
	if err := json.Unmarshal(raw, &one); err == nil {
		return []breezeFund{one}
	}
	return nil
}

// NextWeeklyExpiry returns the next Thursday strictly after now (a Thursday
// rolls to the following week), the standard weekly expiry for NSE index
// options, as YYYY-MM-DD.
func NextWeeklyExpiry(now time.Time) string {
	daysAhead := int(time.Thursday) - int(now.Weekday())
	if daysAhead <= 0 {
		daysAhead += 7
	}
	return now.AddDate(0, 0, daysAhead).Format("2006-01-02")
}

// ATMStrike rounds spot to the nearest strike step (50 for NIFTY, 100 for
// SENSEX).
func ATMStrike(spot, step float64) float64 {
	if step <= 0 {
		step = 50
	}
	return math.Round(spot/step) * step
}
