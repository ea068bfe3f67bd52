package clients

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

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

const (
	DefaultKrakenURL       = "https://api.kraken.com"
	DefaultKrakenUserAgent = "dca-bot"
	defaultKrakenTimeout   = 30 * time.Second

	balancePath  = "/0/private/Balance"
	addOrderPath = "/0/private/AddOrder"
	tickerPath   = "/0/public/Ticker"

	maxErrorBodyLen = 512
)

// DefaultBalanceDenylist lists legacy or delisted asset codes stripped from balance responses.
var DefaultBalanceDenylist = []string{"EOS", "DASH", "XXRP"}

// ErrMissingCredentials is returned by private calls when the API key or private key is not configured.
var ErrMissingCredentials = errors.New("kraken API key and private key must be set")

// ExchangeError is a non-empty error list returned by the exchange in its response envelope.
type ExchangeError struct {
	Endpoint string
	Errors   []string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("kraken %s: %s", e.Endpoint, strings.Join(e.Errors, ", "))
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type krakenTicker struct {
	Ask  []string `json:"a"`
	Bid  []string `json:"b"`
	Last []string `json:"c"`
}

type krakenAddOrderResult struct {
	Descr struct {
		Order string `json:"order"`
	} `json:"descr"`
	TxID []string `json:"txid"`
}

// KrakenClient performs signed private calls and public ticker calls against the Kraken REST API.
// It keeps no state between calls apart from the nonce counter.
type KrakenClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	userAgent  string
	userRef    int64
	denylist   []string
	nonces     *NonceSource
	httpClient *http.Client
	l          *zap.Logger
}

// KrakenOption configures a KrakenClient.
type KrakenOption func(*KrakenClient)

// WithBaseURL points the client at another API host. Empty keeps the default.
func WithBaseURL(u string) KrakenOption {
	return func(c *KrakenClient) {
		if u == "" {
			return
		}
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent sets the user-agent sent with every call.
func WithUserAgent(ua string) KrakenOption {
	return func(c *KrakenClient) {
		if ua == "" {
			return
		}
		c.userAgent = ua
	}
}

// WithTimeout sets the HTTP client timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) KrakenOption {
	return func(c *KrakenClient) {
		if d <= 0 {
			return
		}
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) KrakenOption {
	return func(c *KrakenClient) {
		c.httpClient = hc
	}
}

// WithNonceSource replaces the nonce source.
func WithNonceSource(n *NonceSource) KrakenOption {
	return func(c *KrakenClient) {
		c.nonces = n
	}
}

// WithBalanceDenylist sets asset codes removed from balance responses.
func WithBalanceDenylist(codes []string) KrakenOption {
	return func(c *KrakenClient) {
		c.denylist = codes
	}
}

// NewKrakenClient creates a client. Credentials may be empty; private calls then fail with ErrMissingCredentials.
func NewKrakenClient(l *zap.Logger, apiKey, apiSecret string, userRef int64, opts ...KrakenOption) *KrakenClient {
	c := &KrakenClient{
		baseURL:    DefaultKrakenURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		userAgent:  DefaultKrakenUserAgent,
		userRef:    userRef,
		denylist:   DefaultBalanceDenylist,
		nonces:     NewNonceSource(),
		httpClient: &http.Client{Timeout: defaultKrakenTimeout},
		l:          l,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetBalance returns raw asset balances with denylisted codes removed.
// An exchange-reported error list is returned as *ExchangeError.
func (c *KrakenClient) GetBalance(ctx context.Context) (domain.Balances, error) {
	result, err := c.private(ctx, balancePath, Payload{})
	if err != nil {
		return nil, err
	}

	var balances domain.Balances
	if err := json.Unmarshal(result, &balances); err != nil {
		return nil, errors.Wrap(err, "failed to decode kraken balance")
	}
	if balances == nil {
		balances = domain.Balances{}
	}

	for _, code := range c.denylist {
		delete(balances, code)
	}

	return balances, nil
}

// GetTicker fetches quotes for all pairs in one call.
// An exchange-reported error list is logged and returned as *ExchangeError, so callers can tell
// a failed call from a batch where some pairs are simply absent.
func (c *KrakenClient) GetTicker(ctx context.Context, pairs []string) (domain.Quotes, error) {
	if len(pairs) == 0 {
		return domain.Quotes{}, nil
	}

	query := url.Values{}
	query.Set("pair", domain.JoinPairs(pairs))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tickerPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ticker request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	result, err := c.do(req, tickerPath)
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) {
			c.l.Error("kraken ticker returned errors", zap.Strings("errors", exErr.Errors), zap.Strings("pairs", pairs))
		}
		return nil, err
	}

	var raw map[string]krakenTicker
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode kraken ticker")
	}

	quotes := make(domain.Quotes, len(raw))
	for pair, t := range raw {
		quote, err := t.quote()
		if err != nil {
			return nil, errors.Wrapf(err, "invalid ticker data for %s", pair)
		}
		quotes[pair] = quote
	}

	return quotes, nil
}

// AddOrder places a limit buy tagged with the configured user reference.
// With intent.DryRun the exchange only validates the order. Rejections are returned in the reply, not as error.
func (c *KrakenClient) AddOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderReply, error) {
	payload := Payload{
		{Key: "userref", Value: strconv.FormatInt(c.userRef, 10)},
		{Key: "ordertype", Value: domain.OrderTypeLimit},
		{Key: "type", Value: domain.OrderSideBuy},
		{Key: "pair", Value: intent.Pair},
		{Key: "price", Value: intent.Price.String()},
		{Key: "volume", Value: intent.Volume.String()},
	}
	if intent.DryRun {
		payload.Set("validate", "true")
	}

	result, err := c.private(ctx, addOrderPath, payload)
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) {
			return domain.OrderReply{Errors: exErr.Errors}, nil
		}
		return domain.OrderReply{}, err
	}

	var order krakenAddOrderResult
	if err := json.Unmarshal(result, &order); err != nil {
		return domain.OrderReply{}, errors.Wrap(err, "failed to decode kraken order reply")
	}

	return domain.OrderReply{Order: order.Descr.Order, TxIDs: order.TxID}, nil
}

// private signs payload and posts it to path.
func (c *KrakenClient) private(ctx context.Context, path string, payload Payload) (json.RawMessage, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, ErrMissingCredentials
	}

	nonce := c.nonces.Next()
	payload.Set("nonce", nonce)

	signature, err := Sign(path, payload, nonce, c.apiSecret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create request for %s", path)
	}

	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", signature)
	req.Header.Set("nonce", nonce)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, path)
}

// do sends req and unwraps the {error, result} envelope.
func (c *KrakenClient) do(req *http.Request, path string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "kraken %s request failed", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read kraken %s response", path)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("kraken %s returned status %d: %s", path, resp.StatusCode, truncate(body))
	}

	var envelope krakenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrapf(err, "failed to decode kraken %s response", path)
	}

	if len(envelope.Error) > 0 {
		return nil, &ExchangeError{Endpoint: path, Errors: envelope.Error}
	}

	return envelope.Result, nil
}

func (t krakenTicker) quote() (domain.TickerQuote, error) {
	ask, err := firstDecimal(t.Ask)
	if err != nil {
		return domain.TickerQuote{}, errors.Wrap(err, "ask")
	}
	bid, err := firstDecimal(t.Bid)
	if err != nil {
		return domain.TickerQuote{}, errors.Wrap(err, "bid")
	}
	last, err := firstDecimal(t.Last)
	if err != nil {
		return domain.TickerQuote{}, errors.Wrap(err, "last")
	}

	return domain.TickerQuote{Ask: ask, Bid: bid, Last: last}, nil
}

// firstDecimal parses the price element of a [price, volume, ...] tuple. Missing tuples parse as zero.
func firstDecimal(values []string) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(values[0])
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen]
	}
	return s
}
