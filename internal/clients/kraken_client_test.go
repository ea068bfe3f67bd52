package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

type capturedRequest struct {
	method  string
	path    string
	query   url.Values
	header  http.Header
	payload Payload
	body    string
}

// parseOrdered decodes a form body keeping field order.
func parseOrdered(t *testing.T, body string) Payload {
	t.Helper()
	var p Payload
	if body == "" {
		return p
	}
	for _, part := range strings.Split(body, "&") {
		kv := strings.SplitN(part, "=", 2)
		require.Len(t, kv, 2)
		k, err := url.QueryUnescape(kv[0])
		require.NoError(t, err)
		v, err := url.QueryUnescape(kv[1])
		require.NoError(t, err)
		p = append(p, Param{Key: k, Value: v})
	}
	return p
}

func newTestKraken(t *testing.T, response string, status int) (*KrakenClient, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		captured = append(captured, capturedRequest{
			method:  r.Method,
			path:    r.URL.Path,
			query:   r.URL.Query(),
			header:  r.Header.Clone(),
			payload: parseOrdered(t, string(body)),
			body:    string(body),
		})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	frozen := time.UnixMilli(1700000000000)
	client := NewKrakenClient(zap.NewNop(), "test-key", testSecret, 1337,
		WithBaseURL(srv.URL),
		WithNonceSource(&NonceSource{now: func() time.Time { return frozen }}),
	)

	return client, &captured
}

func TestKrakenClient_GetBalance_StripsDenylist(t *testing.T) {
	client, captured := newTestKraken(t, `{"error":[],"result":{"XXBT":"0.05","XBT.M":"0.01","EOS":"1.0","XXRP":"3","ZEUR":"100.5"}}`, http.StatusOK)

	balances, err := client.GetBalance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.Balances{"XXBT": "0.05", "XBT.M": "0.01", "ZEUR": "100.5"}, balances)
	for _, code := range DefaultBalanceDenylist {
		assert.NotContains(t, balances, code)
	}

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/0/private/Balance", req.path)
	assert.Equal(t, "nonce=1700000000000", req.body)
	assert.Equal(t, "test-key", req.header.Get("API-Key"))
	assert.Equal(t, "1700000000000", req.header.Get("nonce"))
	assert.Equal(t, DefaultKrakenUserAgent, req.header.Get("User-Agent"))

	expected, err := Sign("/0/private/Balance", req.payload, "1700000000000", testSecret)
	require.NoError(t, err)
	assert.Equal(t, expected, req.header.Get("API-Sign"))
}

func TestKrakenClient_GetBalance_ExchangeError(t *testing.T) {
	client, _ := newTestKraken(t, `{"error":["EAPI:Invalid key"]}`, http.StatusOK)

	_, err := client.GetBalance(context.Background())
	require.Error(t, err)

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, []string{"EAPI:Invalid key"}, exErr.Errors)
}

func TestKrakenClient_GetBalance_MissingCredentials(t *testing.T) {
	client := NewKrakenClient(zap.NewNop(), "", "", 1337, WithBaseURL("http://127.0.0.1:0"))

	_, err := client.GetBalance(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestKrakenClient_GetBalance_InvalidSecret(t *testing.T) {
	client := NewKrakenClient(zap.NewNop(), "key", "%%%", 1337, WithBaseURL("http://127.0.0.1:0"))

	_, err := client.GetBalance(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSecret)
}

func TestKrakenClient_GetTicker(t *testing.T) {
	client, captured := newTestKraken(t, `{"error":[],"result":{
		"XXBTZEUR":{"a":["30000.00000","1","1.000"],"b":["29990.10000","2","2.000"],"c":["29995.00000","0.1"]},
		"XETHZEUR":{"a":["2000.5","1","1.000"],"b":["2000.1","1","1.000"],"c":["2000.2","0.5"]}}}`, http.StatusOK)

	quotes, err := client.GetTicker(context.Background(), []string{"XXBTZEUR", "XETHZEUR", "DOTEUR"})
	require.NoError(t, err)

	require.Len(t, quotes, 2)
	assert.True(t, quotes["XXBTZEUR"].Ask.Equal(decimal.NewFromInt(30000)))
	assert.True(t, quotes["XXBTZEUR"].Bid.Equal(decimal.RequireFromString("29990.1")))
	assert.True(t, quotes["XETHZEUR"].Last.Equal(decimal.RequireFromString("2000.2")))
	assert.NotContains(t, quotes, "DOTEUR")

	req := (*captured)[0]
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/0/public/Ticker", req.path)
	assert.Equal(t, "XXBTZEUR,XETHZEUR,DOTEUR", req.query.Get("pair"))
	assert.Empty(t, req.header.Get("API-Sign"))
}

func TestKrakenClient_GetTicker_ExchangeErrorIsExplicit(t *testing.T) {
	client, _ := newTestKraken(t, `{"error":["EQuery:Unknown asset pair"]}`, http.StatusOK)

	quotes, err := client.GetTicker(context.Background(), []string{"NOPE"})
	assert.Nil(t, quotes)

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "/0/public/Ticker", exErr.Endpoint)
}

func TestKrakenClient_GetTicker_NoPairsSkipsCall(t *testing.T) {
	client, captured := newTestKraken(t, `{}`, http.StatusOK)

	quotes, err := client.GetTicker(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.Empty(t, *captured)
}

func TestKrakenClient_AddOrder_DryRun(t *testing.T) {
	client, captured := newTestKraken(t, `{"error":[],"result":{"descr":{"order":"buy 0.00040000 XBTEUR @ limit 30000.0"}}}`, http.StatusOK)

	intent := domain.OrderIntent{
		Pair:   "XXBTZEUR",
		Amount: decimal.NewFromInt(12),
		Price:  decimal.NewFromInt(30000),
		Volume: decimal.RequireFromString("0.0004"),
		DryRun: true,
	}

	reply, err := client.AddOrder(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, "buy 0.00040000 XBTEUR @ limit 30000.0", reply.Order)
	assert.False(t, reply.Failed())

	req := (*captured)[0]
	assert.Equal(t, "/0/private/AddOrder", req.path)
	assert.Equal(t, "userref=1337&ordertype=limit&type=buy&pair=XXBTZEUR&price=30000&volume=0.0004&validate=true&nonce=1700000000000", req.body)
	assert.Equal(t, "7yVvyqyqWc0gcdibraI9hsz0abdV13wDKbAuk8yX1mL7aQlvTVzwaF9/H9qs+cF4pK3GJPsmuuEwTiu2jxwCJg==", req.header.Get("API-Sign"))
}

func TestKrakenClient_AddOrder_LiveHasNoValidateFlag(t *testing.T) {
	client, captured := newTestKraken(t, `{"error":[],"result":{"descr":{"order":"buy 1 ALGOEUR @ limit 0.1"},"txid":["OUF4EM-FRGI2-MQMWZD"]}}`, http.StatusOK)

	reply, err := client.AddOrder(context.Background(), domain.OrderIntent{
		Pair:   "ALGOEUR",
		Price:  decimal.RequireFromString("0.1"),
		Volume: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OUF4EM-FRGI2-MQMWZD"}, reply.TxIDs)

	_, hasValidate := (*captured)[0].payload.Get("validate")
	assert.False(t, hasValidate)
}

func TestKrakenClient_AddOrder_ExchangeErrorIsData(t *testing.T) {
	client, _ := newTestKraken(t, `{"error":["EOrder:Insufficient funds"]}`, http.StatusOK)

	reply, err := client.AddOrder(context.Background(), domain.OrderIntent{
		Pair:   "XXBTZEUR",
		Price:  decimal.NewFromInt(30000),
		Volume: decimal.RequireFromString("0.0004"),
	})
	require.NoError(t, err)
	assert.True(t, reply.Failed())
	assert.Equal(t, []string{"EOrder:Insufficient funds"}, reply.Errors)
	assert.Empty(t, reply.Order)
}

func TestKrakenClient_TransportErrorsPropagate(t *testing.T) {
	client, _ := newTestKraken(t, `<html>bad gateway</html>`, http.StatusBadGateway)

	_, err := client.AddOrder(context.Background(), domain.OrderIntent{Pair: "XXBTZEUR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	var exErr *ExchangeError
	assert.False(t, errors.As(err, &exErr))
}

func TestKrakenClient_UndecodableBody(t *testing.T) {
	client, _ := newTestKraken(t, `not json`, http.StatusOK)

	_, err := client.GetTicker(context.Background(), []string{"XXBTZEUR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode")
}

func TestKrakenClient_NoncesIncreaseAcrossCalls(t *testing.T) {
	client, captured := newTestKraken(t, `{"error":[],"result":{}}`, http.StatusOK)

	_, err := client.GetBalance(context.Background())
	require.NoError(t, err)
	_, err = client.GetBalance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1700000000000", (*captured)[0].header.Get("nonce"))
	assert.Equal(t, "1700000000001", (*captured)[1].header.Get("nonce"))
}
