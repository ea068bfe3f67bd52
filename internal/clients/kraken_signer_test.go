package clients

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// secret and vector published in the Kraken REST authentication guide.
const testSecret = "kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg=="

func TestSign_KnownAnswer(t *testing.T) {
	payload := Payload{
		{Key: "nonce", Value: "1616492376594"},
		{Key: "ordertype", Value: "limit"},
		{Key: "pair", Value: "XBTUSD"},
		{Key: "price", Value: "37500"},
		{Key: "type", Value: "buy"},
		{Key: "volume", Value: "1.25"},
	}

	sig, err := Sign("/0/private/AddOrder", payload, "1616492376594", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ==", sig)
}

func TestSign_Deterministic(t *testing.T) {
	payload := Payload{{Key: "nonce", Value: "1616492376594"}}

	first, err := Sign("/0/private/Balance", payload, "1616492376594", testSecret)
	require.NoError(t, err)
	second, err := Sign("/0/private/Balance", payload, "1616492376594", testSecret)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "1nH4vwR+8FHiYh1QT649xXkGd3JR3x0DWkgv3u9Ed/Qqv6KPtgQpEU4m+Emb/VgpEji3j1XNwI+HCbfXxmrTOg==", first)
}

func TestSign_OrderPayloadInInsertionOrder(t *testing.T) {
	payload := Payload{
		{Key: "userref", Value: "1337"},
		{Key: "ordertype", Value: "limit"},
		{Key: "type", Value: "buy"},
		{Key: "pair", Value: "XXBTZEUR"},
		{Key: "price", Value: "30000"},
		{Key: "volume", Value: "0.0004"},
		{Key: "validate", Value: "true"},
		{Key: "nonce", Value: "1700000000000"},
	}

	assert.Equal(t, "userref=1337&ordertype=limit&type=buy&pair=XXBTZEUR&price=30000&volume=0.0004&validate=true&nonce=1700000000000",
		payload.Encode())

	sig, err := Sign("/0/private/AddOrder", payload, "1700000000000", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "7yVvyqyqWc0gcdibraI9hsz0abdV13wDKbAuk8yX1mL7aQlvTVzwaF9/H9qs+cF4pK3GJPsmuuEwTiu2jxwCJg==", sig)
}

func TestSign_InvalidSecret(t *testing.T) {
	_, err := Sign("/0/private/Balance", Payload{{Key: "nonce", Value: "1"}}, "1", "not base64!")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSecret))
}

func TestPayload_EncodeEscapes(t *testing.T) {
	payload := Payload{{Key: "pair", Value: "A B/C"}, {Key: "nonce", Value: "1"}}
	assert.Equal(t, "pair=A+B%2FC&nonce=1", payload.Encode())

	sig, err := Sign("/0/private/AddOrder", payload, "1", testSecret)
	require.NoError(t, err)
	assert.Equal(t, "QdBFz+mlel5cKIwXb/R5mppPqqI2C/LINfhjCsd8qmVLvzxVxAxiY004RgulyNtRgf7MoKOjXcqNtXzvjnNEmA==", sig)
}

func TestPayload_SetReplacesInPlace(t *testing.T) {
	payload := Payload{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	payload.Set("a", "3")
	payload.Set("c", "4")

	assert.Equal(t, "a=3&b=2&c=4", payload.Encode())
	v, ok := payload.Get("c")
	assert.True(t, ok)
	assert.Equal(t, "4", v)
}
