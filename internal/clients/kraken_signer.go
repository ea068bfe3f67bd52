package clients

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidSecret is returned when the private key is not valid base64.
var ErrInvalidSecret = errors.New("kraken private key is not valid base64")

// Param is one form field of a private call.
type Param struct {
	Key   string
	Value string
}

// Payload is a form body that encodes fields in insertion order.
// The signature covers the encoded body, so the order sent must be the order signed.
type Payload []Param

// Set replaces key in place or appends it.
func (p *Payload) Set(key, value string) {
	for i := range *p {
		if (*p)[i].Key == key {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Key: key, Value: value})
}

// Get returns the value for key.
func (p Payload) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// Encode returns the form encoding in insertion order.
func (p Payload) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(param.Value))
	}
	return b.String()
}

// Sign computes the API-Sign header for a private call:
// base64(HMAC-SHA512(path + SHA256(nonce + body), base64decode(secret))).
func Sign(endpointPath string, payload Payload, nonce, secretB64 string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return "", errors.Wrap(ErrInvalidSecret, err.Error())
	}

	digest := sha256.Sum256([]byte(nonce + payload.Encode()))

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(endpointPath))
	mac.Write(digest[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
