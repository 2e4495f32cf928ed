package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials holds the API key triplet issued by the betting exchange.
type Credentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Signer produces HMAC-SHA256 request headers. Each request signs
// "timestamp + method + path [+ body]" with the base64-decoded secret.
type Signer struct {
	creds Credentials
	now   func() time.Time
}

// NewSigner creates a Signer. The secret is validated eagerly so a bad
// credential fails at startup rather than on the first bet.
func NewSigner(creds Credentials) (*Signer, error) {
	if _, err := decodeSecret(creds.Secret); err != nil {
		return nil, err
	}
	return &Signer{creds: creds, now: time.Now}, nil
}

// Headers generates the authentication headers for one request.
func (s *Signer) Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(s.now().Unix(), 10)

	sig, err := s.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}

	return map[string]string{
		"ARB-API-KEY":    s.creds.APIKey,
		"ARB-SIGNATURE":  sig,
		"ARB-TIMESTAMP":  timestamp,
		"ARB-PASSPHRASE": s.creds.Passphrase,
	}, nil
}

// decodeSecret accepts any of the base64 alphabets exchanges hand out.
func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("decode secret: empty")
	}
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var (
		secretBytes []byte
		err         error
	)
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(secret)
		if err == nil {
			return secretBytes, nil
		}
	}
	return nil, fmt.Errorf("decode secret: %w", err)
}

// buildHMAC computes the request signature.
// message = timestamp + method + requestPath [+ body]
func (s *Signer) buildHMAC(timestamp, method, path, body string) (string, error) {
	secretBytes, err := decodeSecret(s.creds.Secret)
	if err != nil {
		return "", err
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
