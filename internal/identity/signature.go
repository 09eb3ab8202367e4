package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	secretPrefix       = "whsec_"
	timestampTolerance = 5 * time.Minute
)

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrStaleWebhook = errors.New("webhook timestamp outside tolerance")
)

// SignatureVerifier checks webhook deliveries signed in the svix scheme: the
// signed content is "{id}.{timestamp}.{body}" and the signature header holds
// space-separated "v1,<base64 hmac-sha256>" entries.
type SignatureVerifier struct {
	key []byte
	now func() time.Time
}

func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	raw := strings.TrimPrefix(secret, secretPrefix)
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &SignatureVerifier{key: key, now: time.Now}, nil
}

// Verify checks the delivery headers against the body. The timestamp guards
// against replay of captured deliveries.
func (v *SignatureVerifier) Verify(id, timestamp, signatureHeader string, body []byte) error {
	id = strings.TrimSpace(id)
	timestamp = strings.TrimSpace(timestamp)
	if id == "" || timestamp == "" || strings.TrimSpace(signatureHeader) == "" {
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := v.now().UTC().Sub(time.Unix(unix, 0).UTC())
	if age > timestampTolerance || age < -timestampTolerance {
		return ErrStaleWebhook
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, entry := range strings.Fields(signatureHeader) {
		version, sig, found := strings.Cut(entry, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign produces the "v1,<sig>" entry for a delivery. Used by tests and local
// tooling that replays events.
func (v *SignatureVerifier) Sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
