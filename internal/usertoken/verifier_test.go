package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type jwksFixture struct {
	srv  *httptest.Server
	keys map[string]*rsa.PrivateKey
}

func newJWKSFixture(t *testing.T, kids ...string) *jwksFixture {
	t.Helper()
	f := &jwksFixture{keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range kids {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate key %s: %v", kid, err)
		}
		f.keys[kid] = key
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=1")
		var doc jwksDocument
		for kid, key := range f.keys {
			doc.Keys = append(doc.Keys, struct {
				Kty string `json:"kty"`
				Kid string `json:"kid"`
				N   string `json:"n"`
				E   string `json:"e"`
			}{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			})
		}
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	key, ok := f.keys[kid]
	if !ok {
		t.Fatalf("no key for kid %s", kid)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims(subject string) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
	}
}

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatal("expected missing jwks url to fail")
	}
}

func TestVerifySubject(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	v, err := NewVerifier(Config{JWKSURL: f.srv.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	sub, err := v.VerifySubject(f.sign(t, "kid-1", validClaims("user-a")))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-a" {
		t.Fatalf("subject = %q, want user-a", sub)
	}
}

func TestVerifySubjectRefetchesOnUnknownKid(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	v, err := NewVerifier(Config{JWKSURL: f.srv.URL, Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	// Rotate: the signer starts using a key the verifier has not seen.
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key2: %v", err)
	}
	f.keys["kid-2"] = key2

	sub, err := v.VerifySubject(f.sign(t, "kid-2", validClaims("user-b")))
	if err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if sub != "user-b" {
		t.Fatalf("subject = %q, want user-b", sub)
	}
}

func TestVerifySubjectRejections(t *testing.T) {
	f := newJWKSFixture(t, "kid-1")
	v, err := NewVerifier(Config{
		JWKSURL:  f.srv.URL,
		Issuer:   "issuer-a",
		Audience: "aud-a",
		Leeway:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	futureIat := validClaims("user-1")
	futureIat.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))

	wrongAudience := validClaims("user-1")
	wrongAudience.Audience = jwt.ClaimStrings{"aud-other"}

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noSubject := validClaims("")

	cases := []struct {
		name   string
		claims jwt.RegisteredClaims
	}{
		{"future issued-at", futureIat},
		{"wrong audience", wrongAudience},
		{"expired", expired},
		{"missing subject", noSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.VerifySubject(f.sign(t, "kid-1", tc.claims)); err == nil {
				t.Fatal("expected verification to fail")
			}
		})
	}
}
