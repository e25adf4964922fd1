package integration

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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testKeyID = "salon-idp-1"

// TestClaims describes the back-office user a test token is minted for.
type TestClaims struct {
	SubjectID string
	Email     string
	Name      string
	Roles     []string
}

// AdminClaims is the salon owner with every capability.
func AdminClaims() TestClaims {
	return TestClaims{SubjectID: "admin-1", Email: "admin@salon.example.com", Name: "Admin", Roles: []string{"admin"}}
}

// ManagerClaims is a front-desk manager.
func ManagerClaims() TestClaims {
	return TestClaims{SubjectID: "manager-1", Email: "manager@salon.example.com", Name: "Manager", Roles: []string{"manager"}}
}

// StaffClaims is a therapist who only sees their own bookings.
func StaffClaims(id string) TestClaims {
	return TestClaims{SubjectID: id, Email: id + "@salon.example.com", Name: "Staff " + id, Roles: []string{"staff"}}
}

// CustomerClaims is a signed-in customer with no back-office role.
func CustomerClaims() TestClaims {
	return TestClaims{SubjectID: "customer-1", Email: "customer@example.com", Roles: []string{"customer"}}
}

// staffToken is the claim set the salon identity provider issues.
type staffToken struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// tokenIssuer stands in for the salon identity provider: it signs RS256
// tokens and publishes the public key on a JWKS endpoint.
type tokenIssuer struct {
	privateKey *rsa.PrivateKey
	jwks       *httptest.Server
	issuer     string
	audience   string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	set := struct {
		Keys []jsonWebKey `json:"keys"`
	}{Keys: []jsonWebKey{{
		Kid: testKeyID,
		Kty: "RSA",
		Alg: jwt.SigningMethodRS256.Alg(),
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	doc, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("encode JWKS: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/jwk-set+json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		privateKey: key,
		jwks:       srv,
		issuer:     "https://auth.salon.test",
		audience:   "backoffice-test",
	}
}

// GenerateToken mints a token valid for the next hour. Each token has its
// own jti and therefore its own screen session.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	now := time.Now()
	return ti.Sign(ti.claims(c, now.Add(-time.Minute), now.Add(time.Hour)))
}

// GenerateExpiredToken mints a token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	now := time.Now()
	return ti.Sign(ti.claims(c, now.Add(-2*time.Hour), now.Add(-time.Hour)))
}

func (ti *tokenIssuer) claims(c TestClaims, issued, expires time.Time) staffToken {
	return staffToken{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   c.SubjectID,
			Audience:  jwt.ClaimStrings{ti.audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
		Email: c.Email,
		Name:  c.Name,
		Roles: c.Roles,
	}
}

// Sign signs arbitrary claims with the published key.
func (ti *tokenIssuer) Sign(claims jwt.Claims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(ti.privateKey)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// JWKSURL is the key set endpoint.
func (ti *tokenIssuer) JWKSURL() string { return ti.jwks.URL }

// Issuer is the expected iss claim.
func (ti *tokenIssuer) Issuer() string { return ti.issuer }

// Audience is the expected aud claim.
func (ti *tokenIssuer) Audience() string { return ti.audience }
