package integration

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// ==========================================================================
// Authentication Tests
// ==========================================================================

func TestSecurity_NoAuthHeader_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	endpoints := []string{
		"/ui/navigation",
		"/ui/screens/categories",
		"/ui/lookups/categories",
	}

	for _, ep := range endpoints {
		t.Run(ep, func(t *testing.T) {
			resp := h.GET(ep, "")
			h.AssertError(t, resp, http.StatusUnauthorized, "UNAUTHORIZED")
		})
	}
	h.Backend().AssertNotCalled(t, "listCategories")
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(ManagerClaims())

	resp := h.GET("/ui/navigation", token)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_InvalidSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Signed with a key the JWKS endpoint does not publish.
	differentKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	claims := jwt.MapClaims{
		"iss":   h.issuer.Issuer(),
		"aud":   h.issuer.Audience(),
		"sub":   "admin-1",
		"email": "admin@salon.test",
		"roles": []any{"admin"},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(differentKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp := h.GET("/ui/navigation", signed)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_NoneAlgorithm_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(
		`{"sub":"admin-1","iss":"` + h.issuer.Issuer() + `","aud":"` + h.issuer.Audience() + `","roles":["admin"]}`))
	noneToken := header + "." + payload + "."

	resp := h.GET("/ui/navigation", noneToken)
	h.AssertStatus(t, resp, http.StatusUnauthorized)
}

func TestSecurity_MalformedTokens_Return401(t *testing.T) {
	h := NewTestHarness(t)

	for name, token := range map[string]string{
		"garbage":       "not-a-jwt",
		"two segments":  "abc.def",
		"bad base64":    "!!!.???.***",
		"empty payload": "eyJhbGciOiJSUzI1NiJ9..",
	} {
		t.Run(name, func(t *testing.T) {
			h.AssertStatus(t, h.GET("/ui/navigation", token), http.StatusUnauthorized)
		})
	}
}

func TestSecurity_WrongAudience_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	claims := jwt.MapClaims{
		"iss":   h.issuer.Issuer(),
		"aud":   "some-other-app",
		"sub":   "admin-1",
		"roles": []any{"admin"},
	}
	h.AssertStatus(t, h.GET("/ui/navigation", h.issuer.Sign(claims)), http.StatusUnauthorized)
}

// ==========================================================================
// Session Isolation Tests
// ==========================================================================

func TestSecurity_ScreensAreScopedToTheirSession(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(3))

	owner := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", owner)

	// Same operator, different token: a separate session.
	other := h.GenerateToken(AdminClaims())
	h.AssertError(t, h.GET("/ui/screens/categories", other), http.StatusNotFound, "NOT_FOUND")
	h.AssertError(t, h.DELETE("/ui/screens/categories/items/c1", other), http.StatusNotFound, "NOT_FOUND")
	h.Backend().AssertNotCalled(t, "deleteCategory")

	view := h.View(t, "categories", owner)
	if len(view.State.Items) != 3 {
		t.Errorf("owner items = %d, want 3", len(view.State.Items))
	}
}

// ==========================================================================
// Authorization Tests
// ==========================================================================

func TestSecurity_ScreenCapabilities(t *testing.T) {
	h := NewTestHarness(t)
	h.serveCategories(newCategoryStore(1))
	h.Backend().OnOperation("listBookings").RespondWith(200, ListFixture(nil, 0))
	h.Backend().OnOperation("listStaffBookings").RespondWith(200, ListFixture(nil, 0))

	customer := h.GenerateToken(CustomerClaims())
	h.AssertError(t, h.POST("/ui/screens/categories", nil, customer), http.StatusForbidden, "FORBIDDEN")

	staff := h.GenerateToken(StaffClaims("staff-3"))
	h.AssertError(t, h.POST("/ui/screens/bookings", nil, staff), http.StatusForbidden, "FORBIDDEN")
	h.Backend().AssertNotCalled(t, "listBookings")

	// Staff see only their own bookings.
	h.Mount(t, "staff", staff)
	req := h.Backend().LastRequest("listStaffBookings")
	if req == nil || req.PathValues["staffId"] != "staff-3" {
		t.Errorf("staff bookings request = %+v, want staffId staff-3", req)
	}

	// Read-only operators cannot mutate.
	manager := h.GenerateToken(ManagerClaims())
	h.Mount(t, "categories", manager)
	h.AssertError(t, h.DELETE("/ui/screens/categories/items/c1", manager), http.StatusForbidden, "FORBIDDEN")
	h.Backend().AssertNotCalled(t, "deleteCategory")
}

// ==========================================================================
// Request Limits
// ==========================================================================

func TestSecurity_OversizedUploadRejected(t *testing.T) {
	h := NewTestHarness(t, WithMaxUploadBytes(4<<10))
	h.serveCategories(newCategoryStore(1))
	token := h.GenerateToken(AdminClaims())
	h.Mount(t, "categories", token)

	resp := h.Multipart("POST", "/ui/screens/categories/items",
		map[string]string{"categoryName": "Nails", "description": "Manicure"},
		[]UploadFile{{Field: "image", Filename: "huge.png", ContentType: "image/png", Data: bytes.Repeat([]byte{0x89}, 64<<10)}},
		token)
	h.AssertError(t, resp, http.StatusBadRequest, "BAD_REQUEST")
	h.Backend().AssertNotCalled(t, "createCategory")
}
