package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/receiptd/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAuth(t *testing.T) *AuthMiddleware {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3nha"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAuthMiddleware(config.AuthConfig{
		Enabled:           true,
		AdminPasswordHash: string(hash),
		JWTSecret:         "unit-test-secret",
		TokenTTL:          time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func protectedEngine(a *AuthMiddleware) *gin.Engine {
	r := gin.New()
	r.GET("/secret", a.RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func get(r http.Handler, setup func(*http.Request)) int {
	req := httptest.NewRequest(http.MethodGet, "/secret", nil)
	if setup != nil {
		setup(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestNewAuthMiddlewareRequiresCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.AuthConfig
	}{
		{"no secret", config.AuthConfig{AdminPasswordHash: "$2a$10$abcdefghijklmnopqrstuuWQ1u1u1u1u1u1u1u1u1u1u1u1u1u1u1"}},
		{"no hash", config.AuthConfig{JWTSecret: "x"}},
		{"plain password", config.AuthConfig{JWTSecret: "x", AdminPasswordHash: "hunter2"}},
	}
	for _, tt := range tests {
		if _, err := NewAuthMiddleware(tt.cfg); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	r := protectedEngine(a)
	token, _, err := a.generateToken()
	if err != nil {
		t.Fatal(err)
	}

	if code := get(r, nil); code != http.StatusUnauthorized {
		t.Errorf("no token = %d", code)
	}
	if code := get(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }); code != http.StatusOK {
		t.Errorf("bearer token = %d", code)
	}
	if code := get(r, func(req *http.Request) { req.AddCookie(&http.Cookie{Name: cookieName, Value: token}) }); code != http.StatusOK {
		t.Errorf("cookie token = %d", code)
	}
	if code := get(r, func(req *http.Request) { req.Header.Set("Authorization", token) }); code != http.StatusUnauthorized {
		t.Errorf("token without Bearer prefix = %d", code)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := a.generateToken()
	if err != nil {
		t.Fatal(err)
	}
	a.now = time.Now

	r := protectedEngine(a)
	if code := get(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }); code != http.StatusUnauthorized {
		t.Errorf("expired token = %d, want 401", code)
	}
}

func TestForeignTokensAreRejected(t *testing.T) {
	t.Parallel()

	a := newTestAuth(t)
	r := protectedEngine(a)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Authenticated: true,
	})
	wrongKey, err := other.SignedString([]byte("another-secret"))
	if err != nil {
		t.Fatal(err)
	}

	wrongIssuer := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "spool",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Authenticated: true,
	})
	wrongIss, err := wrongIssuer.SignedString(a.secret)
	if err != nil {
		t.Fatal(err)
	}

	notAuthenticated := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	notAuth, err := notAuthenticated.SignedString(a.secret)
	if err != nil {
		t.Fatal(err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
		Authenticated:    true,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	for name, token := range map[string]string{
		"wrong key":         wrongKey,
		"wrong issuer":      wrongIss,
		"not authenticated": notAuth,
		"alg none":          unsigned,
	} {
		token := token
		if code := get(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }); code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, code)
		}
	}
}
