package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := Token(42)
	uid, ok := ParseToken(tok)
	if !ok || uid != 42 {
		t.Fatalf("ParseToken(Token(42)) = %d, %v", uid, ok)
	}
	if _, ok := ParseToken("42.forged"); ok {
		t.Error("forged signature accepted")
	}
	if _, ok := ParseToken("garbage"); ok {
		t.Error("malformed token accepted")
	}
	if _, ok := ParseToken(Token(0)); ok {
		t.Error("zero user id accepted")
	}
}

func TestMiddleware_BearerAndCookie(t *testing.T) {
	var got uint
	h := Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+Token(7))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != 7 {
		t.Fatalf("bearer: code=%d uid=%d", rec.Code, got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: Token(9)})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || got != 9 {
		t.Fatalf("cookie: code=%d uid=%d", rec.Code, got)
	}
}

func TestRequireAuth_Unauthorized(t *testing.T) {
	h := Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})))

	for _, hdr := range []string{"", "Bearer 1.bad", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%q: code = %d, want 401", hdr, rec.Code)
		}
	}
}

func TestRequireAuth_Verifier(t *testing.T) {
	SetUserVerifier(func(_ context.Context, uid uint) bool { return uid == 1 })
	t.Cleanup(func() { SetUserVerifier(nil) })

	h := Middleware(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+Token(2))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: code = %d, want 401", rec.Code)
	}
}
