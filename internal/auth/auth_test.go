package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sherpa_auth_test_*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := store.InitDB(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("init db: %v", err)
	}

	st := store.NewSQLiteStore(db)
	t.Cleanup(func() {
		st.Close()
		os.Remove(tmpFile.Name())
	})
	return st
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "" || hash == "correct horse battery staple" {
		t.Fatalf("HashPassword() returned suspicious value %q", hash)
	}

	if !VerifyPassword("correct horse battery staple", hash) {
		t.Error("VerifyPassword() = false for correct password")
	}
	if VerifyPassword("wrong password", hash) {
		t.Error("VerifyPassword() = true for incorrect password")
	}
}

func TestHashPassword_UniqueSaltPerCall(t *testing.T) {
	h1, _ := HashPassword("same-password")
	h2, _ := HashPassword("same-password")
	if h1 == h2 {
		t.Error("HashPassword() produced identical output for two calls — salt not randomized")
	}
}

func TestIssueAndValidateToken(t *testing.T) {
	iss := NewIssuer("test-secret")

	token, exp, err := iss.IssueToken("alice", false, false)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if time.Until(exp) > 8*24*time.Hour || time.Until(exp) < 6*24*time.Hour {
		t.Errorf("IssueToken() normal expiry = %v from now, want ~7d", time.Until(exp))
	}

	claims, status := iss.ValidateToken(token)
	if status != TokenValid {
		t.Fatalf("ValidateToken() status = %v, want TokenValid", status)
	}
	if claims.Subject != "alice" || claims.IsAdmin {
		t.Errorf("ValidateToken() claims = %+v", claims)
	}
}

func TestIssueToken_RememberExtendsExpiry(t *testing.T) {
	iss := NewIssuer("test-secret")

	_, exp, err := iss.IssueToken("alice", false, true)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if time.Until(exp) < 29*24*time.Hour {
		t.Errorf("IssueToken() remember expiry = %v from now, want ~30d", time.Until(exp))
	}
}

func TestValidateToken_Malformed(t *testing.T) {
	iss := NewIssuer("test-secret")

	_, status := iss.ValidateToken("not-a-jwt")
	if status != TokenMalformed {
		t.Errorf("ValidateToken() status = %v, want TokenMalformed", status)
	}
}

func TestValidateToken_WrongSecretIsMalformed(t *testing.T) {
	a := NewIssuer("secret-a")
	b := NewIssuer("secret-b")

	token, _, _ := a.IssueToken("alice", false, false)
	_, status := b.ValidateToken(token)
	if status != TokenMalformed {
		t.Errorf("ValidateToken() cross-secret status = %v, want TokenMalformed", status)
	}
}

func TestContextFromToken(t *testing.T) {
	db := newTestStore(t)
	if err := db.CreateUser(&store.User{Username: "alice", PasswordHash: "hash", IsAdmin: true}); err != nil {
		t.Fatal(err)
	}

	iss := NewIssuer("test-secret")
	token, _, err := iss.IssueToken("alice", true, false)
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := ContextFromToken(iss, db, token)
	if err != nil {
		t.Fatalf("ContextFromToken() error = %v", err)
	}
	if ctx.Username != "alice" || !ctx.IsAdmin {
		t.Errorf("ContextFromToken() = %+v", ctx)
	}
}

func TestContextFromToken_UnknownUser(t *testing.T) {
	db := newTestStore(t)
	iss := NewIssuer("test-secret")
	token, _, _ := iss.IssueToken("ghost", false, false)

	_, err := ContextFromToken(iss, db, token)
	if err != ErrUserNotFound {
		t.Errorf("ContextFromToken() error = %v, want ErrUserNotFound", err)
	}
}

func TestContextFromToken_Empty(t *testing.T) {
	db := newTestStore(t)
	iss := NewIssuer("test-secret")

	_, err := ContextFromToken(iss, db, "")
	if err != ErrInvalidCredentials {
		t.Errorf("ContextFromToken(\"\") error = %v, want ErrInvalidCredentials", err)
	}
}

func TestTokenFromRequest_PrefersBearerThenCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})

	if got := TokenFromRequest(r); got != "from-header" {
		t.Errorf("TokenFromRequest() = %q, want from-header", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r2.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	if got := TokenFromRequest(r2); got != "from-cookie" {
		t.Errorf("TokenFromRequest() = %q, want from-cookie", got)
	}
}

func TestSetAuthCookie_Attributes(t *testing.T) {
	rec := httptest.NewRecorder()
	SetAuthCookie(rec, "tok", time.Now().Add(time.Hour))

	resp := rec.Result()
	cookies := resp.Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly {
		t.Error("cookie not HttpOnly")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Error("cookie SameSite != Strict")
	}
	if c.Path != "/" {
		t.Errorf("cookie Path = %q, want /", c.Path)
	}
}

func TestRequireAdmin(t *testing.T) {
	if err := RequireAdmin(&AuthContext{IsAdmin: true}); err != nil {
		t.Errorf("RequireAdmin(admin) error = %v", err)
	}
	err := RequireAdmin(&AuthContext{IsAdmin: false})
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.AuthForbidden {
		t.Errorf("RequireAdmin(non-admin) error = %v, want AuthForbidden", err)
	}
}

func TestRequireLabOwnerOrAdmin(t *testing.T) {
	db := newTestStore(t)
	if err := db.CreateUser(&store.User{Username: "alice", PasswordHash: "hash"}); err != nil {
		t.Fatal(err)
	}
	lab := &store.Lab{LabID: "aabbccdd", Name: "hello", User: "alice", LoopbackNetwork: "127.0.0.0/30", ManagementCIDR: "172.16.0.0/24"}
	if err := db.CreateLab(lab, nil, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := RequireLabOwnerOrAdmin(&AuthContext{Username: "alice"}, db, lab.LabID); err != nil {
		t.Errorf("owner should be authorized, got %v", err)
	}
	if err := RequireLabOwnerOrAdmin(&AuthContext{Username: "root", IsAdmin: true}, db, lab.LabID); err != nil {
		t.Errorf("admin should be authorized, got %v", err)
	}

	err := RequireLabOwnerOrAdmin(&AuthContext{Username: "bob"}, db, lab.LabID)
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.AuthForbidden {
		t.Errorf("non-owner RequireLabOwnerOrAdmin() error = %v, want AuthForbidden", err)
	}
}

func TestRequireLabOwnerOrAdmin_UnknownLab(t *testing.T) {
	db := newTestStore(t)
	err := RequireLabOwnerOrAdmin(&AuthContext{Username: "alice"}, db, "deadbeef")
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.NotFound {
		t.Errorf("RequireLabOwnerOrAdmin() on missing lab = %v, want NotFound", err)
	}
}

func TestRequireSelfOrAdmin(t *testing.T) {
	if err := RequireSelfOrAdmin(&AuthContext{Username: "alice"}, "alice"); err != nil {
		t.Errorf("self should be authorized, got %v", err)
	}
	if err := RequireSelfOrAdmin(&AuthContext{Username: "root", IsAdmin: true}, "alice"); err != nil {
		t.Errorf("admin should be authorized, got %v", err)
	}
	err := RequireSelfOrAdmin(&AuthContext{Username: "bob"}, "alice")
	serr, ok := err.(*sherr.Error)
	if !ok || serr.Code != sherr.AuthForbidden {
		t.Errorf("other user RequireSelfOrAdmin() error = %v, want AuthForbidden", err)
	}
}
