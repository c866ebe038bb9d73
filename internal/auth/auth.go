// Package auth implements Sherpa's authentication (Argon2id password
// hashing, JWT issuance/validation, cookie + bearer transport) and
// authorization (owner-or-admin ACL, authz.go).
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"

	"github.com/bwks/sherpa/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// CookieName is the cookie that carries the JWT for browser-based clients.
const CookieName = "sherpa_auth"

const (
	normalTTL   = 7 * 24 * time.Hour
	rememberTTL = 30 * 24 * time.Hour
)

// Argon2id parameters: the RFC 9106 low-memory recommendation, matching
// golang.org/x/crypto/argon2's own documented example usage.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// Claims is the JWT payload: subject, admin flag, and the standard
// registered claims (iat/exp).
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// HashPassword hashes plain with Argon2id, encoding the salt and parameters
// into the stored string so verification doesn't need a side table.
func HashPassword(plain string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(plain), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		argon2Time, argon2Memory, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks plain against an encoded hash in constant time.
func VerifyPassword(plain, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	var timeCost uint64
	var memCost uint64
	var threads uint64
	if _, err := fmt.Sscanf(parts[1], "%d", &timeCost); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &memCost); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "%d", &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(plain), salt, uint32(timeCost), uint32(memCost), uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Issuer signs and validates JWTs with a process-wide HS256 secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// IssueToken returns a signed token and its expiry for username, scaling
// the expiry to 30 days when remember is set (7 days otherwise).
func (iss *Issuer) IssueToken(username string, isAdmin, remember bool) (string, time.Time, error) {
	ttl := normalTTL
	if remember {
		ttl = rememberTTL
	}
	now := time.Now()
	exp := now.Add(ttl)

	claims := &Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// TokenStatus is the closed set of outcomes ValidateToken can report.
type TokenStatus int

const (
	TokenValid TokenStatus = iota
	TokenExpired
	TokenMalformed
)

// ValidateToken parses and verifies a token string, reporting whether it
// is valid, expired, or malformed.
func (iss *Issuer) ValidateToken(tokenString string) (*Claims, TokenStatus) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return iss.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, TokenExpired
		}
		return nil, TokenMalformed
	}
	if !token.Valid {
		return nil, TokenMalformed
	}
	return claims, TokenValid
}

// AuthContext is the (username, is_admin) pair extracted from a validated
// JWT and threaded into every privileged RPC method.
type AuthContext struct {
	Username string
	IsAdmin  bool
}

// ContextFromToken validates tokenString and, on success, resolves the
// subject against the store to reject tokens for users that no longer
// exist.
func ContextFromToken(iss *Issuer, s store.Store, tokenString string) (*AuthContext, error) {
	if tokenString == "" {
		return nil, ErrInvalidCredentials
	}
	claims, status := iss.ValidateToken(tokenString)
	switch status {
	case TokenExpired:
		return nil, errTokenExpired
	case TokenMalformed:
		return nil, errTokenMalformed
	}

	u, err := s.GetUser(claims.Subject)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return &AuthContext{Username: u.Username, IsAdmin: u.IsAdmin}, nil
}

var (
	errTokenExpired   = errors.New("token expired")
	errTokenMalformed = errors.New("token malformed")
)

// IsExpired reports whether err is the "token expired" sentinel.
func IsExpired(err error) bool { return errors.Is(err, errTokenExpired) }

// IsMalformed reports whether err is the "token malformed" sentinel.
func IsMalformed(err error) bool { return errors.Is(err, errTokenMalformed) }

// SetAuthCookie writes the Sherpa auth cookie: HttpOnly, SameSite=Strict,
// Path=/, and a Max-Age matching the token's remaining lifetime.
func SetAuthCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

// TokenFromRequest extracts a bearer token from the Authorization header,
// falling back to the sherpa_auth cookie.
func TokenFromRequest(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
