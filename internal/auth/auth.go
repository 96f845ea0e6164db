// Package auth resolves bearer credentials to user identities.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Identity is who a credential belongs to.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Verifier turns an opaque credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// LookupFunc resolves a user id to its current identity.
type LookupFunc func(ctx context.Context, userID string) (Identity, error)

type claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HS256 tokens carrying an "id" claim and confirms the
// user still exists.
type JWTVerifier struct {
	secret []byte
	lookup LookupFunc
	ttl    time.Duration
}

func NewJWTVerifier(secret []byte, ttl time.Duration, lookup LookupFunc) *JWTVerifier {
	return &JWTVerifier{secret: secret, lookup: lookup, ttl: ttl}
}

// Issue signs a token for userID.
func (v *JWTVerifier) Issue(userID string) (string, error) {
	now := time.Now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (Identity, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	var c claims
	_, err := jwt.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if c.UserID == "" {
		return Identity{}, fmt.Errorf("%w: missing id claim", ErrInvalidCredential)
	}

	id, err := v.lookup(ctx, c.UserID)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: user %s: %v", ErrInvalidCredential, c.UserID, err)
	}
	return id, nil
}

// Password hashing uses argon2id with a random per-user salt.

const (
	saltLen = 16
	keyLen  = 32
)

func HashPassword(password string) (hash, salt []byte, err error) {
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	return derive(password, salt), salt, nil
}

func CheckPassword(password string, hash, salt []byte) bool {
	return subtle.ConstantTimeCompare(derive(password, salt), hash) == 1
}

func derive(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, keyLen)
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token.
func Middleware(v Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "Authorization denied. No token provided.")
			return
		}
		id, err := v.Verify(r.Context(), header)
		if err != nil {
			unauthorized(w, "Token is not valid.")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}
