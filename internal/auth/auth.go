package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for a missing, malformed, expired or badly
// signed credential.
var ErrUnauthorized = errors.New("unauthorized")

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet represents a set of JSON Web Keys
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// Claims are the token claims the game reads. The user id comes from the
// userId claim, falling back to sub.
type Claims struct {
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller handed to the game service.
type Identity struct {
	UserID   string
	Username string
}

// Verifier checks bearer tokens. HMAC tokens are checked against Secret;
// RSA tokens against the keys published at JWKSEndpoint.
type Verifier struct {
	Secret       []byte
	Issuer       string
	JWKSEndpoint string
	Client       *http.Client

	mu        sync.Mutex
	jwkSet    *JWKSet
	lastFetch time.Time
}

// NewVerifierFromEnv reads JWT_SECRET, JWT_ISSUER and JWKS_URL.
func NewVerifierFromEnv() *Verifier {
	return &Verifier{
		Secret:       []byte(os.Getenv("JWT_SECRET")),
		Issuer:       os.Getenv("JWT_ISSUER"),
		JWKSEndpoint: os.Getenv("JWKS_URL"),
	}
}

func (v *Verifier) httpClient() *http.Client {
	if v.Client != nil {
		return v.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// fetchJWKS fetches the key set, caching it for an hour.
func (v *Verifier) fetchJWKS() (*JWKSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.jwkSet != nil && time.Since(v.lastFetch) < time.Hour {
		return v.jwkSet, nil
	}

	resp, err := v.httpClient().Get(v.JWKSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	v.jwkSet = &set
	v.lastFetch = time.Now()
	return v.jwkSet, nil
}

func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	set, err := v.fetchJWKS()
	if err != nil {
		return nil, err
	}
	for _, key := range set.Keys {
		if key.Kid == kid && key.Kty == "RSA" {
			return jwkToRSAPublicKey(key)
		}
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func jwkToRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode N: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode E: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.Secret) == 0 {
			return nil, fmt.Errorf("HMAC tokens are not accepted")
		}
		return v.Secret, nil
	case *jwt.SigningMethodRSA:
		if v.JWKSEndpoint == "" {
			return nil, fmt.Errorf("RSA tokens are not accepted")
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("kid not found in token header")
		}
		return v.publicKey(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

// ValidateToken parses and verifies a token and resolves the caller.
func (v *Verifier) ValidateToken(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token or claims", ErrUnauthorized)
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, fmt.Errorf("%w: token has no user id", ErrUnauthorized)
	}
	return Identity{UserID: id, Username: claims.Username}, nil
}

// Sign issues an HMAC token for a user, valid for ttl.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	if len(v.Secret) == 0 {
		return "", errors.New("JWT_SECRET is not set")
	}
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for WebSocket upgrades.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token := strings.TrimPrefix(h, "Bearer ")
		if token == h || token == "" {
			return "", fmt.Errorf("%w: bearer token required", ErrUnauthorized)
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("%w: authorization header required", ErrUnauthorized)
}

// Authenticate resolves the caller of r.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return Identity{}, err
	}
	return v.ValidateToken(token)
}

// AuthMiddleware rejects unauthenticated requests and stores the caller in
// the request context.
func (v *Verifier) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFromContext extracts the caller from a request context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
