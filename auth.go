package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const authIssuer = "walletnode"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// JWTClaims identify a client of the websocket endpoint.
type JWTClaims struct {
	jwt.RegisteredClaims
}

// AuthManager issues and verifies HS256 tokens for the websocket endpoint.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(secret string, tokenTTL time.Duration) (*AuthManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth secret must be at least 32 bytes")
	}
	if tokenTTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}, nil
}

// GenerateJWT issues a token for subject. A zero ttl uses the configured one.
func (am *AuthManager) GenerateJWT(subject string, ttl time.Duration) (*JWTClaims, string, error) {
	if subject == "" {
		return nil, "", errors.New("subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = am.tokenTTL
	}

	now := am.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    authIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(am.secret)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to sign token")
	}
	return claims, tokenString, nil
}

// VerifyJWT parses tokenString and checks its signature, issuer and validity window.
func (am *AuthManager) VerifyJWT(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return am.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(authIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(am.now),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(ErrInvalidToken, "missing subject")
	}
	return claims, nil
}

// AuthenticateRequest authenticates a websocket handshake. A request without
// a token connects anonymously and can authenticate later with
// wallet_authenticate; a bad token is rejected.
func (am *AuthManager) AuthenticateRequest(r *http.Request) (string, error) {
	token, err := bearerToken(r)
	if errors.Is(err, ErrMissingToken) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	claims, err := am.VerifyJWT(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// bearerToken reads the token from the Authorization header or, for browser
// clients that cannot set headers on websockets, the token query parameter.
func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errors.Wrap(ErrInvalidToken, "malformed authorization header")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
