package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/filingdesk/filingdesk/internal/domain"
)

// Compile-time check: Verifier implements domain.SessionVerifier.
var _ domain.SessionVerifier = (*Verifier)(nil)

// Verifier validates HS256 session tokens minted by the identity service
// and issues continuation tokens for the login round trip. Draft field
// data never rides in a continuation token; only the service and plan to
// return to.
type Verifier struct {
	secret []byte
	ttl    time.Duration
}

// NewVerifier creates a verifier with the shared HMAC secret. ttl bounds
// issued continuation tokens.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verify resolves a bearer token into a session. An expired or otherwise
// invalid token maps to ErrSessionExpired so the edge can answer with a
// continuation token instead of a bare rejection.
func (v *Verifier) Verify(_ context.Context, token string) (domain.Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Session{}, domain.ErrSessionExpired
		}
		return domain.Session{}, fmt.Errorf("%w: %v", domain.ErrSessionExpired, err)
	}
	if !parsed.Valid || claims.Email == "" {
		return domain.Session{}, domain.ErrSessionExpired
	}
	return domain.Session{Email: claims.Email, Name: claims.Name}, nil
}

type continuationClaims struct {
	ServiceID string `json:"serviceId"`
	PlanID    string `json:"planId"`
	jwt.RegisteredClaims
}

// Continuation issues a short-lived token naming the service and plan to
// resume after the user signs back in.
func (v *Verifier) Continuation(serviceID, planID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, continuationClaims{
		ServiceID: serviceID,
		PlanID:    planID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing continuation token: %w", err)
	}
	return signed, nil
}

// Resume decodes a continuation token back into the service and plan it
// names. Expired tokens simply fail; the user starts from the catalog.
func (v *Verifier) Resume(token string) (serviceID, planID string, err error) {
	var claims continuationClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, v.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", fmt.Errorf("parsing continuation token: %w", err)
	}
	if !parsed.Valid || claims.ServiceID == "" {
		return "", "", errors.New("continuation token carries no service")
	}
	return claims.ServiceID, claims.PlanID, nil
}

func (v *Verifier) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return v.secret, nil
}
