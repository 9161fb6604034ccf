package utils

import (
	"errors" // Token errors
	"time"   // Time for token expiration

	"github.com/golang-jwt/jwt/v5" // JWT library
)

// Service token scopes
const (
	ScopeCron     = "cron"     // May trigger scheduled passes
	ScopeListener = "listener" // May push deposit events
)

// ErrScope is returned when a valid token lacks the required scope
var ErrScope = errors.New("token scope not allowed")

// ServiceClaims identify an internal caller such as the cron trigger or the
// chain event listener
type ServiceClaims struct {
	Scopes               []string `json:"scopes"` // Granted scopes
	jwt.RegisteredClaims          // Standard JWT claims, Subject names the service
}

// HasScope reports whether the claims grant scope
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// GenerateServiceToken creates a service token for subject with the given scopes
func GenerateServiceToken(subject string, scopes []string, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Scopes: scopes, // Granted scopes
		// Standard claims
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,                          // Calling service
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)), // Token expiry
			IssuedAt:  jwt.NewNumericDate(now),          // Issued at current time
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims) // Create token with claims
	return token.SignedString([]byte(secret))                  // Sign the token with the secret
}

// ParseServiceToken parses and validates a service token string
func ParseServiceToken(tokenStr, secret string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil // Return the secret key for validation
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	// Check for parsing errors
	if err != nil {
		return nil, err // Return error if parsing fails
	}
	// Validate token and extract claims
	if claims, ok := token.Claims.(*ServiceClaims); ok && token.Valid {
		return claims, nil // Return claims if valid
	}
	// Return error if token is invalid
	return nil, jwt.ErrSignatureInvalid
}
