package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// wireClaims is the on-the-wire JWT shape: standard registered claims plus
// the join-specific fields from JoinClaims.
type wireClaims struct {
	jwt.RegisteredClaims
	Type  ParticipantType `json:"type"`
	Space string          `json:"space,omitempty"`
}

// TokenManager issues and verifies JWT-shaped join tokens. It's one of two
// supported join-token forms (the other being an opaque bearer string
// looked up directly in the registry); a gateway configured with a
// TokenManager accepts both.
type TokenManager struct {
	keySet KeySet
	issuer string
}

// NewTokenManager builds a manager backed by ks, asserting iss as the
// token issuer.
func NewTokenManager(ks KeySet, issuer string) *TokenManager {
	return &TokenManager{keySet: ks, issuer: issuer}
}

// IssueToken creates a signed, time-bounded join token for claims.
func (tm *TokenManager) IssueToken(claims JoinClaims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        claims.ParticipantID,
			Subject:   claims.ParticipantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tm.issuer,
		},
		Type:  claims.Type,
		Space: claims.Space,
	}
	return tm.keySet.Sign(context.Background(), wire)
}

// VerifyToken parses and validates a join token, returning the claims it
// asserts.
func (tm *TokenManager) VerifyToken(tokenString string) (*JoinClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &wireClaims{}, tm.keySet.KeyFunc())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*wireClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	return &JoinClaims{
		ParticipantID: claims.Subject,
		Type:          claims.Type,
		Space:         claims.Space,
	}, nil
}
