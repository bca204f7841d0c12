// Package accesstoken issues the subscription access tokens handed to the
// WebApp after a successful payment.
package accesstoken

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "cargolink/pkg/domain-errors"
)

// DefaultIssuer is the iss claim.
const DefaultIssuer = "cargolink"

// Claims carried by a subscription token.
type Claims struct {
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 subscription tokens.
type Issuer struct {
	signingKey []byte
	issuer     string
}

// New creates an Issuer.
func New(signingKey string) *Issuer {
	return &Issuer{signingKey: []byte(signingKey), issuer: DefaultIssuer}
}

// Issue returns a token for userID valid until expiresAt. Every call yields
// a distinct token.
func (i *Issuer) Issue(userID int64, issuedAt, expiresAt time.Time) (string, error) {
	if len(i.signingKey) == 0 {
		return "", dErrors.New(dErrors.CodeInternal, "access token signing key is not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Plan: "active",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(i.signingKey)
}

// Validate parses a token and checks signature, issuer and expiry at now.
func (i *Issuer) Validate(tokenString string, now time.Time) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return i.signingKey, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "subscription token expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid subscription token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid subscription token")
	}
	return claims, nil
}

// UserID returns the subject as a Telegram user ID.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}
