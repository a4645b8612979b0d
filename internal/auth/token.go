// Package auth verifies the identity tokens issued by the campus identity
// provider. Issuing real tokens is the provider's job; Sign exists for tests
// and local tooling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
)

const leeway = 30 * time.Second

type Claims struct {
	Campus string `json:"campus,omitempty"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier checks HS256 tokens signed with secret. An empty issuer
// accepts any iss claim.
func NewVerifier(secret []byte, issuer string) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Verifier{secret: secret, issuer: issuer}, nil
}

// Verify parses tokenString and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid token", err)
	}
	if !token.Valid || claims.Subject == "" {
		return models.Identity{}, apperrors.Unauthenticated("invalid token")
	}

	return models.Identity{
		UserID:      claims.Subject,
		Campus:      claims.Campus,
		DisplayName: claims.Name,
		AvatarURL:   claims.Avatar,
	}, nil
}

// Sign issues a token for id that expires after ttl.
func (v *Verifier) Sign(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Campus: id.Campus,
		Name:   id.DisplayName,
		Avatar: id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}
