// Package secret assembles and signs the Sign in with Apple client secret:
// an ES256 JWT carrying iss/iat/exp/aud/sub claims and a kid header, in
// standard compact serialization.
package secret

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MaxValidity is the longest lifetime Apple accepts for a client secret.
const MaxValidity = 180 * 24 * time.Hour

// ErrSigning indicates the cryptographic signing operation failed, usually
// because the key does not match the ES256 algorithm.
var ErrSigning = errors.New("signing failed")

// Request carries the identifiers and timing for one secret generation.
type Request struct {
	TeamID   string // issuer ("iss")
	KeyID    string // header "kid"
	ClientID string // subject ("sub"), the Services ID
	Audience string // "aud", normally https://appleid.apple.com

	// IssuedAt is the "iat" instant; zero means time.Now().
	IssuedAt time.Time

	// Validity is the exp-iat span; zero means MaxValidity.
	Validity time.Duration
}

// Secret is a signed client secret with its timing.
type Secret struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// claims overrides the audience serialization: RegisteredClaims marshals
// "aud" as an array even with a single element, but Apple's token endpoint
// expects the scalar string form. The shallower field wins the "aud" tag.
type claims struct {
	jwt.RegisteredClaims
	Audience string `json:"aud"`
}

// Generate signs a client secret for req with the given EC P-256 key.
func Generate(req Request, key *ecdsa.PrivateKey) (*Secret, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrSigning)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: key uses curve %s, ES256 requires P-256",
			ErrSigning, key.Curve.Params().Name)
	}

	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)

	validity := req.Validity
	if validity == 0 {
		validity = MaxValidity
	}
	if validity < 0 || validity > MaxValidity {
		return nil, fmt.Errorf("validity %s outside the accepted range (0, %s]", validity, MaxValidity)
	}
	expiresAt := issuedAt.Add(validity)

	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    req.TeamID,
			Subject:   req.ClientID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Audience: req.Audience,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, cl)
	token.Header["kid"] = req.KeyID

	signed, err := token.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return &Secret{
		Token:     signed,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify parses and validates a signed client secret against the public key
// and the identifiers it was generated from. Used by the -verify flag and
// tests to confirm the secret round-trips.
func Verify(tokenStr string, pub *ecdsa.PublicKey, req Request) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{"ES256"}),
		jwt.WithIssuer(req.TeamID),
		jwt.WithAudience(req.Audience),
		jwt.WithSubject(req.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid client secret: %w", err)
	}

	kid, _ := token.Header["kid"].(string)
	if kid != req.KeyID {
		return nil, fmt.Errorf("invalid client secret: header kid %q, want %q", kid, req.KeyID)
	}

	return claims, nil
}
