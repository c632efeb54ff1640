package challenge

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errTokenExpired = errors.New("challenge token expired")
	errTokenInvalid = errors.New("challenge token invalid")
)

// tokenClaims carries the token id in jti and the owning identifier in sub.
type tokenClaims struct {
	jwt.RegisteredClaims
}

type tokenSigner struct {
	signingKey []byte
}

func newTokenSigner(signingKey []byte) *tokenSigner {
	return &tokenSigner{signingKey: signingKey}
}

// ceilSecond rounds t up to a whole second. The exp claim has second
// precision, so truncating would expire a token before its record.
func ceilSecond(t time.Time) time.Time {
	floor := t.Truncate(time.Second)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(time.Second)
}

func (s *tokenSigner) sign(tokenID, identifier string, issuedAt, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   identifier,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	return token.SignedString(s.signingKey)
}

// parse verifies the signature and expiry against now.
func (s *tokenSigner) parse(raw string, now time.Time) (*tokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errTokenExpired
		}
		return nil, errTokenInvalid
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, errTokenInvalid
	}
	return claims, nil
}
