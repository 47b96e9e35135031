// Package apitoken issues the signed credentials used by token-driver
// guards. Unlike the opaque bearer secrets, these are self-contained and
// verified without a storage round trip.
package apitoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidAPIToken = errors.New("invalid api token")

// Claims carries the account and guard a credential was issued for, on top
// of the registered claim set.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"accountId"`
	Guard     string `json:"guard"`
}

// Issue signs an HS256 credential for accountID under the named guard,
// valid for ttl.
func Issue(accountID, guard string, secret []byte, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		AccountID: accountID,
		Guard:     guard,
	})

	return token.SignedString(secret)
}

// Parse verifies a credential and returns the account and guard it was
// issued for.
func Parse(tokenString string, secret []byte) (accountID, guard string, err error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", "", err
	}

	if !token.Valid {
		return "", "", ErrInvalidAPIToken
	}

	return claims.AccountID, claims.Guard, nil
}
