package platform

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway treats tokens about to expire as already expired, so a
// reconciliation pass never starts uploads with a token that dies
// mid-batch.
const expiryLeeway = 30 * time.Second

// TokenExpired reports whether a platform access token is past (or
// within leeway of) its exp claim. The signature is deliberately not
// verified: the server is authoritative and will reject a forged token;
// this check only avoids pointless round trips. Malformed tokens and
// tokens without exp count as expired.
func TokenExpired(token string) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().Add(expiryLeeway).After(exp.Time)
}
