package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyJWT checks an issuer-signed JWT, resolving the key from the "iss"
// claim and "kid" header, and returns its claims. Failures are categorized
// for the named plugin.
func VerifyJWT(ctx context.Context, plugin, token string, vctx Context) (jwt.MapClaims, error) {
	if vctx.Keys == nil {
		return nil, NewError(FailureKeyUnavailable, plugin, "issuer key lookup", ErrNoKeyResolver)
	}
	now := vctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, errors.New("token has no issuer")
		}
		return vctx.Keys.Resolve(ctx, iss, kid)
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, keyfunc,
		jwt.WithValidMethods(AllowedAlgorithms),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, NewError(FailureKeyUnavailable, plugin, "resolve issuer key", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, NewError(FailureMalformed, plugin, "malformed token", err)
	default:
		return nil, NewError(FailureSignature, plugin, "token rejected", err)
	}
}
