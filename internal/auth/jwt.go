package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed bearer token and its expiry.
type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims represents JWT payload.
type Claims struct {
	Role  string `json:"role"`
	Admin bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 access token for actor.
func Issue(actor Actor, issuer, key string, ttl time.Duration, now time.Time) (AccessToken, error) {
	if key == "" {
		return AccessToken{}, errors.New("jwt signing key is empty")
	}
	exp := now.Add(ttl)
	claims := Claims{
		Role:  string(actor.Kind),
		Admin: actor.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns the actor it names. Expiry is checked
// against now, which should be the same clock the token was issued with; nil
// means the wall clock.
func Parse(tokenStr, key, issuer string, now func() time.Time) (Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Actor{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Actor{}, errors.New("invalid token")
	}
	kind, err := ParseKind(claims.Role)
	if err != nil {
		return Actor{}, err
	}
	if claims.Subject == "" {
		return Actor{}, errors.New("token has no subject")
	}
	return Actor{Kind: kind, ID: claims.Subject, Admin: kind == KindTeacher && claims.Admin}, nil
}
