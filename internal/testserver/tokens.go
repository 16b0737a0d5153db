package testserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "tether-testserver"

// tokenIssuer signs HS256 access tokens. Every token carries the session id
// and the key generation it was issued under, so a session can be revoked
// and all outstanding tokens can be expired at once.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type accessClaims struct {
	Subject    string
	SessionID  string
	Generation int64
}

func (ti *tokenIssuer) issue(sub, sid string, gen int64) (string, error) {
	now := ti.now()
	claims := jwt.MapClaims{
		"sub": sub,
		"sid": sid,
		"gen": gen,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ti.ttl).Unix(),
		"iss": issuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
}

func (ti *tokenIssuer) parse(tokenStr string) (accessClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(ti.now), jwt.WithExpirationRequired())
	if err != nil {
		return accessClaims{}, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return accessClaims{}, errors.New("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	sid, _ := claims["sid"].(string)
	gen, _ := claims["gen"].(float64)
	if sub == "" || sid == "" {
		return accessClaims{}, errors.New("token has no subject or session")
	}
	return accessClaims{Subject: sub, SessionID: sid, Generation: int64(gen)}, nil
}
