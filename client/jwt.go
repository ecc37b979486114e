package client

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// the store signs session tokens. the client never verifies them, it only
// reads the identity and expiry claims to drive re-login and display.
type SessionJwt struct {
	AccountId Id
	SessionId string
	ExpiresAt int64
}

func ParseSessionJwtUnverified(jwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}

	if accountIdStr, ok := claims["userId"]; ok {
		if accountId, err := ParseId(accountIdStr.(string)); err == nil {
			sessionJwt.AccountId = accountId
		}
	}
	if sessionId, ok := claims["sessionId"]; ok {
		sessionJwt.SessionId = sessionId.(string)
	}
	if exp, ok := claims["exp"]; ok {
		if expFloat, ok := exp.(float64); ok {
			sessionJwt.ExpiresAt = int64(expFloat)
		}
	}

	return sessionJwt, nil
}
