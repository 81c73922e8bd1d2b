// Package auth validates bearer tokens from the websocket auth handshake.
package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkeye/Perch/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// JWTValidator implements core.TokenValidator against HMAC-signed tokens
// issued by the auth service.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) Validate(tokenStr string) (*domain.User, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(sub); err != nil {
		return nil, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	return &domain.User{ID: domain.UserID(sub), Username: name}, nil
}
