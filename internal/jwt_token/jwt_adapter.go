package jwttoken

import (
	"pushauth/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *Claims) *middleware.SessionClaims {
	out := &middleware.SessionClaims{
		SessionID: claims.SessionID,
		RequestID: claims.RequestID,
		Mobile:    claims.Mobile,
		Method:    claims.Method,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out
}

// JWTServiceAdapter lets the auth middleware validate session tokens without
// depending on jwt types.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.SessionClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
