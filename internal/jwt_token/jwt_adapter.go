package jwttoken

import (
	authmw "prism/pkg/platform/middleware/auth"
)

// ServiceAdapter bridges JWTService to the auth middleware's validator
// interface, narrowing our claims to the fields the middleware consumes.
type ServiceAdapter struct {
	service *JWTService
}

func NewServiceAdapter(service *JWTService) *ServiceAdapter {
	return &ServiceAdapter{service: service}
}

var _ authmw.JWTValidator = (*ServiceAdapter)(nil)

func (a *ServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &authmw.JWTClaims{
		UserID: claims.UserID,
		Scopes: claims.Scopes,
	}, nil
}
