package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// Role gates the control API. Observers may read status; operators may also
// issue commands.
type Role string

const (
	RoleObserver Role = "observer"
	RoleOperator Role = "operator"
)

type AuthService interface {
	GenerateToken(operator string, role Role) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Authorize(claims *Claims, required Role) error
}

type Claims struct {
	Operator string `json:"operator"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *authService) GenerateToken(operator string, role Role) (string, error) {
	if role == "" {
		role = RoleOperator
	}
	now := s.now()
	claims := &Claims{
		Operator: operator,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    "rillcast",
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Operator != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) Authorize(claims *Claims, required Role) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if roleLevel(claims.Role) < roleLevel(required) {
		return ErrUnauthorized
	}
	return nil
}

func roleLevel(r Role) int {
	switch r {
	case RoleObserver:
		return 1
	case RoleOperator:
		return 2
	default:
		return 0
	}
}
