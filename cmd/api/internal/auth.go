package internal

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "breakoutscan-api"

type JWTManager struct {
	secretKey []byte
	ttl       time.Duration
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewJWTManager(secretKey string, ttl time.Duration) (*JWTManager, error) {
	if secretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not set")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{secretKey: []byte(secretKey), ttl: ttl}, nil
}

func (jm *JWTManager) GenerateToken(userID string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(jm.ttl)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jm.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expires, nil
}

func (jm *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jm.secretKey, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// Credentials is the single API user allowed to request tokens.
type Credentials struct {
	User     string
	Password string
}

// Match compares in constant time. Empty credentials never match.
func (c Credentials) Match(user, password string) bool {
	if c.User == "" || c.Password == "" {
		return false
	}
	u := subtle.ConstantTimeCompare([]byte(c.User), []byte(user))
	p := subtle.ConstantTimeCompare([]byte(c.Password), []byte(password))
	return u&p == 1
}
