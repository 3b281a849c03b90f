package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vidtube/internal/domain/models"
)

var ErrInvalidToken = errors.New("invalid token")

// NewAccessToken creates a short-lived access JWT carrying the user's public
// identity claims. Validity is purely signature plus expiry.
func NewAccessToken(user *models.User, secret string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.MapClaims{
			"uid":      user.ID,
			"username": user.Username,
			"email":    user.Email,
			"exp":      time.Now().Add(ttl).Unix(),
		})
	return token.SignedString([]byte(secret))
}

// NewRefreshToken creates a long-lived refresh JWT carrying only the user ID.
// The stored copy on the account record is what makes it revocable. The jti
// claim keeps two tokens minted within the same second from being
// byte-identical, which the rotation equality check depends on.
func NewRefreshToken(user *models.User, secret string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(
		jwt.SigningMethodHS256,
		jwt.MapClaims{
			"uid": user.ID,
			"jti": uuid.NewString(),
			"exp": time.Now().Add(ttl).Unix(),
		})
	return token.SignedString([]byte(secret))
}

// ParseToken parses and validates a JWT token, returning the claims.
func ParseToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// UserID extracts the "uid" claim from a parsed claim set.
func UserID(claims jwt.MapClaims) (string, error) {
	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}
