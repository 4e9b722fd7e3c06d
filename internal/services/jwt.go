package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const _TOKEN_TTL = 24 * time.Hour

// JWTService 审核员令牌，后台接口和 ws 首帧共用
type JWTService interface {
	GenerateToken(moderator string) (string, error)
	ValidateToken(tokenString string) (string, error)
}

type jWTServiceImpl struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewJWTService(key []byte, issuer string) JWTService {
	return &jWTServiceImpl{key: key, issuer: issuer, now: time.Now}
}

func (j *jWTServiceImpl) GenerateToken(moderator string) (string, error) {
	if len(j.key) == 0 {
		return "", errors.New("jwt key is not configured")
	}
	if moderator == "" {
		return "", errors.New("moderator is required")
	}
	now := j.now()
	claims := jwt.MapClaims{
		"iss":       j.issuer,
		"moderator": moderator,
		"exp":       now.Add(_TOKEN_TTL).Unix(),
		"iat":       now.Unix(),
	}

	token := jwt.New(jwt.SigningMethodHS256)
	token.Claims = claims
	return token.SignedString(j.key)
}

func (j *jWTServiceImpl) ValidateToken(tokenString string) (string, error) {
	// 忽略 "Bearer " 前缀
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("token parse failed: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if !claims.VerifyIssuer(j.issuer, true) {
		return "", fmt.Errorf("issuer validation failed")
	}
	if !claims.VerifyExpiresAt(j.now().Unix(), true) {
		return "", fmt.Errorf("token expired")
	}

	moderator, ok := claims["moderator"].(string)
	if !ok || moderator == "" {
		return "", errors.New("moderator claim missing or invalid type")
	}
	return moderator, nil
}
