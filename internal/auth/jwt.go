package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"callpanion-core/internal/domain"

	"github.com/golang-jwt/jwt/v4"
)

// Claims 身份由上游签发，这里只校验；sub 即用户 ID
type Claims struct {
	jwt.RegisteredClaims
}

// JWTVerifier HS256 Bearer token 校验
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

func NewJWTVerifier(signingKey, issuer string) *JWTVerifier {
	return &JWTVerifier{signingKey: []byte(signingKey), issuer: issuer}
}

// Verify 返回 token 中的用户 ID
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	if len(v.signingKey) == 0 {
		return "", errors.New("JWT signing key not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return "", fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// UserIDFromRequest 解析 Authorization: Bearer <jwt>；缺失或无效返回 Unauthenticated
func (v *JWTVerifier) UserIDFromRequest(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", domain.Unauthenticated("missing bearer token")
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", domain.Unauthenticated("malformed authorization header")
	}
	userID, err := v.Verify(strings.TrimSpace(token))
	if err != nil {
		return "", &domain.Error{Kind: domain.KindUnauthenticated, Message: "invalid bearer token", Err: err}
	}
	return userID, nil
}
