package webhook

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrChannelMismatch = errors.New("token issued for another channel")
)

// Claims описывает токен, которым канал подписывает доставки.
type Claims struct {
	Channel string `json:"channel"`
	jwt.RegisteredClaims
}

// TokenVerifier проверяет HS256-токены доставок.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier создаёт проверку для общего секрета канала.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Sign выпускает токен для канала. Используется нагрузочным тестом и в тестах.
func (v *TokenVerifier) Sign(channel string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Channel: channel,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify разбирает токен и проверяет, что он выпущен для channel.
func (v *TokenVerifier) Verify(tokenString, channel string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Channel != channel {
		return nil, ErrChannelMismatch
	}
	return claims, nil
}

// RequireChannelToken пропускает запрос только с валидным Bearer-токеном канала из пути.
func (h *Handler) RequireChannelToken(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimSpace(authHeader[len("Bearer "):])
		}
		if token == "" {
			h.metrics.RecordWebhook(resultUnauthorized)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		}

		if _, err := verifier.Verify(token, c.Param("channel")); err != nil {
			h.logger.WithError(err).WithField("channel", c.Param("channel")).Warn("webhook token rejected")
			h.metrics.RecordWebhook(resultUnauthorized)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}
