package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthContextKey = "key_id"

	// maxAuthBody bounds how much of a request body is read looking for auth_key.
	maxAuthBody = 64 << 10
)

var jwtSecret string

// Claims represents JWT claims
type Claims struct {
	KeyID   string `json:"key_id"`
	Comment string `json:"comment,omitempty"`
	jwt.RegisteredClaims
}

// SetJWTSecret sets the JWT secret for the middleware. An empty secret
// disables bearer tokens.
func SetJWTSecret(secret string) {
	jwtSecret = secret
}

// KeyValidator checks access keys
type KeyValidator interface {
	Validate(key string) (string, error)
	ValidateID(id string) error
}

// KeyAuth accepts a bearer JWT, an X-API-Key header or an auth_key field in
// the JSON body, in that order.
func KeyAuth(validator KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyID, ok := bearerKeyID(c, validator); ok {
			c.Set(AuthContextKey, keyID)
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = bodyKey(c)
		}
		if key != "" {
			if keyID, err := validator.Validate(key); err == nil {
				c.Set(AuthContextKey, keyID)
				c.Next()
				return
			}
		}

		c.String(http.StatusForbidden, "Invalid auth_key!")
		c.Abort()
	}
}

func bearerKeyID(c *gin.Context, validator KeyValidator) (string, bool) {
	if jwtSecret == "" {
		return "", false
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}

	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.KeyID == "" {
		return "", false
	}
	if validator.ValidateID(claims.KeyID) != nil {
		return "", false
	}
	return claims.KeyID, true
}

// bodyKey reads auth_key from a JSON body and restores the body for handlers.
func bodyKey(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAuthBody))
	c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		AuthKey string `json:"auth_key"`
	}
	if json.Unmarshal(data, &payload) != nil {
		return ""
	}
	return payload.AuthKey
}

// GenerateToken generates a JWT token for a key
func GenerateToken(keyID, comment string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		KeyID:   keyID,
		Comment: comment,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   keyID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// GetKeyID retrieves the authenticated key id from the context
func GetKeyID(c *gin.Context) (string, bool) {
	keyID, exists := c.Get(AuthContextKey)
	if !exists {
		return "", false
	}

	keyIDStr, ok := keyID.(string)
	return keyIDStr, ok
}
