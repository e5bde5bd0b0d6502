// Package auth resolves the calling user from bearer tokens issued by the
// identity service.
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const callerKey = "caller"

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for userID.
func NewToken(secret string, userID int64, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		Sub:  strconv.FormatInt(userID, 10),
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseCaller validates tokenStr and returns the caller it names.
func ParseCaller(secret, tokenStr string) (models.Caller, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Caller{}, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return models.Caller{}, errors.New("invalid token")
	}

	id, err := strconv.ParseInt(c.Sub, 10, 64)
	if err != nil || id <= 0 {
		return models.Caller{}, errors.New("invalid subject")
	}
	role := strings.ToUpper(c.Role)
	if role == "" {
		role = models.RoleUser
	}
	if role == models.RoleSystem {
		return models.Caller{}, errors.New("system role cannot be issued to users")
	}
	return models.Caller{UserID: id, Role: role}, nil
}

// JWT requires a valid bearer token and stores the caller in the context.
// Failures are attached to the context for the error renderer.
func JWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			_ = c.Error(apperror.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}

		caller, err := ParseCaller(secret, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			_ = c.Error(apperror.Unauthorized("invalid token"))
			c.Abort()
			return
		}

		SetCaller(c, caller)
		c.Next()
	}
}

// CallerFrom returns the caller stored by JWT.
func CallerFrom(c *gin.Context) (models.Caller, bool) {
	v, ok := c.Get(callerKey)
	if !ok {
		return models.Caller{}, false
	}
	caller, ok := v.(models.Caller)
	return caller, ok
}

// SetCaller stores caller in the context.
func SetCaller(c *gin.Context, caller models.Caller) {
	c.Set(callerKey, caller)
}

// RequireRole lets only the given roles through.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		caller, _ := CallerFrom(c)
		if _, ok := allowed[caller.Role]; !ok {
			_ = c.Error(apperror.AccessDenied("role %s is not allowed", caller.Role))
			c.Abort()
			return
		}
		c.Next()
	}
}
