package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/infrastructure/auth"
	"github.com/marketsync/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Gin context keys and header names used by JWT authentication
const (
	JWTClaimsKey  = "jwt_claims"
	JWTUserIDKey  = "jwt_user_id"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier validates bearer tokens issued by the platform identity service.
type TokenVerifier interface {
	Verify(tokenString string) (*auth.Claims, error)
}

var _ TokenVerifier = (*auth.JWTVerifier)(nil)

// JWTMiddlewareConfig configures JWTAuthMiddlewareWithConfig.
type JWTMiddlewareConfig struct {
	Verifier TokenVerifier

	// SkipPaths match exactly; SkipPathPrefixes match by prefix.
	SkipPaths        []string
	SkipPathPrefixes []string

	// OnError replaces the default 401 envelope.
	OnError func(c *gin.Context, err error)
	Logger  *zap.Logger
}

// DefaultJWTConfig skips probes and the signature/state-authenticated
// marketplace callbacks.
func DefaultJWTConfig(verifier TokenVerifier) JWTMiddlewareConfig {
	return JWTMiddlewareConfig{
		Verifier:         verifier,
		SkipPaths:        []string{"/health", "/api/v1/health"},
		SkipPathPrefixes: []string{"/webhooks/", "/oauth/"},
	}
}

func JWTAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(DefaultJWTConfig(verifier))
}

// JWTAuthMiddlewareWithConfig resolves the calling user from a bearer token
// and stores it on the gin and request contexts.
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if isSkipped(c.Request.URL.Path, skip, cfg.SkipPathPrefixes) {
			c.Next()
			return
		}

		token, err := bearerToken(c.GetHeader(AuthHeaderKey))
		if err != nil {
			rejectAuth(c, cfg, err)
			return
		}
		claims, err := cfg.Verifier.Verify(token)
		if err != nil {
			rejectAuth(c, cfg, err)
			return
		}
		userID, err := claims.UserUUID()
		if err != nil {
			rejectAuth(c, cfg, auth.ErrMissingUserID)
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTUserIDKey, userID.String())

		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), userID.String()))

		c.Next()
	}
}

func isSkipped(path string, exact map[string]struct{}, prefixes []string) bool {
	if _, ok := exact[path]; ok {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, error) {
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return "", auth.ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(BearerPrefix):])
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

type authFailure struct {
	err     error
	status  int
	code    string
	message string
}

// authFailures is checked in order; the first match wins.
var authFailures = []authFailure{
	{auth.ErrMissingSecret, http.StatusInternalServerError, "ERR_INTERNAL", "Authentication is not configured"},
	{auth.ErrExpiredToken, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED", "Token has expired"},
	{auth.ErrTokenNotYetValid, http.StatusUnauthorized, "ERR_TOKEN_INVALID", "Token is not yet valid"},
	{auth.ErrMissingUserID, http.StatusUnauthorized, "ERR_TOKEN_INVALID", "Token has no user"},
	{auth.ErrInvalidClaims, http.StatusUnauthorized, "ERR_TOKEN_INVALID", "Invalid token"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "ERR_TOKEN_INVALID", "Invalid token"},
}

func classifyAuthError(err error) authFailure {
	for _, f := range authFailures {
		if errors.Is(err, f.err) {
			return f
		}
	}
	return authFailure{err: err, status: http.StatusUnauthorized, code: "ERR_UNAUTHORIZED", message: "Authentication required"}
}

func rejectAuth(c *gin.Context, cfg JWTMiddlewareConfig, err error) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
		return
	}

	f := classifyAuthError(err)
	if cfg.Logger != nil {
		lvl := zap.DebugLevel
		if f.status >= http.StatusInternalServerError {
			lvl = zap.ErrorLevel
		}
		cfg.Logger.Log(lvl, "JWT authentication failed",
			zap.Error(err),
			zap.String("code", f.code),
			zap.String("path", c.Request.URL.Path),
		)
	}

	c.AbortWithStatusJSON(f.status, gin.H{
		"success": false,
		"error":   gin.H{"code": f.code, "message": f.message},
	})
}

// GetJWTClaims returns the verified claims, or nil on unauthenticated routes.
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(JWTClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// GetJWTUserID returns the authenticated user id as a string.
func GetJWTUserID(c *gin.Context) string {
	return c.GetString(JWTUserIDKey)
}

// GetJWTUserUUID returns the authenticated user.
func GetJWTUserUUID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(GetJWTUserID(c))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
