package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"followsync/pkg/config"
	"followsync/pkg/logger"
)

const (
	headerRequestID = "X-Request-ID"
	accountIDKey    = "account_id"
	bearerPrefix    = "Bearer "
)

var (
	errMissingIdentity = errors.New("missing account identity")
	errInvalidToken    = errors.New("invalid token")
)

// RequestLogger stamps every request with an id, propagates it through the
// request context and logs the completed request.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(headerRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(headerRequestID, reqID)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), reqID))

		c.Next()

		l := log.WithContext(c.Request.Context())
		if id := accountID(c); id != "" {
			l = l.WithField("account_id", id)
		}
		logger.LogRequest(l, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Claims are the token claims the identity resolver reads
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// IdentityResolver turns a request into the caller's account id
type IdentityResolver struct {
	mode   string
	header string
	secret []byte
}

// NewIdentityResolver supports "header" (trusted proxy header) and "jwt"
// (HS256 bearer token) modes.
func NewIdentityResolver(cfg config.IdentityConfig) (*IdentityResolver, error) {
	switch cfg.Mode {
	case "header", "":
		header := cfg.Header
		if header == "" {
			header = "X-Account-ID"
		}
		return &IdentityResolver{mode: "header", header: header}, nil
	case "jwt":
		if cfg.JWTSecret == "" {
			return nil, errors.New("jwt secret is required in jwt mode")
		}
		return &IdentityResolver{mode: "jwt", secret: []byte(cfg.JWTSecret)}, nil
	default:
		return nil, errors.New("unknown identity mode " + cfg.Mode)
	}
}

// Resolve returns the account id of the request
func (r *IdentityResolver) Resolve(req *http.Request) (string, error) {
	if r.mode == "header" {
		id := strings.TrimSpace(req.Header.Get(r.header))
		if id == "" {
			return "", errMissingIdentity
		}
		return id, nil
	}

	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", errMissingIdentity
	}
	return r.parseToken(strings.TrimPrefix(auth, bearerPrefix))
}

func (r *IdentityResolver) parseToken(raw string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	return "", errInvalidToken
}

// Require aborts with 401 unless the request carries an identity
func (r *IdentityResolver) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := r.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Details: err.Error(),
				Message: "Sign in to sync your followers.",
			})
			return
		}
		c.Set(accountIDKey, id)
		c.Next()
	}
}

// accountID extracts the resolved account id from the gin context
func accountID(c *gin.Context) string {
	if id, ok := c.Get(accountIDKey); ok {
		return id.(string)
	}
	return ""
}
