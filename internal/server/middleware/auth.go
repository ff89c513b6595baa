// Package middleware holds the gin middlewares shared by every API route.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/domain/models"
)

const actorKey = "buildmart.actor"

// Claims are the bearer token claims issued by the auth provider.
type Claims struct {
	Role string `json:"user_role"`
	jwt.RegisteredClaims
}

// Guard is the part of the security monitor the middlewares report to.
type Guard interface {
	Allow(ctx context.Context, userID, ip, path string) (bool, time.Duration)
	RecordAuthFailure(ctx context.Context, ip, path, reason string)
	IsLockedOut(ip string) (bool, time.Duration)
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	guard  Guard
	logger *zap.Logger
}

// NewAuthenticator builds an Authenticator. guard may be nil.
func NewAuthenticator(cfg config.AuthConfig, guard Guard, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, guard: guard, logger: logger}
}

// ParseToken validates a raw token and returns the caller it identifies.
func (a *Authenticator) ParseToken(raw string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return models.Actor{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Actor{}, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return models.Actor{}, errors.New("token has no subject")
	}
	role := models.Role(claims.Role)
	if !role.Valid() {
		return models.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return models.Actor{UserID: claims.Subject, Role: role}, nil
}

// Authenticate rejects the request unless it carries a valid bearer token.
// Failures count towards the caller's lockout.
func (a *Authenticator) Authenticate(c *gin.Context) {
	actor, ok := a.Authorize(c, BearerToken(c.Request))
	if !ok {
		return
	}

	SetActor(c, actor)
	c.Next()
}

// Authorize checks raw for endpoints that take the token from somewhere
// other than the Authorization header. On failure the response is written,
// the failure is recorded and ok is false.
func (a *Authenticator) Authorize(c *gin.Context, raw string) (models.Actor, bool) {
	ip := c.ClientIP()
	if a.guard != nil {
		if locked, retry := a.guard.IsLockedOut(ip); locked {
			c.Header("Retry-After", retryAfter(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many failed sign-in attempts"})
			return models.Actor{}, false
		}
	}

	if raw == "" {
		a.reject(c, ip, "missing bearer token")
		return models.Actor{}, false
	}
	actor, err := a.ParseToken(raw)
	if err != nil {
		a.logger.Debug("token rejected", zap.Error(err), zap.String("client_ip", ip))
		a.reject(c, ip, err.Error())
		return models.Actor{}, false
	}
	return actor, true
}

func (a *Authenticator) reject(c *gin.Context, ip, reason string) {
	if a.guard != nil {
		a.guard.RecordAuthFailure(c.Request.Context(), ip, c.Request.URL.Path, reason)
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// SetActor stores the authenticated caller on the request context.
func SetActor(c *gin.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the caller set by Authenticate.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}

func retryAfter(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
