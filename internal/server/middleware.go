package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/metrics"
)

const ctxClientID = "client_id"

// requestLogger logs one line per request. Health checks log at debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		level := slog.LevelInfo
		if c.Request.URL.Path == "/health" {
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		}
		if id := c.GetString(ctxClientID); id != "" {
			attrs = append(attrs, slog.String("client_id", id))
		}

		logger.LogAttrs(c.Request.Context(), level, "request", attrs...)
	}
}

// observe records request counts and latency by matched route.
func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

// storeTimeout bounds the request context, and so every store call made
// with it.
func storeTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// bearerAuth requires an unexpired access token holding scope.
func bearerAuth(auth Authorizer, scope string, logger *slog.Logger) gin.HandlerFunc {
	// RFC 6750 Section 3.1: no error attribute when no token was provided.
	const (
		wwwAuthNoToken = `Bearer realm="oauthd"`
		wwwAuthInvalid = `Bearer realm="oauthd", error="invalid_token"`
	)
	wwwAuthScope := `Bearer realm="oauthd", error="insufficient_scope", scope="` + scope + `"`

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.Header("WWW-Authenticate", wwwAuthNoToken)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Status:  http.StatusUnauthorized,
				Name:    "UnauthorizedError",
				Message: "bearer token required",
			})

			return
		}

		grant, err := auth.GetAccessToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.Debug("middleware: invalid bearer token",
				slog.String("ip", c.ClientIP()),
				slog.String("path", c.Request.URL.Path),
			)
			c.Header("WWW-Authenticate", wwwAuthInvalid)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Status:  http.StatusUnauthorized,
				Name:    "UnauthorizedError",
				Message: "invalid or expired token",
			})

			return
		}
		if err != nil {
			writeError(c, logger, err)
			return
		}

		if !auth.VerifyScope(grant, scope) {
			logger.Warn("middleware: insufficient scope",
				slog.String("client_id", grant.Client.ID),
				slog.String("path", c.Request.URL.Path),
			)
			c.Header("WWW-Authenticate", wwwAuthScope)
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Status:  http.StatusForbidden,
				Name:    "ForbiddenError",
				Message: "token lacks scope " + strconv.Quote(scope),
			})

			return
		}

		c.Set(ctxClientID, grant.Client.ID)
		c.Next()
	}
}
