// Package server exposes the admin REST API for clients, tokens and users
// on a gin engine.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexjbarnes/oauthd/internal/lifetime"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/provider"
	"github.com/alexjbarnes/oauthd/internal/state"
)

// Store is the persistence behind the REST resources.
type Store interface {
	Ping(ctx context.Context) error

	CreateClient(ctx context.Context, c *models.Client) error
	GetClient(ctx context.Context, id string) (*models.Client, error)
	ListClients(ctx context.Context, p state.Page) (state.List[models.Client], error)
	ReplaceClient(ctx context.Context, c *models.Client) error
	DeleteClient(ctx context.Context, id string) (*models.Client, error)

	CreateTokens(ctx context.Context, tokens ...*models.Token) error
	GetToken(ctx context.Context, id string) (*models.Token, error)
	ListTokens(ctx context.Context, f state.TokenFilter, p state.Page) (state.List[models.Token], error)
	ReplaceToken(ctx context.Context, t *models.Token) error
	DeleteToken(ctx context.Context, id string) (*models.Token, error)

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, p state.Page) (state.List[models.User], error)
	ReplaceUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) (*models.User, error)
}

// Authorizer validates bearer tokens for the admin API.
type Authorizer interface {
	GetAccessToken(ctx context.Context, value string) (*provider.Grant, error)
	VerifyScope(token *provider.Grant, required string) bool
}

// Config holds dependencies for building the router.
type Config struct {
	Store    Store
	Policy   lifetime.Policy
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	// BasePath prefixes every resource, e.g. "/v1".
	BasePath string

	// StoreTimeout bounds the store calls made by one request.
	StoreTimeout time.Duration

	// When RequireAuth is set, resource routes need a bearer access token
	// granted AdminScope.
	RequireAuth bool
	AdminScope  string
	Auth        Authorizer

	Now func() time.Time
}

// NewRouter builds the gin engine with health, metrics and the versioned
// resource routes.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(cfg.Logger))
	r.Use(observe(cfg.Metrics))

	r.NoRoute(func(c *gin.Context) {
		writeError(c, cfg.Logger, errRouteNotFound)
	})

	h := &handlers{
		store:  cfg.Store,
		policy: cfg.Policy,
		logger: cfg.Logger,
		now:    cfg.Now,
	}

	r.GET("/health", storeTimeout(cfg.StoreTimeout), h.health)

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group(cfg.BasePath)
	if cfg.RequireAuth {
		api.Use(bearerAuth(cfg.Auth, cfg.AdminScope, cfg.Logger))
	}
	api.Use(storeTimeout(cfg.StoreTimeout))

	clients := api.Group("/clients")
	{
		clients.GET("", h.listClients)
		clients.POST("", h.createClient)

		n := clients.Group("/:id")
		{
			n.GET("", h.getClient)
			n.PUT("", h.replaceClient)
			n.PATCH("", h.patchClient)
			n.DELETE("", h.deleteClient)
			n.GET("/tokens", h.listClientTokens)
		}
	}

	tokens := api.Group("/tokens")
	{
		tokens.GET("", h.listTokens)
		tokens.POST("", h.createToken)

		n := tokens.Group("/:id")
		{
			n.GET("", h.getToken)
			n.PUT("", h.replaceToken)
			n.PATCH("", h.patchToken)
			n.DELETE("", h.deleteToken)
		}
	}

	users := api.Group("/users")
	{
		users.GET("", h.listUsers)
		users.POST("", h.createUser)

		n := users.Group("/:id")
		{
			n.GET("", h.getUser)
			n.PUT("", h.replaceUser)
			n.PATCH("", h.patchUser)
			n.DELETE("", h.deleteUser)
		}
	}

	return r
}

// handlers implements the resource endpoints.
type handlers struct {
	store  Store
	policy lifetime.Policy
	logger *slog.Logger
	now    func() time.Time
}

func (h *handlers) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
