package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/state"
)

// listTokens lists tokens, optionally filtered by the client, user and
// type query parameters.
func (h *handlers) listTokens(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	f := state.TokenFilter{
		ClientID: c.Query("client"),
		UserID:   c.Query("user"),
	}
	if raw := c.Query("type"); raw != "" {
		candidate := models.Token{Type: models.TokenType(raw)}
		candidate.Normalize()
		if !slices.Contains(models.TokenTypes, candidate.Type) {
			writeError(c, h.logger, apperrors.NewValidationError("type", "must be one of: access, refresh, authorization_code"))
			return
		}
		f.Type = candidate.Type
	}

	list, err := h.store.ListTokens(c.Request.Context(), f, p)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, envelope(list))
}

func (h *handlers) createToken(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	token, err := models.DecodeToken(raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	token.ID = ""

	if err := h.defaultExpiry(c.Request.Context(), token); err != nil {
		writeError(c, h.logger, err)
		return
	}

	if err := h.store.CreateTokens(c.Request.Context(), token); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("token created",
		slog.String("token_id", token.ID),
		slog.String("type", string(token.Type)),
		slog.String("client_id", token.Client),
	)
	c.JSON(http.StatusCreated, token)
}

func (h *handlers) getToken(c *gin.Context) {
	token, err := h.store.GetToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, token)
}

func (h *handlers) replaceToken(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	token, err := models.DecodeToken(raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveToken(c, token)
}

func (h *handlers) patchToken(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	current, err := h.store.GetToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	doc, err := json.Marshal(current)
	if err != nil {
		writeError(c, h.logger, fmt.Errorf("encoding token: %w", err))
		return
	}

	merged, err := mergePatch(doc, raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	token, err := models.DecodeToken(merged)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveToken(c, token)
}

func (h *handlers) saveToken(c *gin.Context, token *models.Token) {
	token.ID = c.Param("id")

	if err := h.defaultExpiry(c.Request.Context(), token); err != nil {
		writeError(c, h.logger, err)
		return
	}

	if err := h.store.ReplaceToken(c.Request.Context(), token); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("token updated", slog.String("token_id", token.ID))
	c.JSON(http.StatusOK, token)
}

func (h *handlers) deleteToken(c *gin.Context) {
	token, err := h.store.DeleteToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("token deleted", slog.String("token_id", token.ID))
	c.JSON(http.StatusOK, token)
}

// defaultExpiry sets expiredAt from the lifetime policy when the body did
// not carry one. An unknown client is left for the store to reject.
func (h *handlers) defaultExpiry(ctx context.Context, t *models.Token) error {
	if !t.ExpiredAt.IsZero() {
		return nil
	}

	var client *models.Client
	if strings.TrimSpace(t.Client) != "" {
		var err error
		client, err = h.store.GetClient(ctx, t.Client)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}

	t.ExpiredAt = h.policy.ExpiresAt(t.Type, client, h.now()).UTC()

	return nil
}
