package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alexjbarnes/oauthd/internal/models"
)

func (h *handlers) listUsers(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	list, err := h.store.ListUsers(c.Request.Context(), p)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, envelope(list))
}

func (h *handlers) createUser(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	user, err := models.DecodeUser(raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	user.ID = ""

	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("user created", slog.String("user_id", user.ID))
	c.JSON(http.StatusCreated, user)
}

func (h *handlers) getUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *handlers) replaceUser(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	user, err := models.DecodeUser(raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveUser(c, user)
}

func (h *handlers) patchUser(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	current, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	doc, err := json.Marshal(current)
	if err != nil {
		writeError(c, h.logger, fmt.Errorf("encoding user: %w", err))
		return
	}

	merged, err := mergePatch(doc, raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	user, err := models.DecodeUser(merged)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveUser(c, user)
}

func (h *handlers) saveUser(c *gin.Context, user *models.User) {
	user.ID = c.Param("id")

	if err := h.store.ReplaceUser(c.Request.Context(), user); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("user updated", slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, user)
}

func (h *handlers) deleteUser(c *gin.Context) {
	user, err := h.store.DeleteUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("user deleted", slog.String("user_id", user.ID))
	c.JSON(http.StatusOK, user)
}
