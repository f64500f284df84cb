package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alexjbarnes/oauthd/internal/models"
	"github.com/alexjbarnes/oauthd/internal/state"
)

func (h *handlers) listClients(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	list, err := h.store.ListClients(c.Request.Context(), p)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, envelope(list))
}

func (h *handlers) createClient(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	client, err := models.DecodeClient(raw, h.policy.ClientDefaults())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	// Ids are assigned by the store.
	client.ID = ""

	if err := h.store.CreateClient(c.Request.Context(), client); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("client created", slog.String("client_id", client.ID), slog.String("type", string(client.Type)))
	c.JSON(http.StatusCreated, client)
}

func (h *handlers) getClient(c *gin.Context) {
	client, err := h.store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, client)
}

// replaceClient overwrites a client with the request body. Omitted fields
// take their creation defaults again.
func (h *handlers) replaceClient(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	client, err := models.DecodeClient(raw, h.policy.ClientDefaults())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveClient(c, client)
}

// patchClient merges the request body into the stored client.
func (h *handlers) patchClient(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	current, err := h.store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	doc, err := json.Marshal(current)
	if err != nil {
		writeError(c, h.logger, fmt.Errorf("encoding client: %w", err))
		return
	}

	merged, err := mergePatch(doc, raw)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	client, err := models.DecodeClient(merged, h.policy.ClientDefaults())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.saveClient(c, client)
}

func (h *handlers) saveClient(c *gin.Context, client *models.Client) {
	client.ID = c.Param("id")

	if err := h.store.ReplaceClient(c.Request.Context(), client); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("client updated", slog.String("client_id", client.ID))
	c.JSON(http.StatusOK, client)
}

func (h *handlers) deleteClient(c *gin.Context) {
	client, err := h.store.DeleteClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("client deleted", slog.String("client_id", client.ID))
	c.JSON(http.StatusOK, client)
}

// listClientTokens lists the tokens issued to one client.
func (h *handlers) listClientTokens(c *gin.Context) {
	p, err := parsePage(c)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	id := c.Param("id")
	if _, err := h.store.GetClient(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}

	list, err := h.store.ListTokens(c.Request.Context(), state.TokenFilter{ClientID: id}, p)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, envelope(list))
}
