package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/gin-gonic/gin"

	apperrors "github.com/alexjbarnes/oauthd/internal/errors"
	"github.com/alexjbarnes/oauthd/internal/state"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var errRouteNotFound = fmt.Errorf("route: %w", apperrors.ErrNotFound)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Status  int               `json:"status"`
	Name    string            `json:"name"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// writeError maps err onto a status code and aborts the request. Store
// failures are logged and answered with a generic message.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	body := errorBody{Message: err.Error()}

	var verr *apperrors.ValidationError
	switch {
	case errors.As(err, &verr):
		body.Status, body.Name = http.StatusBadRequest, "ValidationError"
		body.Message = apperrors.ErrValidation.Error()
		body.Errors = verr.Fields
	case errors.Is(err, apperrors.ErrValidation):
		body.Status, body.Name = http.StatusBadRequest, "ValidationError"
	case errors.Is(err, apperrors.ErrNotFound):
		body.Status, body.Name = http.StatusNotFound, "NotFoundError"
	case errors.Is(err, apperrors.ErrConflict):
		body.Status, body.Name = http.StatusConflict, "ConflictError"
	case errors.Is(err, apperrors.ErrTimeout):
		body.Status, body.Name = http.StatusGatewayTimeout, "TimeoutError"
		body.Message = "store operation timed out"
	default:
		body.Status, body.Name = http.StatusInternalServerError, "StoreError"
		body.Message = "internal error"
	}

	if body.Status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", body.Status),
			slog.String("error", err.Error()),
		)
	}

	c.AbortWithStatusJSON(body.Status, body)
}

// readBody reads the request body up to maxBodyBytes.
func readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.NewValidationError("body", fmt.Sprintf("must not exceed %d bytes", maxBodyBytes))
		}

		return nil, apperrors.NewValidationError("body", "could not be read")
	}

	return raw, nil
}

// mergePatch applies an RFC 7386 merge patch to a JSON document.
func mergePatch(doc, patch []byte) ([]byte, error) {
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return nil, apperrors.NewValidationError("body", "must be a JSON merge patch object")
	}

	return merged, nil
}

// listEnvelope wraps a page of documents.
type listEnvelope[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Size  int `json:"size"`
	Limit int `json:"limit"`
	Skip  int `json:"skip"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
}

func envelope[T any](l state.List[T]) listEnvelope[T] {
	limit := l.Page.Limit

	return listEnvelope[T]{
		Data:  l.Items,
		Total: l.Total,
		Size:  len(l.Items),
		Limit: limit,
		Skip:  l.Page.Skip,
		Page:  l.Page.Skip/limit + 1,
		Pages: int(math.Ceil(float64(l.Total) / float64(limit))),
	}
}

// parsePage reads limit, skip and page from the query string. page is
// 1-based and wins over skip when both are set.
func parsePage(c *gin.Context) (state.Page, error) {
	verr := &apperrors.ValidationError{}

	intParam := func(name string, minimum int) int {
		raw, ok := c.GetQuery(name)
		if !ok || raw == "" {
			return 0
		}

		v, err := strconv.Atoi(raw)
		if err != nil || v < minimum {
			verr.Add(name, fmt.Sprintf("must be an integer >= %d", minimum))
			return 0
		}

		return v
	}

	p := state.Page{
		Limit: intParam("limit", 1),
		Skip:  intParam("skip", 0),
	}
	page := intParam("page", 1)

	if len(verr.Fields) > 0 {
		return state.Page{}, verr
	}

	p = p.Normalize()
	if page > 0 {
		// A page past the addressable range is simply empty.
		if page-1 > math.MaxInt/p.Limit {
			p.Skip = math.MaxInt
		} else {
			p.Skip = (page - 1) * p.Limit
		}
	}

	return p, nil
}
