package rag

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthbench/healthbench/internal/domain/documents"
	"github.com/healthbench/healthbench/internal/platform/openai"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/rag/ask", h.Ask)
	api.POST("/rag/documents/:id/embed", h.EmbedDocument)
	api.POST("/rag/embed-all", h.EmbedAll)
	api.GET("/rag/stats", h.Stats)
}

type askRequest struct {
	Question      string   `json:"question"`
	TopK          int      `json:"top_k"`
	MinSimilarity *float64 `json:"min_similarity"`
	Model         string   `json:"model"`
}

func (h *Handler) Ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.AnswerQuestion(c.Request().Context(), req.Question, AskOptions{
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		Model:         req.Model,
	})
	if err != nil {
		if errors.Is(err, ErrEmptyQuestion) {
			return echo.NewHTTPError(http.StatusBadRequest, "question is required")
		}
		return providerHTTPError(err, "answer generation")
	}
	return c.JSON(http.StatusOK, result)
}

type embedRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) EmbedDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req embedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.EmbedDocument(c.Request().Context(), id, req.Force)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		if errors.Is(err, ErrEmptyContent) {
			return echo.NewHTTPError(http.StatusBadRequest, "document has no content to embed")
		}
		return providerHTTPError(err, "embedding")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) EmbedAll(c echo.Context) error {
	var req embedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.EmbedAll(c.Request().Context(), req.Force)
	if err != nil {
		return providerHTTPError(err, "bulk embedding")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// providerHTTPError maps provider failures onto HTTP statuses: transient
// upstream trouble is 503, permanent provider misbehavior is 502, anything
// else is 500.
func providerHTTPError(err error, stage string) *echo.HTTPError {
	if openai.Retryable(err) {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fmt.Sprintf("%s temporarily unavailable: %s", stage, err.Error()))
	}
	switch openai.KindOf(err) {
	case openai.KindAuth, openai.KindInvalidModel, openai.KindMalformedResponse, openai.KindDimensionMismatch, openai.KindAPI:
		return echo.NewHTTPError(http.StatusBadGateway,
			fmt.Sprintf("%s failed: %s", stage, err.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
