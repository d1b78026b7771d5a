package summarize

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
	api.POST("/llm/summarize", h.SummarizeText)
	api.POST("/llm/documents/:id/summarize", h.SummarizeDocument)
}

type summarizeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

func (h *Handler) SummarizeText(c echo.Context) error {
	var req summarizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.SummarizeText(c.Request().Context(), req.Text, req.Model)
	if err != nil {
		return summarizeHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type summarizeDocumentRequest struct {
	Model string `json:"model"`
	Force bool   `json:"force"`
}

func (h *Handler) SummarizeDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req summarizeDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.SummarizeDocument(c.Request().Context(), id, req.Model, req.Force)
	if err != nil {
		return summarizeHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func summarizeHTTPError(err error) *echo.HTTPError {
	if errors.Is(err, ErrTextTooShort) {
		return echo.NewHTTPError(http.StatusBadRequest, ErrTextTooShort.Error())
	}
	if errors.Is(err, documents.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	if openai.Retryable(err) {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fmt.Sprintf("summarization temporarily unavailable: %s", err.Error()))
	}
	if openai.KindOf(err) != "" {
		return echo.NewHTTPError(http.StatusBadGateway,
			fmt.Sprintf("summarization failed: %s", err.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
