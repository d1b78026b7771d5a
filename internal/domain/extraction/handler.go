package extraction

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthbench/healthbench/internal/platform/openai"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/extraction/structured", h.ExtractStructured)
	api.POST("/extraction/fhir", h.ExtractFHIR)
}

type extractRequest struct {
	Text      string `json:"text"`
	PatientID string `json:"patient_id"`
}

func (h *Handler) ExtractStructured(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.Extract(c.Request().Context(), req.Text)
	if err != nil {
		return extractionHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ExtractFHIR runs the same pipeline and returns the result mapped onto
// simplified FHIR R4 resources.
func (h *Handler) ExtractFHIR(c echo.Context) error {
	var req extractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.svc.Extract(c.Request().Context(), req.Text)
	if err != nil {
		return extractionHTTPError(err)
	}
	return c.JSON(http.StatusOK, ConvertToFHIR(result.StructuredClinicalData, req.PatientID))
}

func extractionHTTPError(err error) *echo.HTTPError {
	if errors.Is(err, ErrTextTooShort) {
		return echo.NewHTTPError(http.StatusBadRequest, ErrTextTooShort.Error())
	}
	if openai.Retryable(err) {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			fmt.Sprintf("extraction temporarily unavailable: %s", err.Error()))
	}
	if openai.KindOf(err) != "" {
		return echo.NewHTTPError(http.StatusBadGateway,
			fmt.Sprintf("extraction failed: %s", err.Error()))
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
