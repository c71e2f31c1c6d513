package handler

import (
	"errors"
	"net/http"

	"token-price-api/internal/domain"
	"token-price-api/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer trace.Tracer
	charts *service.ChartService
	apiKey string
}

func New(tracer trace.Tracer, charts *service.ChartService, apiKey string) *Handler {
	return &Handler{
		tracer: tracer,
		charts: charts,
		apiKey: apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api", APIKeyAuth(h.apiKey))
	api.GET("/tokens", h.ListTokens)
	api.GET("/tokens/:symbol", h.GetTokenHistory)
	api.GET("/chart-data/:symbol", h.GetChartData)
}

// respondError maps domain sentinels onto HTTP statuses. Anything the
// taxonomy does not name is a server fault.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidParameters):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
