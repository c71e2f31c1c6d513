package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"token-price-api/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetChartData godoc
// @Summary      Get resampled chart series for a token
// @Description  Returns five parallel series (open, close, high, low, priceUSD) of [timestamp, field, value] points over the trailing window, gap-filled by carrying the last close forward
// @Tags         charts
// @Produce      json
// @Param        symbol          path   string  true   "Token symbol (e.g., WBTC)"
// @Param        hours           query  int     false  "Trailing window in hours"  default(24)
// @Param        interval_hours  query  int     false  "Bucket width in hours; must divide hours evenly"  default(1)
// @Success      200  {array}   interface{}
// @Failure      404  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Router       /api/chart-data/{symbol} [get]
func (h *Handler) GetChartData(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.chart-data")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	hours, err := queryInt(c, "hours", 24)
	if err != nil {
		respondError(c, err)
		return
	}
	interval, err := queryInt(c, "interval_hours", 1)
	if err != nil {
		respondError(c, err)
		return
	}

	series, err := h.charts.GetChartData(ctx, symbol, hours, interval)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, series)
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidParameters, name)
	}
	return n, nil
}
