package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// ListTokens godoc
// @Summary      List tracked tokens
// @Description  Returns symbol, name, and contract address for every tracked token
// @Tags         tokens
// @Produce      json
// @Success      200  {array}   map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/tokens [get]
func (h *Handler) ListTokens(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-tokens")
	defer span.End()

	tokens, err := h.charts.ListTokens(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, gin.H{
			"symbol":  tok.Symbol,
			"name":    tok.Name,
			"address": tok.Address,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GetTokenHistory godoc
// @Summary      Get raw price history for a token
// @Description  Returns token metadata and its stored hourly observations, newest first
// @Tags         tokens
// @Produce      json
// @Param        symbol  path   string  true   "Token symbol (e.g., WBTC)"
// @Param        limit   query  int     false  "Number of observations (default 100, max 1000)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/tokens/{symbol} [get]
func (h *Handler) GetTokenHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.token-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	limit := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	tok, obs, err := h.charts.GetTokenHistory(ctx, symbol, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":        tok,
		"observations": obs,
	})
}
