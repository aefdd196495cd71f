package handlers

import (
	"net/http"
	"strconv"

	"kiln_control/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      Firing data log
// @Description  Periodic temperature/setpoint/duty samples in time order.
// @Tags         logs
// @Produce      json
// @Param        session_id  query     string  false  "Session id"
// @Param        from        query     string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"
// @Param        to          query     string  false  "End of range; date-only treated as end of day"
// @Param        limit       query     int     false  "Max rows (default 1000, max 10000)"
// @Success      200         {object}  map[string]interface{}  "count, samples"
// @Failure      400         {object}  map[string]string
// @Failure      401         {object}  map[string]string
// @Router       /api/v1/samples [get]
// @Security     BearerAuth
func (h *Handler) getSamples(c *gin.Context) {
	from, to, err := queryRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit'; use a non-negative integer"})
			return
		}
		limit = v
	}

	samples, err := h.services.ListSamples(c.Request.Context(), service.SampleFilter{
		SessionID: c.Query("session_id"),
		From:      from,
		To:        to,
		Limit:     limit,
	})
	if err != nil {
		h.commandError(c, "failed to load samples", "samples_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(samples),
		"samples": samples,
	})
}
