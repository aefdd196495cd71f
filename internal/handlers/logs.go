package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kiln_control/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid  = "invalid 'from' time; use RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD"
	errToInvalid    = "invalid 'to' time; use RFC3339, 'YYYY-MM-DD HH:MM:SS' or YYYY-MM-DD"
	errRangeReverse = "'from' must be <= 'to'"
	errListLogs     = "failed to load logs"
)

// accepted query time layouts, tried in order
var queryLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly}

func parseQueryTime(s string) (t time.Time, dateOnly bool, err error) {
	for i, layout := range queryLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), i == len(queryLayouts)-1, nil
		}
	}
	return time.Time{}, false, err
}

// queryRange reads the optional from/to parameters. A date-only 'to' covers
// that whole day. The error text is safe to return to the client.
func queryRange(c *gin.Context) (from, to time.Time, err error) {
	if s := strings.TrimSpace(c.Query("from")); s != "" {
		if from, _, err = parseQueryTime(s); err != nil {
			return from, to, errors.New(errFromInvalid)
		}
	}
	if s := strings.TrimSpace(c.Query("to")); s != "" {
		var dateOnly bool
		if to, dateOnly, err = parseQueryTime(s); err != nil {
			return from, to, errors.New(errToInvalid)
		}
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return from, to, errors.New(errRangeReverse)
	}
	return from, to, nil
}

// @Summary      List logs
// @Description  Event log filtered by time (RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'), type and session. A date-only 'to' includes that whole day.
// @Tags         logs
// @Produce      json
// @Param        from        query  string  false  "Start of range"  example(2025-08-01)
// @Param        to          query  string  false  "End of range, inclusive"  example(2025-08-31)
// @Param        type        query  string  false  "Event type"  Enums(START,STOP,SCHEDULE_CHANGE,CALIBRATE,SENSOR_ERROR,SENSOR_FAULT,RECOVERED,COMPLETE,SAFETY_FAULT)
// @Param        session_id  query  string  false  "Only events of this firing session"
// @Success      200  {object}  map[string]interface{}  "count, events"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/logs [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	from, to, err := queryRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter := service.LogFilter{
		From:      from,
		To:        to,
		Type:      c.Query("type"),
		SessionID: strings.TrimSpace(c.Query("session_id")),
	}

	events, err := h.services.EventLog.List(c.Request.Context(), filter)
	if err != nil {
		h.commandError(c, errListLogs, "logs_list_failed", err, "from", from, "to", to, "type", filter.Type)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
}
