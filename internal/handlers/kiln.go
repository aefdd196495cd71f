package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kiln_control/internal/schedule"
	"kiln_control/internal/service"
	"kiln_control/internal/supervisor"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK              = "ok"
	statusStartQueued     = "start_queued"
	statusStopQueued      = "stop_queued"
	statusCalibrateQueued = "calibrate_queued"
	statusScheduleQueued  = "schedule_queued"

	errStartKiln       = "failed to start firing"
	errStopKiln        = "failed to stop firing"
	errCalibrate       = "failed to calibrate"
	errSetSchedule     = "failed to change schedule"
	errGetState        = "failed to load state"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// httpStatus maps service and loop errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCurveNotFound):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrNoSession), errors.Is(err, supervisor.ErrSafetyLatched):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// commandError answers a failed command. Client errors carry the cause,
// server errors only userMsg.
func (h *Handler) commandError(c *gin.Context, userMsg, logKey string, err error, kv ...interface{}) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.logAndJSONError(c, code, userMsg, logKey, err, kv...)
		return
	}
	if h.log != nil {
		h.log.Infow(logKey, append([]interface{}{"err", err}, kv...)...)
	}
	c.JSON(code, gin.H{"error": userMsg + ": " + err.Error()})
}

// Respond with a status and include current state if available (best-effort).
// Commands run on the next loop tick, so the state may not reflect them yet.
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string, extra gin.H) {
	ctx := c.Request.Context()
	if h.log != nil {
		uid, _ := getUserID(c)
		h.log.Infow("kiln_command_accepted", "status", status, "user_id", uid)
	}
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	st, err := h.services.Monitoring.GetState(ctx)
	if err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusAccepted, resp)
}

// StartRequest selects the firing curve. Both fields are optional.
type StartRequest struct {
	// Curve name; the configured default when empty
	Curve string `json:"curve,omitempty" example:"Bisquit"`
	// Skip this much of the curve: HH:MM[:SS] or a Go duration such as 90m
	ResumeOffset string `json:"resume_offset,omitempty" example:"01:30"`
}

// CalibrateRequest carries a reference IR reading taken by the operator.
type CalibrateRequest struct {
	IRC *float64 `json:"ir_c" binding:"required" example:"861.5"`
}

// ScheduleRequest names the curve that replaces the running one.
type ScheduleRequest struct {
	Curve string `json:"curve" binding:"required" example:"Glazing"`
}

func parseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := schedule.ParseClock(s); err == nil {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid resume_offset %q; use HH:MM[:SS] or a duration like 90m", s)
	}
	return d, nil
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Start firing
// @Description  Queues a firing session on a curve. Starting while a session runs replaces it.
// @Tags         kiln
// @Accept       json
// @Produce      json
// @Param        body  body      StartRequest  false  "Curve and resume offset"
// @Success      202   {object}  map[string]interface{}  "status, session_id, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/kiln/start [post]
// @Security     BearerAuth
func (h *Handler) startKiln(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
			return
		}
	}
	offset, err := parseOffset(req.ResumeOffset)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.services.Kiln.Start(c.Request.Context(), service.StartParams{Curve: req.Curve, ResumeOffset: offset})
	if err != nil {
		h.commandError(c, errStartKiln, "kiln_start_failed", err, "curve", req.Curve)
		return
	}
	h.respondWithStatusAndState(c, statusStartQueued, gin.H{"session_id": id})
}

// @Summary      Stop firing
// @Tags         kiln
// @Produce      json
// @Success      202  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/kiln/stop [post]
// @Security     BearerAuth
func (h *Handler) stopKiln(c *gin.Context) {
	if err := h.services.Kiln.Stop(c.Request.Context()); err != nil {
		h.commandError(c, errStopKiln, "kiln_stop_failed", err)
		return
	}
	h.respondWithStatusAndState(c, statusStopQueued, gin.H{})
}

// @Summary      Calibrate IR sensor
// @Description  Sets the IR offset from a reference reading against the current thermocouple value.
// @Tags         kiln
// @Accept       json
// @Produce      json
// @Param        body  body      CalibrateRequest  true  "Reference IR reading"
// @Success      202   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/kiln/calibrate [post]
// @Security     BearerAuth
func (h *Handler) calibrateIR(c *gin.Context) {
	var req CalibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Kiln.CalibrateIR(c.Request.Context(), *req.IRC); err != nil {
		h.commandError(c, errCalibrate, "kiln_calibrate_failed", err, "ir_c", *req.IRC)
		return
	}
	h.respondWithStatusAndState(c, statusCalibrateQueued, gin.H{"ir_c": *req.IRC})
}

// @Summary      Replace firing curve
// @Description  Swaps the curve of the running session; elapsed time restarts from zero.
// @Tags         kiln
// @Accept       json
// @Produce      json
// @Param        body  body      ScheduleRequest  true  "Curve name"
// @Success      202   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/kiln/schedule [post]
// @Security     BearerAuth
func (h *Handler) setSchedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Kiln.SetSchedule(c.Request.Context(), req.Curve); err != nil {
		h.commandError(c, errSetSchedule, "kiln_set_schedule_failed", err, "curve", req.Curve)
		return
	}
	h.respondWithStatusAndState(c, statusScheduleQueued, gin.H{"curve": req.Curve})
}

// @Summary      Get kiln state
// @Tags         kiln
// @Produce      json
// @Success      200  {object}  models.KilnState
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/kiln/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.services.Monitoring.GetState(ctx)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "kiln_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}
