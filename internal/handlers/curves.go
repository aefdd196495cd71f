package handlers

import (
	"net/http"

	"kiln_control/internal/models"

	"github.com/gin-gonic/gin"
)

// @Summary      List firing curves
// @Tags         curves
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "count, curves"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/curves [get]
// @Security     BearerAuth
func (h *Handler) listCurves(c *gin.Context) {
	names, err := h.services.ListCurves(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to list curves", "curves_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(names), "curves": names})
}

// @Summary      Get a firing curve
// @Tags         curves
// @Produce      json
// @Param        name  path      string  true  "Curve name"
// @Success      200   {object}  models.Curve
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /api/v1/curves/{name} [get]
// @Security     BearerAuth
func (h *Handler) getCurve(c *gin.Context) {
	name := c.Param("name")
	curve, err := h.services.GetCurve(c.Request.Context(), name)
	if err != nil {
		h.commandError(c, "failed to load curve", "curves_get_failed", err, "curve", name)
		return
	}
	c.JSON(http.StatusOK, curve)
}

// @Summary      Create or replace a firing curve
// @Description  Points need non-decreasing times; two points at the same time form a step.
// @Tags         curves
// @Accept       json
// @Produce      json
// @Param        name  path      string        true  "Curve name"
// @Param        body  body      models.Curve  true  "Curve points"
// @Success      200   {object}  models.Curve
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/curves/{name} [put]
// @Security     BearerAuth
func (h *Handler) putCurve(c *gin.Context) {
	var req models.Curve
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	req.Name = c.Param("name")
	saved, err := h.services.SaveCurve(c.Request.Context(), req)
	if err != nil {
		h.commandError(c, "failed to save curve", "curves_save_failed", err, "curve", req.Name)
		return
	}
	if h.log != nil {
		h.log.Infow("curve_saved", "curve", saved.Name, "points", len(saved.Points))
	}
	c.JSON(http.StatusOK, saved)
}
