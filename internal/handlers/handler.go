package handlers

import (
	"net/http"

	"kiln_control/internal/logger"
	"kiln_control/internal/service"
	"kiln_control/internal/telemetry"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
	metrics  http.Handler
	bus      *telemetry.Bus
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// WithMetrics serves m on /metrics.
func (h *Handler) WithMetrics(m http.Handler) *Handler {
	h.metrics = m
	return h
}

// WithBus lets WebSocket clients receive loop events as they happen.
func (h *Handler) WithBus(bus *telemetry.Bus) *Handler {
	h.bus = bus
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", h.health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerKilnRoutes(api)
		h.registerCurveRoutes(api)
		h.registerLogRoutes(api)
		api.GET("/samples", h.getSamples)
	}
}

func (h *Handler) registerKilnRoutes(api *gin.RouterGroup) {
	kiln := api.Group("/kiln")
	{
		// Body example: {"curve":"Bisquit","resume_offset":"01:30"}
		kiln.POST("/start", h.startKiln)
		kiln.POST("/stop", h.stopKiln)
		kiln.POST("/calibrate", h.calibrateIR)
		kiln.POST("/schedule", h.setSchedule)
		kiln.GET("/state", h.getState)
	}
}

func (h *Handler) registerCurveRoutes(api *gin.RouterGroup) {
	curves := api.Group("/curves")
	{
		curves.GET("", h.listCurves)
		curves.GET("/:name", h.getCurve)
		curves.PUT("/:name", h.putCurve)
	}
}

func (h *Handler) registerLogRoutes(api *gin.RouterGroup) {
	logs := api.Group("/logs")
	{
		logs.GET("/", h.getLogs)
	}
}
