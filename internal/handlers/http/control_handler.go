package http

import (
	"context"
	"net/http"
	"time"

	"rillcast/internal/core/domain"
	"rillcast/internal/core/services"
	"rillcast/internal/infrastructure/middleware"
	"rillcast/pkg/errors"
	"rillcast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Controller is the command surface of the streaming pipeline.
type Controller interface {
	Status() domain.StatusSnapshot
	Devices() domain.DeviceList
	RefreshDevices(ctx context.Context) (domain.DeviceList, error)
	SelectDevice(ctx context.Context, kind domain.DeviceKind, deviceID string) error
	Start(ctx context.Context) error
	Stop()
}

// StatusFeed hands out snapshot subscriptions.
type StatusFeed interface {
	Subscribe(buffer int) (<-chan domain.StatusSnapshot, func())
}

type HandlerConfig struct {
	PlaybackURL  string
	AuthEnabled  bool
	PingInterval time.Duration
	WriteTimeout time.Duration
}

type ControlHandler struct {
	controller Controller
	feed       StatusFeed
	auth       services.AuthService
	cfg        HandlerConfig
	logger     *zap.SugaredLogger
}

func NewControlHandler(
	controller Controller,
	feed StatusFeed,
	auth services.AuthService,
	cfg HandlerConfig,
	logger *zap.SugaredLogger,
) *ControlHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &ControlHandler{
		controller: controller,
		feed:       feed,
		auth:       auth,
		cfg:        cfg,
		logger:     logger,
	}
}

func (h *ControlHandler) SetupRoutes(router *gin.Engine) {
	observe := middleware.OperatorAuth(h.auth, h.cfg.AuthEnabled, services.RoleObserver)
	operate := middleware.OperatorAuth(h.auth, h.cfg.AuthEnabled, services.RoleOperator)

	api := router.Group("/api/v1")
	{
		api.GET("/devices", observe, h.ListDevices)
		api.PUT("/devices/selection", operate, h.SelectDevice)
		api.POST("/stream/start", operate, h.StartStream)
		api.POST("/stream/stop", operate, h.StopStream)
		api.GET("/status", observe, h.GetStatus)
		api.GET("/status/ws", observe, h.StatusSocket)
		api.GET("/viewer", observe, h.Viewer)
	}
}

func (h *ControlHandler) ListDevices(c *gin.Context) {
	if c.Query("refresh") == "true" {
		list, err := h.controller.RefreshDevices(c.Request.Context())
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, list)
		return
	}
	c.JSON(http.StatusOK, h.controller.Devices())
}

type SelectDeviceRequest struct {
	Kind     string `json:"kind" binding:"required"`
	DeviceID string `json:"device_id"`
}

func (h *ControlHandler) SelectDevice(c *gin.Context) {
	var req SelectDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	kind := domain.DeviceKind(req.Kind)
	if kind != domain.KindVideoInput && kind != domain.KindAudioInput {
		c.Error(errors.NewInvalidInputError("kind must be videoinput or audioinput").WithContext("kind", req.Kind))
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
		return
	}

	if err := h.controller.SelectDevice(c.Request.Context(), kind, req.DeviceID); err != nil {
		c.Error(err)
		return
	}

	h.logger.Infow("device selected",
		"operator", middleware.Operator(c),
		"kind", kind,
		"device_id", req.DeviceID,
	)
	c.JSON(http.StatusOK, h.controller.Status())
}

func (h *ControlHandler) StartStream(c *gin.Context) {
	if err := h.controller.Start(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	h.logger.Infow("stream start requested", "operator", middleware.Operator(c))
	c.JSON(http.StatusAccepted, h.controller.Status())
}

func (h *ControlHandler) StopStream(c *gin.Context) {
	h.controller.Stop()
	h.logger.Infow("stream stop requested", "operator", middleware.Operator(c))
	c.JSON(http.StatusOK, h.controller.Status())
}

func (h *ControlHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

func (h *ControlHandler) Viewer(c *gin.Context) {
	if h.cfg.PlaybackURL == "" {
		c.Error(errors.NewNotFoundError("playback url"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"playback_url": h.cfg.PlaybackURL})
}
