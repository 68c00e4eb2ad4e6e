package emulator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// StatusAPI exposes liveness and component health over HTTP on a side
// port, for container orchestration and debugging. It is supervised
// like the other workers and drained via Shutdown.
type StatusAPI struct {
	status *ServiceStatus
	device DeviceDescriptor
	engine *gin.Engine
	srv    *http.Server
	log    zerolog.Logger
}

func NewStatusAPI(port int, status *ServiceStatus, device DeviceDescriptor, log zerolog.Logger) *StatusAPI {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := &StatusAPI{
		status: status,
		device: device,
		engine: engine,
		log:    log.With().Str("component", "status-api").Logger(),
	}
	engine.GET("/healthz", api.healthz)
	engine.GET("/status", api.getStatus)
	api.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: engine}
	return api
}

func (a *StatusAPI) healthz(c *gin.Context) {
	if a.status.ONVIFHealthy() {
		c.String(http.StatusOK, "ok")
		return
	}
	c.String(http.StatusServiceUnavailable, "unhealthy")
}

func (a *StatusAPI) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"onvif_service_healthy": a.status.ONVIFHealthy(),
		"ws_discovery_healthy":  a.status.DiscoveryHealthy(),
		"shutdown_requested":    a.status.ShutdownRequested(),
		"last_error":            a.status.LastError(),
		"device": gin.H{
			"friendly_name":      a.device.FriendlyName,
			"model":              a.device.Model,
			"firmware_version":   a.device.FirmwareVersion,
			"endpoint_reference": a.device.EndpointReference,
			"xaddrs":             a.device.XAddrs,
		},
	})
}

// Run serves until Shutdown is called.
func (a *StatusAPI) Run() error {
	a.log.Info().Str("addr", a.srv.Addr).Msg("status API listening")
	if err := a.srv.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Annotate(err, "status API server")
	}
	return nil
}

func (a *StatusAPI) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
