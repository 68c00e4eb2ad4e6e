// Command onvif-emulator presents a single RTSP stream as an ONVIF
// network video device: SOAP/HTTP device management, WS-Discovery
// announcements and ffmpeg-backed snapshots.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	emulator "github.com/use-go/onvif-emulator"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &emulator.Config{}
	cmd := &cobra.Command{
		Use:           "onvif-emulator",
		Short:         "Present an RTSP stream as an ONVIF network video device",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.RTSPStreamURL, "rtsp-stream-url", "r",
		envOr("RTSP_STREAM_URL", "rtsp://127.0.0.1:8554/stream"), "RTSP stream the device exposes")
	flags.StringVarP(&cfg.ONVIFPort, "onvif-port", "P",
		envOr("ONVIF_PORT", "8080"), "port for the ONVIF service")
	flags.StringVarP(&cfg.DeviceName, "device-name", "n",
		envOr("DEVICE_NAME", "ONVIF-Emulated-Camera"), "device name for ONVIF identification")
	flags.StringVarP(&cfg.Username, "onvif-username", "u",
		envOr("ONVIF_USERNAME", "admin"), "username for ONVIF authentication")
	flags.StringVarP(&cfg.Password, "onvif-password", "p",
		envOr("ONVIF_PASSWORD", "onvif-password"), "password for ONVIF authentication")
	flags.StringVarP(&cfg.ContainerIP, "container-ip", "i",
		envOr("CONTAINER_IP", "127.0.0.1"), "IP address advertised to clients")
	flags.BoolVarP(&cfg.WSDiscoveryEnabled, "ws-discovery-enabled", "w",
		envBool("WS_DISCOVERY_ENABLED"), "enable WS-Discovery announcements")
	flags.IntVar(&cfg.StatusPort, "status-port",
		envInt("STATUS_PORT", 0), "port for the diagnostics HTTP endpoint, 0 disables")
	flags.BoolVarP(&cfg.Debug, "debug", "d", false,
		"verbose request logging (logs sensitive information, not for production)")
	return cmd
}

func run(cfg *emulator.Config) error {
	log := emulator.NewLogger(cfg.Debug)
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.LogSummary(log)

	status := emulator.NewServiceStatus()
	coord := emulator.NewCoordinator(status, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("signal received, requesting shutdown")
		status.RequestShutdown()
	}()

	device := emulator.NewDeviceDescriptor(cfg)
	repo := emulator.NewRepository(cfg, device)
	auth := emulator.NewAuthenticator(cfg.Credentials(), log)
	server := emulator.NewServer(cfg, auth, repo, emulator.NewFFmpegCapturer(log), status, log)
	coord.Go("onvif-service", server.Run)

	if cfg.WSDiscoveryEnabled {
		coord.Go("ws-discovery", func() error {
			return runDiscovery(device, cfg.ContainerIP, status, log)
		})
	} else {
		log.Info().Msg("WS-Discovery disabled")
	}

	if cfg.StatusPort > 0 {
		api := emulator.NewStatusAPI(cfg.StatusPort, status, device, log)
		coord.Go("status-api", api.Run)
		coord.OnShutdown(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			api.Shutdown(ctx)
		})
	}

	coord.Go("heartbeat", emulator.Heartbeat(status, log, 30*time.Second))

	return coord.Wait()
}

// runDiscovery keeps the discovery engine alive through transient
// socket failures, with a bounded number of restarts.
func runDiscovery(device emulator.DeviceDescriptor, interfaceIP string, status *emulator.ServiceStatus, log zerolog.Logger) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts && !status.ShutdownRequested(); attempt++ {
		if attempt > 1 {
			time.Sleep(2 * time.Second)
		}
		srv, err := emulator.NewDiscoveryServer(device, interfaceIP, status, log)
		if err != nil {
			lastErr = err
			log.Error().Err(err).Int("attempt", attempt).Msg("failed to start WS-Discovery")
			continue
		}
		err = srv.Run()
		srv.Stop()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Error().Err(err).Int("attempt", attempt).Msg("WS-Discovery loop failed")
	}
	return lastErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "TRUE"
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
