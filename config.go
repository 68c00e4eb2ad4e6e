// Package emulator implements an ONVIF network video device emulator.
// It answers ONVIF device-management and media requests over SOAP/HTTP,
// announces itself on the WS-Discovery multicast group, and serves
// snapshots from a single backing RTSP stream.
package emulator

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// Credentials is the single username/password pair accepted by the
// authentication engine. Immutable for the process lifetime.
type Credentials struct {
	Username string
	Password string
}

// Config carries the runtime configuration of the emulator. Every field
// has a flag and an environment-variable fallback on the CLI side.
type Config struct {
	// RTSPStreamURL is the stream handed out by GetStreamUri and fed to
	// ffmpeg for snapshots.
	RTSPStreamURL string

	// ONVIFPort is the TCP port of the SOAP/HTTP service. Kept as a
	// string because it travels verbatim into XAddr URLs.
	ONVIFPort string

	// DeviceName is reported as the model and friendly name.
	DeviceName string

	Username string
	Password string

	// ContainerIP is the address advertised in XAddrs and used to pick
	// the multicast interface.
	ContainerIP string

	WSDiscoveryEnabled bool

	// StatusPort serves the diagnostics HTTP endpoint; 0 disables it.
	StatusPort int

	// Debug enables verbose request dumps. The dumps include credential
	// material, so this is not for production use.
	Debug bool
}

// Validate checks the fields a misconfigured deployment most often gets
// wrong. It does not probe the network.
func (c *Config) Validate() error {
	if _, err := strconv.ParseUint(c.ONVIFPort, 10, 16); err != nil {
		return errors.Errorf("ONVIF port %q is not a valid port number", c.ONVIFPort)
	}
	if c.ContainerIP == "" {
		return errors.New("container IP cannot be empty")
	}
	if net.ParseIP(c.ContainerIP) == nil {
		return errors.Errorf("container IP %q is not a valid IP address", c.ContainerIP)
	}
	if !strings.HasPrefix(c.RTSPStreamURL, "rtsp://") {
		return errors.Errorf("RTSP stream URL must start with rtsp://, got %q", c.RTSPStreamURL)
	}
	return nil
}

// Credentials returns the configured authentication pair.
func (c *Config) Credentials() Credentials {
	return Credentials{Username: c.Username, Password: c.Password}
}

// LogSummary writes the effective configuration at startup. The
// password is never included.
func (c *Config) LogSummary(log zerolog.Logger) {
	log.Info().
		Str("rtsp_stream", c.RTSPStreamURL).
		Str("onvif_port", c.ONVIFPort).
		Str("device_name", c.DeviceName).
		Str("username", c.Username).
		Str("container_ip", c.ContainerIP).
		Bool("ws_discovery", c.WSDiscoveryEnabled).
		Bool("debug", c.Debug).
		Msg("configuration loaded")
	if c.Debug {
		log.Warn().Msg("debug mode logs raw requests including credentials, do not use in production")
	}
}

// DeviceDescriptor is the read-only identity the emulator advertises
// over WS-Discovery and reports via GetDeviceInformation.
type DeviceDescriptor struct {
	// EndpointReference is a stable urn:uuid identity for this process.
	EndpointReference string

	// Types, Scopes and XAddrs are the WS-Discovery announcement
	// fields, space separated where multi-valued.
	Types  string
	Scopes string
	XAddrs string

	Manufacturer    string
	Model           string
	FriendlyName    string
	FirmwareVersion string
	SerialNumber    string
	HardwareID      string
}

// NewDeviceDescriptor derives the advertised identity from the
// configuration. The endpoint reference is freshly generated, so a
// restarted emulator appears as a new device.
func NewDeviceDescriptor(cfg *Config) DeviceDescriptor {
	serial := cfg.DeviceName
	if len(serial) > 6 {
		serial = serial[:6]
	}
	return DeviceDescriptor{
		EndpointReference: "urn:uuid:" + uuid.Must(uuid.NewV4()).String(),
		Types:             "tdn:NetworkVideoTransmitter",
		Scopes: strings.Join([]string{
			"onvif://www.onvif.org/type/video_encoder",
			"onvif://www.onvif.org/Profile/Streaming",
			"onvif://www.onvif.org/name/" + strings.ReplaceAll(cfg.DeviceName, " ", "_"),
			"onvif://www.onvif.org/hardware/" + hardwareID,
		}, " "),
		XAddrs:          fmt.Sprintf("http://%s:%s/onvif/device_service", cfg.ContainerIP, cfg.ONVIFPort),
		Manufacturer:    "ONVIF Media Solutions",
		Model:           cfg.DeviceName,
		FriendlyName:    cfg.DeviceName,
		FirmwareVersion: "1.0.0",
		SerialNumber:    "EMU-" + serial,
		HardwareID:      hardwareID,
	}
}

const hardwareID = "onvif-emulator"
