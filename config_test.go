package emulator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		RTSPStreamURL: "rtsp://10.0.0.5:8554/cam",
		ONVIFPort:     "8080",
		DeviceName:    "Test Camera",
		Username:      "admin",
		Password:      "s3cret",
		ContainerIP:   "10.0.0.5",
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	bad := validConfig()
	bad.ONVIFPort = "notaport"
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.ONVIFPort = "70000"
	assert.Error(t, bad.Validate(), "port must fit in 16 bits")

	bad = validConfig()
	bad.ContainerIP = ""
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.ContainerIP = "not.an.ip.addr"
	assert.Error(t, bad.Validate())

	bad = validConfig()
	bad.RTSPStreamURL = "http://10.0.0.5/stream"
	assert.Error(t, bad.Validate())
}

func TestConfigCredentials(t *testing.T) {
	creds := validConfig().Credentials()
	assert.Equal(t, "admin", creds.Username)
	assert.Equal(t, "s3cret", creds.Password)
}

func TestNewDeviceDescriptor(t *testing.T) {
	device := NewDeviceDescriptor(validConfig())

	assert.True(t, strings.HasPrefix(device.EndpointReference, "urn:uuid:"))
	assert.Equal(t, "http://10.0.0.5:8080/onvif/device_service", device.XAddrs)
	assert.Equal(t, "tdn:NetworkVideoTransmitter", device.Types)
	assert.Contains(t, device.Scopes, "onvif://www.onvif.org/name/Test_Camera")
	assert.Contains(t, device.Scopes, "onvif://www.onvif.org/Profile/Streaming")
	assert.Equal(t, "Test Camera", device.Model)
	assert.Equal(t, "EMU-Test C", device.SerialNumber)

	// Each process run is a distinct device identity.
	other := NewDeviceDescriptor(validConfig())
	require.NotEqual(t, device.EndpointReference, other.EndpointReference)
}

func TestShortDeviceNameSerial(t *testing.T) {
	cfg := validConfig()
	cfg.DeviceName = "Cam"
	device := NewDeviceDescriptor(cfg)
	assert.Equal(t, "EMU-Cam", device.SerialNumber)
}
