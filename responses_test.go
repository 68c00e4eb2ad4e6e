package emulator

import (
	"fmt"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepository() *Repository {
	cfg := &Config{
		RTSPStreamURL: "rtsp://10.0.0.5:8554/cam",
		ONVIFPort:     "8080",
		DeviceName:    "Test Camera",
		ContainerIP:   "10.0.0.5",
	}
	return NewRepository(cfg, NewDeviceDescriptor(cfg))
}

func TestLookupCoversSupportedActions(t *testing.T) {
	repo := testRepository()
	for _, action := range supportedActions {
		body, ok := repo.Lookup(action)
		require.True(t, ok, action)
		assert.Contains(t, body, action+"Response", action)

		doc := etree.NewDocument()
		assert.NoError(t, doc.ReadFromString(body), "%s response must be well-formed", action)
	}

	_, ok := repo.Lookup("SystemReboot")
	assert.False(t, ok)
}

func TestCapabilitiesCarryAddresses(t *testing.T) {
	repo := testRepository()
	body, _ := repo.Lookup("GetCapabilities")
	assert.Contains(t, body, "http://10.0.0.5:8080/onvif/device_service")
	assert.Contains(t, body, "http://10.0.0.5:8080/onvif/media_service")
}

func TestStreamAndSnapshotURIs(t *testing.T) {
	repo := testRepository()

	body, _ := repo.Lookup("GetStreamUri")
	assert.Contains(t, body, "rtsp://10.0.0.5:8554/cam")

	body, _ = repo.Lookup("GetSnapshotUri")
	assert.Contains(t, body, "http://10.0.0.5:8080/snapshot.jpg")
}

func TestDeviceInformation(t *testing.T) {
	repo := testRepository()
	body, _ := repo.Lookup("GetDeviceInformation")
	assert.Contains(t, body, "<tds:Model>Test Camera</tds:Model>")
	assert.Contains(t, body, "<tds:SerialNumber>EMU-Test C</tds:SerialNumber>")
	assert.Contains(t, body, "ONVIF Media Solutions")
}

func TestSystemDateAndTimeIsCurrent(t *testing.T) {
	repo := testRepository()
	repo.now = func() time.Time {
		return time.Date(2026, time.August, 25, 14, 30, 9, 0, time.UTC)
	}
	body, _ := repo.Lookup("GetSystemDateAndTime")
	assert.Contains(t, body, "<tt:Year>2026</tt:Year>")
	assert.Contains(t, body, "<tt:Hour>14</tt:Hour>")
	assert.Contains(t, body, "<tt:Second>9</tt:Second>")
}

func TestFaultBodies(t *testing.T) {
	repo := testRepository()

	fault := repo.UnsupportedOperationFault("GotoPreset")
	assert.Contains(t, fault, "ter:ActionNotSupported")
	assert.Contains(t, fault, "GotoPreset")

	fault = repo.NotAuthorizedFault()
	assert.Contains(t, fault, "ter:NotAuthorized")
}

func TestAuthChallengesCarryFreshNonce(t *testing.T) {
	first := authChallenges()
	second := authChallenges()
	require.Len(t, first, 2)
	assert.Contains(t, first[0], "Basic realm=")
	assert.Contains(t, first[1], "Digest realm=")
	assert.NotEqual(t, first[1], second[1], "digest nonce must be fresh per challenge")
}

func TestDefaultResponse(t *testing.T) {
	assert.Equal(t, "ONVIF Camera\n", testRepository().Default())
}

func ExampleRepository_Lookup() {
	cfg := &Config{RTSPStreamURL: "rtsp://127.0.0.1:8554/stream", ONVIFPort: "8080", DeviceName: "Cam", ContainerIP: "127.0.0.1"}
	repo := NewRepository(cfg, NewDeviceDescriptor(cfg))
	_, ok := repo.Lookup("GetProfiles")
	fmt.Println(ok)
	// Output: true
}
