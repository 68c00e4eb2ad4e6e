package emulator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublic(t *testing.T) {
	public := []string{
		`POST / HTTP/1.1` + "\r\n\r\n" + `<soap:Envelope><soap:Body><tds:GetCapabilities/></soap:Body></soap:Envelope>`,
		`<GetDeviceInformation/>`,
		`<tds:GetSystemDateAndTime xmlns:tds="x"/>`,
		`<m:GetServices IncludeCapability="false"/>`,
		"GET /snapshot.jpg HTTP/1.1\r\n\r\n",
	}
	for _, req := range public {
		assert.True(t, IsPublic(req), req)
	}

	protected := []string{
		`<trt:GetProfiles/>`,
		`<trt:GetStreamUri/>`,
		`<tds:SetSystemDateAndTime/>`,
		"GET / HTTP/1.1\r\n\r\n",
	}
	for _, req := range protected {
		assert.False(t, IsPublic(req), req)
	}
}

func TestDetectUnsupported(t *testing.T) {
	op, ok := DetectUnsupported(`<soap:Body><tptz:ContinuousMove/></soap:Body>`)
	assert.True(t, ok)
	assert.Equal(t, "ContinuousMove", op)

	op, ok = DetectUnsupported(`<soap:Body><SystemReboot/></soap:Body>`)
	assert.True(t, ok)
	assert.Equal(t, "SystemReboot", op)

	// GetNodes must win over its prefix GetNode.
	op, ok = DetectUnsupported(`<soap:Body><tptz:GetNodes/></soap:Body>`)
	assert.True(t, ok)
	assert.Equal(t, "GetNodes", op)

	_, ok = DetectUnsupported(`<soap:Body><trt:GetProfiles/></soap:Body>`)
	assert.False(t, ok)

	_, ok = DetectUnsupported(`GET / HTTP/1.1`)
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want EndpointClass
	}{
		{`<tds:GetCapabilities/>`, EndpointPublic},
		{`<trt:GetProfiles/>`, EndpointProtected},
		{`<trt:GetStreamUri/>`, EndpointProtected},
		{`<tptz:GotoPreset/>`, EndpointUnsupported},
		{"GET /nothing HTTP/1.1\r\n\r\n", EndpointUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(ParseRawRequest(tc.raw)), tc.raw)
	}
}

func TestFirstBodyElement(t *testing.T) {
	cases := []struct {
		request string
		want    string
	}{
		{`<s:Envelope><s:Body><tds:GetWeirdThing/></s:Body></s:Envelope>`, "GetWeirdThing"},
		{`<Envelope><Body><CustomOp attr="1">x</CustomOp></Body></Envelope>`, "CustomOp"},
		{`<s:Envelope><s:Body></s:Body></s:Envelope>`, ""},
		{`no xml here`, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, firstBodyElement(tc.request), tc.request)
	}
}

func TestSupportedActionOrdering(t *testing.T) {
	// A GetVideoSourceConfigurations request must not resolve to the
	// shorter GetVideoSources template.
	req := `<trt:GetVideoSourceConfigurations/>`
	var matched string
	for _, action := range supportedActions {
		if strings.Contains(req, action) {
			matched = action
			break
		}
	}
	assert.Equal(t, "GetVideoSourceConfigurations", matched)
}
