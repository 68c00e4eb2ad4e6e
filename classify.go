package emulator

import "strings"

// EndpointClass describes how the dispatcher must treat a request.
type EndpointClass int

const (
	EndpointUnknown EndpointClass = iota
	EndpointPublic
	EndpointProtected
	EndpointUnsupported
)

// publicActions are served without authentication so discovery tools
// can interrogate the device before credentials are configured.
var publicActions = []string{
	"GetCapabilities",
	"GetDeviceInformation",
	"GetServices",
	"GetSystemDateAndTime",
	"GetServiceCapabilities",
	"snapshot.jpg",
}

// supportedActions maps to response templates, checked in order. Longer
// names precede their prefixes so GetVideoSourceConfigurations never
// resolves as GetVideoSources.
var supportedActions = []string{
	"GetCapabilities",
	"GetServiceCapabilities",
	"GetServices",
	"GetSystemDateAndTime",
	"GetProfiles",
	"GetStreamUri",
	"GetSnapshotUri",
	"GetDeviceInformation",
	"GetVideoSourceConfigurations",
	"GetVideoEncoderConfigurations",
	"GetVideoSources",
	"GetAudioSourceConfigurations",
	"GetAudioEncoderConfigurations",
}

// unsupportedOperations is the registry of ONVIF operations the
// emulator recognizes but does not implement. Matched before the
// generic Body-element fallback so the fault names the real operation.
var unsupportedOperations = []string{
	"SetSystemDateAndTime", "SystemReboot", "SetSystemFactoryDefault",
	"GetSystemLog", "GetSystemSupportInformation",
	"GetScopes", "SetScopes", "AddScopes", "RemoveScopes",
	"GetDiscoveryMode", "SetDiscoveryMode",
	"GetNetworkInterfaces", "SetNetworkInterfaces",
	"GetNetworkProtocols", "SetNetworkProtocols", "GetNetworkDefaultGateway",
	"GetHostname", "SetHostname", "GetDNS", "SetDNS", "GetNTP", "SetNTP", "GetDynamicDNS",
	"GetUsers", "CreateUsers", "DeleteUsers", "SetUser",
	"GetWsdlUrl", "GetEndpointReference", "GetCertificates", "GetAccessPolicy",
	"CreatePullPointSubscription", "PullMessages", "Unsubscribe", "Renew", "GetEventProperties",
	"GetPresets", "SetPreset", "RemovePreset", "GotoPreset",
	"GotoHomePosition", "SetHomePosition",
	"ContinuousMove", "RelativeMove", "AbsoluteMove", "GetPTZStatus", "GetNodes", "GetNode",
	"GetImagingSettings", "SetImagingSettings", "GetMoveOptions",
	"SetVideoEncoderConfiguration", "SetVideoSourceConfiguration",
	"GetVideoEncoderConfigurationOptions", "GetCompatibleVideoEncoderConfigurations",
	"GetGuaranteedNumberOfVideoEncoderInstances",
	"SetAudioEncoderConfiguration", "GetAudioOutputs",
	"StartMulticastStreaming", "StopMulticastStreaming", "SetSynchronizationPoint",
	"GetOSDs", "GetOSDOptions", "SetOSD", "CreateOSD", "DeleteOSD",
}

// IsPublic reports whether the request names a public action. This is a
// plain substring scan over the whole request, not structural XML:
// clients vary namespace prefixes freely, and the bare name covers
// every <Name, :Name and prefixed form. Text that merely mentions a
// public action name is classified public; that trade is accepted.
func IsPublic(request string) bool {
	for _, name := range publicActions {
		if strings.Contains(request, name) {
			return true
		}
	}
	return false
}

// IsSOAP reports whether the request looks like a SOAP envelope.
func IsSOAP(request string) bool {
	return strings.Contains(request, "Envelope") && strings.Contains(request, "Body")
}

// DetectUnsupported returns the name of a registered
// recognized-but-unimplemented operation appearing in the request.
// Matching requires a :Name, <Name or space-Name form to cut down
// accidental substring hits.
func DetectUnsupported(request string) (string, bool) {
	for _, op := range unsupportedOperations {
		if strings.Contains(request, ":"+op) ||
			strings.Contains(request, "<"+op) ||
			strings.Contains(request, " "+op) {
			return op, true
		}
	}
	return "", false
}

// Classify buckets a request for the dispatcher. Everything that is not
// public requires authentication, including unknown operations.
func Classify(req *RawRequest) EndpointClass {
	if IsPublic(req.Raw) {
		return EndpointPublic
	}
	for _, action := range supportedActions {
		if strings.Contains(req.Raw, action) {
			return EndpointProtected
		}
	}
	if _, ok := DetectUnsupported(req.Raw); ok {
		return EndpointUnsupported
	}
	return EndpointUnknown
}

// firstBodyElement extracts the local name of the first element inside
// the SOAP Body. The result feeds fault diagnostics only, never
// dispatch decisions.
func firstBodyElement(request string) string {
	start := strings.Index(request, "Body>")
	if start < 0 {
		return ""
	}
	rest := request[start+len("Body>"):]
	open := strings.Index(rest, "<")
	if open < 0 {
		return ""
	}
	end := strings.Index(rest[open+1:], ">")
	if end < 0 {
		return ""
	}
	tag := rest[open+1 : open+1+end]
	if strings.HasPrefix(tag, "/") {
		return ""
	}
	tag = strings.TrimSuffix(tag, "/")
	if sp := strings.IndexAny(tag, " \t\r\n"); sp >= 0 {
		tag = tag[:sp]
	}
	if colon := strings.LastIndex(tag, ":"); colon >= 0 {
		tag = tag[colon+1:]
	}
	return tag
}
