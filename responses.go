package emulator

import (
	"fmt"
	"time"

	"github.com/elgs/gostrgen"
)

const (
	deviceServiceNS = "http://www.onvif.org/ver10/device/wsdl"
	mediaServiceNS  = "http://www.onvif.org/ver10/media/wsdl"
	schemaNS        = "http://www.onvif.org/ver10/schema"
)

// Repository renders the SOAP response bodies for the supported ONVIF
// operations. Templates carry the device identity and stream addresses
// from configuration; everything else is fixed emulator behavior.
type Repository struct {
	cfg    *Config
	device DeviceDescriptor
	now    func() time.Time
}

func NewRepository(cfg *Config, device DeviceDescriptor) *Repository {
	return &Repository{cfg: cfg, device: device, now: time.Now}
}

// Lookup returns the response body for a supported action name.
func (r *Repository) Lookup(action string) (string, bool) {
	switch action {
	case "GetCapabilities":
		return r.capabilities(), true
	case "GetServices":
		return r.services(), true
	case "GetServiceCapabilities":
		return r.serviceCapabilities(), true
	case "GetSystemDateAndTime":
		return r.systemDateAndTime(), true
	case "GetProfiles":
		return r.profiles(), true
	case "GetStreamUri":
		return r.streamURI(), true
	case "GetSnapshotUri":
		return r.snapshotURI(), true
	case "GetDeviceInformation":
		return r.deviceInformation(), true
	case "GetVideoSources":
		return r.videoSources(), true
	case "GetVideoSourceConfigurations":
		return r.videoSourceConfigurations(), true
	case "GetVideoEncoderConfigurations":
		return r.videoEncoderConfigurations(), true
	case "GetAudioSourceConfigurations":
		return r.audioSourceConfigurations(), true
	case "GetAudioEncoderConfigurations":
		return r.audioEncoderConfigurations(), true
	}
	return "", false
}

// Default is the body for anything that is neither ONVIF nor a known
// path. Some health checkers poke the port with bare GETs and expect a
// cheap 200.
func (r *Repository) Default() string {
	return "ONVIF Camera\n"
}

// NotAuthorizedFault accompanies every 401 on a SOAP-shaped request.
// It never says which part of the credentials failed.
func (r *Repository) NotAuthorizedFault() string {
	return soapFault("ter:NotAuthorized",
		"The action requested requires authorization and the sender is not authorized", "")
}

// UnsupportedOperationFault names a recognized operation this device
// does not implement.
func (r *Repository) UnsupportedOperationFault(operation string) string {
	return soapFault("ter:ActionNotSupported",
		fmt.Sprintf("The requested ONVIF operation '%s' is not supported by this device", operation),
		"This device implements the core device management and media retrieval operations only")
}

// authChallenges returns the WWW-Authenticate headers for a 401. The
// Digest nonce is freshly generated per challenge.
func authChallenges() []string {
	nonce, err := gostrgen.RandGen(32, gostrgen.LowerDigit, "", "")
	if err != nil {
		nonce = "dcd98b7102dd2f0e8b11d0f600bfb0c0"
	}
	return []string{
		`WWW-Authenticate: Basic realm="ONVIF Camera"`,
		fmt.Sprintf(`WWW-Authenticate: Digest realm="ONVIF Camera", nonce="%s", qop="auth"`, nonce),
	}
}

func soapBody(inner string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="%s">
<soap:Body>
%s
</soap:Body>
</soap:Envelope>`, soapEnvelopeNS, inner)
}

func (r *Repository) deviceXAddr() string {
	return fmt.Sprintf("http://%s:%s/onvif/device_service", r.cfg.ContainerIP, r.cfg.ONVIFPort)
}

func (r *Repository) mediaXAddr() string {
	return fmt.Sprintf("http://%s:%s/onvif/media_service", r.cfg.ContainerIP, r.cfg.ONVIFPort)
}

func (r *Repository) capabilities() string {
	return soapBody(fmt.Sprintf(`<tds:GetCapabilitiesResponse xmlns:tds="%s">
<tds:Capabilities>
<tt:Device xmlns:tt="%s">
<tt:XAddr>%s</tt:XAddr>
<tt:Network>
<tt:IPFilter>false</tt:IPFilter>
<tt:ZeroConfiguration>false</tt:ZeroConfiguration>
<tt:IPVersion6>false</tt:IPVersion6>
<tt:DynDNS>false</tt:DynDNS>
</tt:Network>
<tt:System>
<tt:DiscoveryResolve>false</tt:DiscoveryResolve>
<tt:DiscoveryBye>false</tt:DiscoveryBye>
<tt:RemoteDiscovery>false</tt:RemoteDiscovery>
<tt:SystemBackup>false</tt:SystemBackup>
<tt:SystemLogging>false</tt:SystemLogging>
<tt:FirmwareUpgrade>false</tt:FirmwareUpgrade>
<tt:SupportedVersions>
<tt:Major>2</tt:Major>
<tt:Minor>60</tt:Minor>
</tt:SupportedVersions>
</tt:System>
<tt:IO>
<tt:InputConnectors>0</tt:InputConnectors>
<tt:RelayOutputs>0</tt:RelayOutputs>
</tt:IO>
<tt:Security>
<tt:TLS1.1>false</tt:TLS1.1>
<tt:TLS1.2>false</tt:TLS1.2>
<tt:OnboardKeyGeneration>false</tt:OnboardKeyGeneration>
<tt:AccessPolicyConfig>false</tt:AccessPolicyConfig>
<tt:X.509Token>false</tt:X.509Token>
<tt:SAMLToken>false</tt:SAMLToken>
<tt:KerberosToken>false</tt:KerberosToken>
<tt:RELToken>false</tt:RELToken>
</tt:Security>
</tt:Device>
<tt:Media xmlns:tt="%s">
<tt:XAddr>%s</tt:XAddr>
<tt:StreamingCapabilities>
<tt:RTPMulticast>false</tt:RTPMulticast>
<tt:RTP_TCP>true</tt:RTP_TCP>
<tt:RTP_RTSP_TCP>true</tt:RTP_RTSP_TCP>
</tt:StreamingCapabilities>
</tt:Media>
</tds:Capabilities>
</tds:GetCapabilitiesResponse>`,
		deviceServiceNS, schemaNS, r.deviceXAddr(), schemaNS, r.mediaXAddr()))
}

func (r *Repository) services() string {
	return soapBody(fmt.Sprintf(`<tds:GetServicesResponse xmlns:tds="%s" xmlns:tt="%s">
<tds:Service>
<tds:Namespace>%s</tds:Namespace>
<tds:XAddr>%s</tds:XAddr>
<tds:Version><tt:Major>2</tt:Major><tt:Minor>60</tt:Minor></tds:Version>
</tds:Service>
<tds:Service>
<tds:Namespace>%s</tds:Namespace>
<tds:XAddr>%s</tds:XAddr>
<tds:Version><tt:Major>2</tt:Major><tt:Minor>60</tt:Minor></tds:Version>
</tds:Service>
</tds:GetServicesResponse>`,
		deviceServiceNS, schemaNS,
		deviceServiceNS, r.deviceXAddr(),
		mediaServiceNS, r.mediaXAddr()))
}

func (r *Repository) serviceCapabilities() string {
	return soapBody(fmt.Sprintf(`<trt:GetServiceCapabilitiesResponse xmlns:trt="%s">
<trt:Capabilities>
<tt:ProfileCapabilities xmlns:tt="%s">
<tt:MaximumNumberOfProfiles>2</tt:MaximumNumberOfProfiles>
</tt:ProfileCapabilities>
<tt:StreamingCapabilities xmlns:tt="%s">
<tt:RTPMulticast>false</tt:RTPMulticast>
<tt:RTP_TCP>true</tt:RTP_TCP>
<tt:RTP_RTSP_TCP>true</tt:RTP_RTSP_TCP>
</tt:StreamingCapabilities>
</trt:Capabilities>
</trt:GetServiceCapabilitiesResponse>`, mediaServiceNS, schemaNS, schemaNS))
}

func (r *Repository) systemDateAndTime() string {
	now := r.now().UTC()
	return soapBody(fmt.Sprintf(`<tds:GetSystemDateAndTimeResponse xmlns:tds="%s" xmlns:tt="%s">
<tds:SystemDateAndTime>
<tt:DateTimeType>NTP</tt:DateTimeType>
<tt:DaylightSavings>false</tt:DaylightSavings>
<tt:TimeZone><tt:TZ>UTC</tt:TZ></tt:TimeZone>
<tt:UTCDateTime>
<tt:Time><tt:Hour>%d</tt:Hour><tt:Minute>%d</tt:Minute><tt:Second>%d</tt:Second></tt:Time>
<tt:Date><tt:Year>%d</tt:Year><tt:Month>%d</tt:Month><tt:Day>%d</tt:Day></tt:Date>
</tt:UTCDateTime>
</tds:SystemDateAndTime>
</tds:GetSystemDateAndTimeResponse>`,
		deviceServiceNS, schemaNS,
		now.Hour(), now.Minute(), now.Second(),
		now.Year(), int(now.Month()), now.Day()))
}

const videoSourceConfigFragment = `<tt:Name>VideoSourceConfig</tt:Name>
<tt:UseCount>1</tt:UseCount>
<tt:SourceToken>VideoSource_1</tt:SourceToken>
<tt:Bounds x="0" y="0" width="1920" height="1080"/>`

const videoEncoderConfigFragment = `<tt:Name>VideoEncoderConfig</tt:Name>
<tt:UseCount>1</tt:UseCount>
<tt:Encoding>H264</tt:Encoding>
<tt:Resolution>
<tt:Width>1920</tt:Width>
<tt:Height>1080</tt:Height>
</tt:Resolution>
<tt:Quality>5</tt:Quality>
<tt:RateControl>
<tt:FrameRateLimit>30</tt:FrameRateLimit>
<tt:EncodingInterval>1</tt:EncodingInterval>
<tt:BitrateLimit>8000</tt:BitrateLimit>
</tt:RateControl>
<tt:H264>
<tt:GovLength>30</tt:GovLength>
<tt:H264Profile>Main</tt:H264Profile>
</tt:H264>
<tt:Multicast>
<tt:Address>
<tt:Type>IPv4</tt:Type>
<tt:IPv4Address>0.0.0.0</tt:IPv4Address>
</tt:Address>
<tt:Port>0</tt:Port>
<tt:TTL>1</tt:TTL>
<tt:AutoStart>false</tt:AutoStart>
</tt:Multicast>
<tt:SessionTimeout>PT60S</tt:SessionTimeout>`

const audioSourceConfigFragment = `<tt:Name>AudioSourceConfig</tt:Name>
<tt:UseCount>1</tt:UseCount>
<tt:SourceToken>AudioSource_1</tt:SourceToken>`

const audioEncoderConfigFragment = `<tt:Name>AudioEncoderConfig</tt:Name>
<tt:UseCount>1</tt:UseCount>
<tt:Encoding>AAC</tt:Encoding>
<tt:Bitrate>64000</tt:Bitrate>
<tt:SampleRate>48000</tt:SampleRate>
<tt:Multicast>
<tt:Address>
<tt:Type>IPv4</tt:Type>
<tt:IPv4Address>0.0.0.0</tt:IPv4Address>
</tt:Address>
<tt:Port>0</tt:Port>
<tt:TTL>1</tt:TTL>
<tt:AutoStart>false</tt:AutoStart>
</tt:Multicast>
<tt:SessionTimeout>PT60S</tt:SessionTimeout>`

func (r *Repository) profiles() string {
	return soapBody(fmt.Sprintf(`<trt:GetProfilesResponse xmlns:trt="%s">
<trt:Profiles token="MainProfile" fixed="true">
<tt:Name xmlns:tt="%s">MainProfile</tt:Name>
<tt:VideoSourceConfiguration xmlns:tt="%s" token="VideoSourceConfig">
%s
</tt:VideoSourceConfiguration>
<tt:VideoEncoderConfiguration xmlns:tt="%s" token="VideoEncoderConfig">
%s
</tt:VideoEncoderConfiguration>
<tt:AudioSourceConfiguration xmlns:tt="%s" token="AudioSourceConfig">
%s
</tt:AudioSourceConfiguration>
<tt:AudioEncoderConfiguration xmlns:tt="%s" token="AudioEncoderConfig">
%s
</tt:AudioEncoderConfiguration>
</trt:Profiles>
</trt:GetProfilesResponse>`,
		mediaServiceNS,
		schemaNS,
		schemaNS, videoSourceConfigFragment,
		schemaNS, videoEncoderConfigFragment,
		schemaNS, audioSourceConfigFragment,
		schemaNS, audioEncoderConfigFragment))
}

func (r *Repository) streamURI() string {
	return soapBody(fmt.Sprintf(`<trt:GetStreamUriResponse xmlns:trt="%s">
<trt:MediaUri>
<tt:Uri xmlns:tt="%s">%s</tt:Uri>
</trt:MediaUri>
</trt:GetStreamUriResponse>`, mediaServiceNS, schemaNS, r.cfg.RTSPStreamURL))
}

func (r *Repository) snapshotURI() string {
	return soapBody(fmt.Sprintf(`<trt:GetSnapshotUriResponse xmlns:trt="%s">
<trt:MediaUri>
<tt:Uri xmlns:tt="%s">http://%s:%s/snapshot.jpg</tt:Uri>
<tt:InvalidAfterConnect xmlns:tt="%s">false</tt:InvalidAfterConnect>
<tt:InvalidAfterReboot xmlns:tt="%s">false</tt:InvalidAfterReboot>
<tt:Timeout xmlns:tt="%s">PT0S</tt:Timeout>
</trt:MediaUri>
</trt:GetSnapshotUriResponse>`,
		mediaServiceNS, schemaNS, r.cfg.ContainerIP, r.cfg.ONVIFPort,
		schemaNS, schemaNS, schemaNS))
}

func (r *Repository) deviceInformation() string {
	return soapBody(fmt.Sprintf(`<tds:GetDeviceInformationResponse xmlns:tds="%s">
<tds:Manufacturer>%s</tds:Manufacturer>
<tds:Model>%s</tds:Model>
<tds:FirmwareVersion>%s</tds:FirmwareVersion>
<tds:SerialNumber>%s</tds:SerialNumber>
<tds:HardwareId>%s</tds:HardwareId>
</tds:GetDeviceInformationResponse>`,
		deviceServiceNS,
		r.device.Manufacturer, r.device.Model, r.device.FirmwareVersion,
		r.device.SerialNumber, r.device.HardwareID))
}

func (r *Repository) videoSources() string {
	return soapBody(fmt.Sprintf(`<trt:GetVideoSourcesResponse xmlns:trt="%s">
<trt:VideoSources token="VideoSource_1">
<tt:Framerate xmlns:tt="%s">30</tt:Framerate>
<tt:Resolution xmlns:tt="%s">
<tt:Width>1920</tt:Width>
<tt:Height>1080</tt:Height>
</tt:Resolution>
</trt:VideoSources>
</trt:GetVideoSourcesResponse>`, mediaServiceNS, schemaNS, schemaNS))
}

func (r *Repository) videoSourceConfigurations() string {
	return soapBody(fmt.Sprintf(`<trt:GetVideoSourceConfigurationsResponse xmlns:trt="%s">
<trt:Configurations token="VideoSourceConfig" xmlns:tt="%s">
%s
</trt:Configurations>
</trt:GetVideoSourceConfigurationsResponse>`, mediaServiceNS, schemaNS, videoSourceConfigFragment))
}

func (r *Repository) videoEncoderConfigurations() string {
	return soapBody(fmt.Sprintf(`<trt:GetVideoEncoderConfigurationsResponse xmlns:trt="%s">
<trt:Configurations token="VideoEncoderConfig" xmlns:tt="%s">
%s
</trt:Configurations>
</trt:GetVideoEncoderConfigurationsResponse>`, mediaServiceNS, schemaNS, videoEncoderConfigFragment))
}

func (r *Repository) audioSourceConfigurations() string {
	return soapBody(fmt.Sprintf(`<trt:GetAudioSourceConfigurationsResponse xmlns:trt="%s">
<trt:Configurations token="AudioSourceConfig" xmlns:tt="%s">
%s
</trt:Configurations>
</trt:GetAudioSourceConfigurationsResponse>`, mediaServiceNS, schemaNS, audioSourceConfigFragment))
}

func (r *Repository) audioEncoderConfigurations() string {
	return soapBody(fmt.Sprintf(`<trt:GetAudioEncoderConfigurationsResponse xmlns:trt="%s">
<trt:Configurations token="AudioEncoderConfig" xmlns:tt="%s">
%s
</trt:Configurations>
</trt:GetAudioEncoderConfigurationsResponse>`, mediaServiceNS, schemaNS, audioEncoderConfigFragment))
}
