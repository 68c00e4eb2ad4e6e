package emulator

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	discoveryPort  = 3702
	discoveryGroup = "239.255.255.250"

	discoveryTo = "urn:schemas-xmlsoap-org:ws:2005:04:discovery"
	anonymousTo = "http://www.w3.org/2005/08/addressing/anonymous"

	actionHello      = wsDiscoveryNS + "/Hello"
	actionBye        = wsDiscoveryNS + "/Bye"
	actionProbeMatch = wsDiscoveryNS + "/ProbeMatches"

	helloInterval = 60 * time.Second
	recvTimeout   = time.Second
)

// DiscoveryServer answers WS-Discovery probes for the device and
// announces its presence on the multicast group. One Hello goes out at
// start, one Bye at Stop, and a Hello is repeated whenever a minute
// passes without one.
type DiscoveryServer struct {
	device   DeviceDescriptor
	conn     net.PacketConn
	announce net.Addr
	status   *ServiceStatus
	log      zerolog.Logger

	byeOnce   sync.Once
	closeOnce sync.Once
}

// NewDiscoveryServer binds 0.0.0.0:3702 and joins the multicast group
// on the interface owning interfaceIP. Bind or join failure fails
// construction; no half-initialized server is returned.
func NewDiscoveryServer(device DeviceDescriptor, interfaceIP string, status *ServiceStatus, log zerolog.Logger) (*DiscoveryServer, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", discoveryPort))
	if err != nil {
		return nil, errors.Annotate(err, "binding WS-Discovery socket")
	}
	dlog := log.With().Str("component", "ws-discovery").Logger()

	pc := ipv4.NewPacketConn(conn)
	ifi := interfaceByIP(interfaceIP)
	if ifi == nil {
		dlog.Warn().Str("ip", interfaceIP).Msg("no interface owns the configured IP, joining on the default interface")
	}
	group := &net.UDPAddr{IP: net.ParseIP(discoveryGroup)}
	if err := pc.JoinGroup(ifi, group); err != nil {
		conn.Close()
		return nil, errors.Annotatef(err, "joining multicast group %s", discoveryGroup)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		dlog.Debug().Err(err).Msg("could not enable multicast loopback")
	}

	return &DiscoveryServer{
		device:   device,
		conn:     conn,
		announce: &net.UDPAddr{IP: net.ParseIP(discoveryGroup), Port: discoveryPort},
		status:   status,
		log:      dlog,
	}, nil
}

// interfaceByIP finds the interface carrying ip. nil means not found;
// the caller falls back to the system default.
func interfaceByIP(ip string) *net.Interface {
	target := net.ParseIP(ip)
	if target == nil {
		return nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(target) {
				return &ifaces[i]
			}
		}
	}
	return nil
}

// Run announces the device and serves probes until shutdown is
// requested or the socket fails. The receive timeout doubles as the
// shutdown poll and the periodic Hello tick.
func (d *DiscoveryServer) Run() error {
	if err := d.sendHello(); err != nil {
		return errors.Trace(err)
	}
	d.status.SetDiscoveryHealthy(true)
	defer d.status.SetDiscoveryHealthy(false)
	d.log.Info().Str("group", discoveryGroup).Str("xaddrs", d.device.XAddrs).Msg("WS-Discovery announcing")

	buf := make([]byte, 8192)
	lastHello := time.Now()
	for !d.status.ShutdownRequested() {
		d.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, src, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if time.Since(lastHello) >= helloInterval {
					if err := d.sendHello(); err != nil {
						d.log.Error().Err(err).Msg("periodic Hello failed")
					}
					lastHello = time.Now()
				}
				continue
			}
			return errors.Annotate(err, "receiving WS-Discovery datagram")
		}
		if err := d.handleDatagram(string(buf[:n]), src); err != nil {
			d.log.Error().Err(err).Str("remote", src.String()).Msg("failed to answer probe")
		}
	}
	return nil
}

func (d *DiscoveryServer) handleDatagram(msg string, src net.Addr) error {
	if !isProbe(msg) {
		d.log.Debug().Str("remote", src.String()).Msg("ignoring non-probe datagram")
		return nil
	}
	relatesTo := extractMessageID(msg)
	d.log.Info().Str("remote", src.String()).Str("relates_to", relatesTo).Msg("answering probe")
	return d.sendProbeMatch(src, relatesTo)
}

// Stop sends the Bye announcement exactly once and releases the
// socket. Safe from any shutdown path, including after Run returned an
// error.
func (d *DiscoveryServer) Stop() {
	d.byeOnce.Do(func() {
		if err := d.sendBye(); err != nil {
			d.log.Error().Err(err).Msg("failed to send Bye announcement")
		} else {
			d.log.Info().Msg("sent Bye announcement")
		}
	})
	d.closeOnce.Do(func() { d.conn.Close() })
}

func (d *DiscoveryServer) sendHello() error {
	msg, err := d.buildMessage(actionHello, "Hello", "", discoveryTo)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.conn.WriteTo([]byte(msg), d.announce)
	return errors.Annotate(err, "sending Hello")
}

func (d *DiscoveryServer) sendBye() error {
	msg, err := d.buildMessage(actionBye, "Bye", "", discoveryTo)
	if err != nil {
		return errors.Trace(err)
	}
	// Best effort even when the read loop already hit a socket error.
	d.conn.SetWriteDeadline(time.Now().Add(recvTimeout))
	_, err = d.conn.WriteTo([]byte(msg), d.announce)
	return errors.Annotate(err, "sending Bye")
}

func (d *DiscoveryServer) sendProbeMatch(dst net.Addr, relatesTo string) error {
	msg, err := d.buildMessage(actionProbeMatch, "ProbeMatch", relatesTo, anonymousTo)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.conn.WriteTo([]byte(msg), dst)
	return errors.Annotate(err, "sending ProbeMatch")
}

// buildMessage renders the shared announcement envelope. Hello, Bye and
// ProbeMatch differ only in action, body element and addressing.
func (d *DiscoveryServer) buildMessage(action, bodyTag, relatesTo, to string) (string, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", soapEnvelopeNS)
	env.CreateAttr("xmlns:wsa", wsAddressingNS)
	env.CreateAttr("xmlns:wsd", wsDiscoveryNS)
	env.CreateAttr("xmlns:tdn", "http://www.onvif.org/ver10/network/wsdl")

	header := env.CreateElement("soap:Header")
	header.CreateElement("wsa:Action").SetText(action)
	header.CreateElement("wsa:MessageID").SetText("urn:uuid:" + uuid.Must(uuid.NewV4()).String())
	// RelatesTo echoes the probe's MessageID exactly as extracted, so
	// clients that sent a bare ID correlate the reply.
	if relatesTo != "" {
		header.CreateElement("wsa:RelatesTo").SetText(relatesTo)
	}
	header.CreateElement("wsa:To").SetText(to)

	body := env.CreateElement("soap:Body")
	var announcement *etree.Element
	if bodyTag == "ProbeMatch" {
		announcement = body.CreateElement("wsd:ProbeMatches").CreateElement("wsd:ProbeMatch")
	} else {
		announcement = body.CreateElement("wsd:" + bodyTag)
	}
	announcement.CreateElement("wsa:EndpointReference").
		CreateElement("wsa:Address").SetText(d.device.EndpointReference)
	announcement.CreateElement("wsd:Types").SetText(d.device.Types)
	announcement.CreateElement("wsd:Scopes").SetText(d.device.Scopes)
	announcement.CreateElement("wsd:XAddrs").SetText(d.device.XAddrs)
	announcement.CreateElement("wsd:MetadataVersion").SetText("1")

	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Annotate(err, "serializing discovery message")
	}
	return out, nil
}

// isProbe classifies a datagram as a WS-Discovery probe. A Probe
// element is mandatory and ProbeMatches are excluded outright: with
// multicast loopback enabled the socket receives this engine's own
// Hello and ProbeMatch traffic, which carries the same ONVIF type
// markers as a probe and must never be answered. The namespace check
// is the primary signal; the ONVIF type/scope markers catch clients
// that omit the standard namespace.
func isProbe(msg string) bool {
	if !strings.Contains(msg, "Probe") || strings.Contains(msg, "ProbeMatch") {
		return false
	}
	return strings.Contains(msg, wsDiscoveryNS) ||
		strings.Contains(msg, "discovery") ||
		strings.Contains(msg, "NetworkVideoTransmitter") ||
		strings.Contains(msg, "tdn:") ||
		strings.Contains(msg, "onvif://www.onvif.org")
}

// extractMessageID pulls the WS-Addressing MessageID out of a probe,
// tolerating arbitrary namespace prefixes and a urn:uuid: wrapper. A
// fresh UUID is synthesized when the probe carries none, so ProbeMatch
// always has a RelatesTo value.
func extractMessageID(msg string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(msg); err == nil {
		if root := doc.Root(); root != nil {
			if el := findLocal(root, "MessageID"); el != nil {
				if id := strings.TrimPrefix(strings.TrimSpace(el.Text()), "urn:uuid:"); id != "" {
					return strings.TrimPrefix(id, "uuid:")
				}
			}
		}
	}
	// Textual fallback for datagrams etree cannot parse.
	for _, prefix := range []string{"a:", "wsa:", "", "soap:", "s:"} {
		openTag, closeTag := "<"+prefix+"MessageID>", "</"+prefix+"MessageID>"
		start := strings.Index(msg, openTag)
		if start < 0 {
			continue
		}
		rest := msg[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			continue
		}
		id := strings.TrimPrefix(strings.TrimSpace(rest[:end]), "urn:uuid:")
		id = strings.TrimPrefix(id, "uuid:")
		if id != "" {
			return id
		}
	}
	return uuid.Must(uuid.NewV4()).String()
}
