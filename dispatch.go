package emulator

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const (
	connDeadline  = 30 * time.Second
	acceptPoll    = 500 * time.Millisecond
	maxConcurrent = 64

	contentTypeSOAP = "application/soap+xml"
)

// Server is the ONVIF SOAP/HTTP listener. Each accepted connection is
// handled by one goroutine running a single request/response exchange.
type Server struct {
	cfg    *Config
	auth   *Authenticator
	repo   *Repository
	snaps  SnapshotCapturer
	status *ServiceStatus
	log    zerolog.Logger
	sem    chan struct{}
}

func NewServer(cfg *Config, auth *Authenticator, repo *Repository, snaps SnapshotCapturer, status *ServiceStatus, log zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		auth:   auth,
		repo:   repo,
		snaps:  snaps,
		status: status,
		log:    log.With().Str("component", "onvif").Logger(),
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Run binds the listener and serves until shutdown is requested. The
// accept deadline keeps the shutdown flag observed within half a
// second.
func (s *Server) Run() error {
	addr := net.JoinHostPort("0.0.0.0", s.cfg.ONVIFPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "binding ONVIF listener on %s", addr)
	}
	defer ln.Close()
	tcpLn := ln.(*net.TCPListener)

	s.status.SetONVIFHealthy(true)
	defer s.status.SetONVIFHealthy(false)
	s.log.Info().Str("addr", addr).Msg("ONVIF service listening")

	var connID uint64
	for !s.status.ShutdownRequested() {
		tcpLn.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Error().Err(err).Msg("accept failed")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		connID++

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection limit reached, rejecting")
			writeResponse(conn, "503 Service Unavailable", "text/plain", []byte("server busy\n"))
			conn.Close()
			continue
		}

		go func(c net.Conn, id uint64) {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error().Interface("panic", r).Uint64("conn", id).Msg("recovered connection handler panic")
				}
				<-s.sem
				c.Close()
			}()
			if err := s.handleConn(c); err != nil {
				s.log.Debug().Err(err).Uint64("conn", id).Msg("connection ended with error")
			}
		}(conn, connID)
	}
	s.log.Info().Msg("ONVIF listener stopping")
	return nil
}

// handleConn runs the read, authenticate, route, respond sequence for
// one connection. Errors here are connection-scoped and never reach
// the accept loop.
func (s *Server) handleConn(conn net.Conn) error {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	conn.SetDeadline(time.Now().Add(connDeadline))

	req, err := readRequest(conn)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Trace(err)
	}
	s.log.Debug().Str("request", req.FirstLine()).Msg("request received")
	if s.cfg.Debug {
		// Raw dumps include Authorization headers and token material.
		s.log.Debug().Str("raw", req.Raw).Msg("raw request dump")
	}

	class := Classify(req)
	if class != EndpointPublic {
		if s.auth.Authenticate(req) != Authenticated {
			s.log.Info().Str("request", req.FirstLine()).Msg("authentication failed")
			if IsSOAP(req.Raw) {
				return writeResponse(conn, "401 Unauthorized", contentTypeSOAP,
					[]byte(s.repo.NotAuthorizedFault()), authChallenges()...)
			}
			return writeResponse(conn, "401 Unauthorized", "text/plain", nil, authChallenges()...)
		}
	}
	return s.route(conn, req, class)
}

func (s *Server) route(conn net.Conn, req *RawRequest, class EndpointClass) error {
	if req.Method == "GET" && strings.HasPrefix(req.Path, "/snapshot.jpg") {
		return s.serveSnapshot(conn)
	}
	if class == EndpointPublic || class == EndpointProtected {
		for _, action := range supportedActions {
			if !strings.Contains(req.Raw, action) {
				continue
			}
			body, ok := s.repo.Lookup(action)
			if !ok {
				break
			}
			s.log.Info().Str("action", action).Msg("handling ONVIF operation")
			return writeResponse(conn, "200 OK", contentTypeSOAP, []byte(body))
		}
	}
	if class == EndpointUnsupported {
		if op, ok := DetectUnsupported(req.Raw); ok {
			s.log.Warn().Str("operation", op).Msg("recognized but unsupported ONVIF operation")
			return writeResponse(conn, "400 Bad Request", contentTypeSOAP,
				[]byte(s.repo.UnsupportedOperationFault(op)))
		}
	}
	if IsSOAP(req.Raw) {
		if guess := firstBodyElement(req.Raw); guess != "" {
			s.log.Warn().Str("operation", guess).Msg("unknown SOAP operation")
			return writeResponse(conn, "400 Bad Request", contentTypeSOAP,
				[]byte(s.repo.UnsupportedOperationFault(guess)))
		}
	}
	s.log.Info().Str("request", req.FirstLine()).Msg("non-ONVIF request, default response")
	return writeResponse(conn, "200 OK", "text/plain", []byte(s.repo.Default()))
}

func (s *Server) serveSnapshot(conn net.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	jpeg, err := s.snaps.Capture(ctx, s.cfg.RTSPStreamURL)
	if err != nil {
		s.log.Error().Err(err).Msg("snapshot capture failed")
		return writeResponse(conn, "500 Internal Server Error", "text/plain",
			[]byte("Failed to generate snapshot"))
	}
	s.log.Info().Int("bytes", len(jpeg)).Msg("serving snapshot")
	return writeResponse(conn, "200 OK", "image/jpeg", jpeg, "Cache-Control: no-cache")
}

// writeResponse emits one HTTP/1.1 response and leaves the connection
// to be closed by the caller. Each exchange is terminal.
func writeResponse(conn net.Conn, status, contentType string, body []byte, extraHeaders ...string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %s\r\n", status)
	for _, h := range extraHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "Content-Type: %s\r\nConnection: close\r\nContent-Length: %d\r\n\r\n", contentType, len(body))
	if _, err := conn.Write([]byte(b.String())); err != nil {
		return errors.Annotate(err, "writing response header")
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			return errors.Annotate(err, "writing response body")
		}
	}
	return nil
}
