package emulator

import (
	"bytes"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

const (
	// maxRequestBytes caps one request, headers and body together.
	// ONVIF envelopes are small; anything larger is hostile or broken.
	maxRequestBytes = 64 << 10

	readChunkBytes = 4096
)

// RawRequest is the byte image of one HTTP request plus the views the
// dispatcher and the authentication engine work on. Authentication is
// defined over the raw request text, so the original bytes are kept
// intact rather than being decomposed by an HTTP library.
type RawRequest struct {
	Raw    string
	Method string
	Path   string
	Body   string
}

// ParseRawRequest derives the request-line and body views from the raw
// text. It never fails; absent parts come back empty.
func ParseRawRequest(raw string) *RawRequest {
	req := &RawRequest{Raw: raw}
	line := raw
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		line = raw[:i]
	}
	fields := strings.Fields(line)
	if len(fields) > 0 {
		req.Method = fields[0]
	}
	if len(fields) > 1 {
		req.Path = fields[1]
	}
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		req.Body = raw[i+4:]
	}
	return req
}

// FirstLine returns the request line for logging.
func (r *RawRequest) FirstLine() string {
	if i := strings.IndexAny(r.Raw, "\r\n"); i >= 0 {
		return r.Raw[:i]
	}
	return r.Raw
}

// Header returns the value of the named header, case-insensitively.
func (r *RawRequest) Header(name string) (string, bool) {
	prefix := strings.ToLower(name) + ":"
	for _, line := range strings.Split(r.Raw, "\r\n") {
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}

// payload returns the text handed to the XML parser: the body when the
// header terminator was seen, otherwise everything from the first '<'.
func (r *RawRequest) payload() string {
	if r.Body != "" {
		return r.Body
	}
	if i := strings.Index(r.Raw, "<"); i >= 0 {
		return r.Raw[i:]
	}
	return r.Raw
}

// readRequest reads one HTTP request from conn: incrementally until the
// header terminator, then Content-Length more bytes, capped at
// maxRequestBytes. A connection closed before any byte arrives returns
// io.EOF so the caller can hang up silently.
func readRequest(conn net.Conn) (*RawRequest, error) {
	buf := make([]byte, 0, readChunkBytes)
	chunk := make([]byte, readChunkBytes)
	headerEnd := -1
	for headerEnd < 0 && len(buf) < maxRequestBytes {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			headerEnd = bytes.Index(buf, []byte("\r\n\r\n"))
		}
		if err != nil {
			if len(buf) == 0 {
				if err == io.EOF {
					return nil, io.EOF
				}
				return nil, errors.Annotate(err, "reading request")
			}
			// Partial request; classify whatever arrived.
			return ParseRawRequest(string(buf)), nil
		}
	}
	if headerEnd >= 0 {
		want := headerEnd + 4 + contentLength(buf[:headerEnd])
		if want > maxRequestBytes {
			want = maxRequestBytes
		}
		for len(buf) < want {
			n, err := conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				break
			}
		}
	}
	if len(buf) > maxRequestBytes {
		buf = buf[:maxRequestBytes]
	}
	return ParseRawRequest(string(buf)), nil
}

func contentLength(header []byte) int {
	for _, line := range strings.Split(string(header), "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			v := strings.TrimSpace(line[len("content-length:"):])
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				return n
			}
		}
	}
	return 0
}
