package emulator

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Outcome is the result of authenticating one request.
type Outcome int

const (
	Rejected Outcome = iota
	Authenticated
)

// wsCreatedSkew bounds how far a WS-Security Created timestamp may
// drift from the local clock in either direction. Nonces are remembered
// for the same window to reject replays.
const wsCreatedSkew = 5 * time.Minute

// Authenticator validates HTTP Basic, HTTP Digest and WS-Security
// UsernameToken credentials against the single configured pair. Every
// rejection looks the same to the client.
type Authenticator struct {
	creds Credentials
	log   zerolog.Logger
	now   func() time.Time

	mu         sync.Mutex
	seenNonces map[string]time.Time
}

func NewAuthenticator(creds Credentials, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		creds:      creds,
		log:        log.With().Str("component", "auth").Logger(),
		now:        time.Now,
		seenNonces: make(map[string]time.Time),
	}
}

// Authenticate checks the request against the configured credentials.
// Scheme priority: HTTP Basic, then HTTP Digest, then a WS-Security
// UsernameToken in the body. A request carrying none of them rejects.
func (a *Authenticator) Authenticate(req *RawRequest) Outcome {
	if header, ok := req.Header("Authorization"); ok {
		switch {
		case strings.HasPrefix(header, "Basic "):
			return a.checkBasic(header)
		case strings.HasPrefix(header, "Digest "):
			return a.checkDigest(header, req.Method)
		}
	}
	if strings.Contains(req.Raw, "UsernameToken") {
		return a.checkUsernameToken(req)
	}
	a.log.Debug().Msg("no authentication material in request")
	return Rejected
}

func (a *Authenticator) checkBasic(header string) Outcome {
	encoded := strings.TrimSpace(strings.TrimPrefix(header, "Basic "))
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Rejected
	}
	expected := a.creds.Username + ":" + a.creds.Password
	if subtle.ConstantTimeCompare(decoded, []byte(expected)) == 1 {
		return Authenticated
	}
	return Rejected
}

// checkDigest validates an RFC 2617 Digest header. The method comes
// from the request line; clients send hex in either case.
func (a *Authenticator) checkDigest(header, method string) Outcome {
	params := parseDigestParams(strings.TrimPrefix(header, "Digest "))
	if params["username"] != a.creds.Username {
		return Rejected
	}
	if method == "" {
		method = "GET"
	}
	ha1 := md5hex(a.creds.Username + ":" + params["realm"] + ":" + a.creds.Password)
	ha2 := md5hex(method + ":" + params["uri"])
	expected := md5hex(ha1 + ":" + params["nonce"] + ":" + ha2)
	provided := strings.ToLower(params["response"])
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1 {
		return Authenticated
	}
	return Rejected
}

func (a *Authenticator) checkUsernameToken(req *RawRequest) Outcome {
	token, err := parseUsernameToken(req.payload())
	if err != nil {
		a.log.Debug().Err(err).Msg("rejecting unparseable security token")
		return Rejected
	}
	if token.Username != a.creds.Username || !token.HasPassword {
		return Rejected
	}
	if strings.Contains(token.PasswordType, "PasswordDigest") {
		return a.checkPasswordDigest(token)
	}
	// PasswordText, or no Type attribute at all.
	if subtle.ConstantTimeCompare([]byte(token.Password), []byte(a.creds.Password)) == 1 {
		return Authenticated
	}
	return Rejected
}

// checkPasswordDigest validates base64(SHA1(nonce || created ||
// password)). A digest token without Nonce and Created rejects; there
// is no plaintext fallback for that shape.
func (a *Authenticator) checkPasswordDigest(token *usernameToken) Outcome {
	if token.Nonce == "" || token.Created == "" {
		return Rejected
	}
	created, err := time.Parse(time.RFC3339, token.Created)
	if err != nil {
		return Rejected
	}
	if d := a.now().Sub(created); d > wsCreatedSkew || d < -wsCreatedSkew {
		return Rejected
	}
	nonce, err := base64.StdEncoding.DecodeString(token.Nonce)
	if err != nil {
		return Rejected
	}
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(token.Created))
	h.Write([]byte(a.creds.Password))
	expected := base64.StdEncoding.EncodeToString(h.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(token.Password), []byte(expected)) != 1 {
		return Rejected
	}
	if !a.rememberNonce(token.Nonce) {
		a.log.Warn().Msg("rejecting replayed WS-Security nonce")
		return Rejected
	}
	return Authenticated
}

// rememberNonce records a successfully used nonce and reports whether
// it was fresh. Entries expire after the Created skew window.
func (a *Authenticator) rememberNonce(nonce string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for n, seen := range a.seenNonces {
		if now.Sub(seen) > wsCreatedSkew {
			delete(a.seenNonces, n)
		}
	}
	if _, dup := a.seenNonces[nonce]; dup {
		return false
	}
	a.seenNonces[nonce] = now
	return true
}

func parseDigestParams(list string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.Trim(strings.TrimSpace(part[eq+1:]), `"`)
		params[key] = val
	}
	return params
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
