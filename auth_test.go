package emulator

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator() *Authenticator {
	return NewAuthenticator(Credentials{Username: "admin", Password: "s3cret"}, zerolog.Nop())
}

func soapRequest(body string, headers ...string) *RawRequest {
	raw := "POST /onvif/device_service HTTP/1.1\r\nContent-Type: application/soap+xml\r\n"
	for _, h := range headers {
		raw += h + "\r\n"
	}
	raw += fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	return ParseRawRequest(raw)
}

func basicHeader(user, pass string) string {
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuth(t *testing.T) {
	a := testAuthenticator()

	assert.Equal(t, Authenticated, a.Authenticate(soapRequest("<x/>", basicHeader("admin", "s3cret"))))
	assert.Equal(t, Rejected, a.Authenticate(soapRequest("<x/>", basicHeader("admin", "wrong"))))
	assert.Equal(t, Rejected, a.Authenticate(soapRequest("<x/>", basicHeader("other", "s3cret"))))
	assert.Equal(t, Rejected, a.Authenticate(soapRequest("<x/>", "Authorization: Basic !!!not-base64!!!")))
}

func TestDigestAuth(t *testing.T) {
	a := testAuthenticator()

	const (
		realm = "ONVIF Camera"
		nonce = "abcdef0123456789"
		uri   = "/onvif/device_service"
	)
	ha1 := md5hex("admin:" + realm + ":s3cret")
	ha2 := md5hex("POST:" + uri)
	response := md5hex(ha1 + ":" + nonce + ":" + ha2)

	header := fmt.Sprintf(`Authorization: Digest username="admin", realm="%s", nonce="%s", uri="%s", response="%s"`,
		realm, nonce, uri, response)
	assert.Equal(t, Authenticated, a.Authenticate(soapRequest("<x/>", header)))

	// Hex case must not matter.
	upper := strings.Replace(header, response, strings.ToUpper(response), 1)
	assert.Equal(t, Authenticated, a.Authenticate(soapRequest("<x/>", upper)))

	// Any mutated parameter invalidates the response.
	for _, bad := range []string{
		strings.Replace(header, `username="admin"`, `username="other"`, 1),
		strings.Replace(header, nonce, "ffffffffffffffff", 1),
		strings.Replace(header, uri, "/other", 1),
		strings.Replace(header, response, md5hex("nope"), 1),
	} {
		assert.Equal(t, Rejected, a.Authenticate(soapRequest("<x/>", bad)))
	}
}

func wsSecurityEnvelope(username, password, typeAttr, nonce, created string) string {
	pw := "<wsse:Password"
	if typeAttr != "" {
		pw += ` Type="` + typeAttr + `"`
	}
	pw += ">" + password + "</wsse:Password>"
	extra := ""
	if nonce != "" {
		extra += "<wsse:Nonce>" + nonce + "</wsse:Nonce>"
	}
	if created != "" {
		extra += "<wsu:Created>" + created + "</wsu:Created>"
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope">
<s:Header>
<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd" xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">
<wsse:UsernameToken>
<wsse:Username>` + username + `</wsse:Username>
` + pw + extra + `
</wsse:UsernameToken>
</wsse:Security>
</s:Header>
<s:Body><tds:GetProfiles xmlns:tds="http://www.onvif.org/ver10/media/wsdl"/></s:Body>
</s:Envelope>`
}

const passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"

// wsDigest mirrors the client-side digest construction:
// base64(SHA1(nonce_bytes || created || password)).
func wsDigest(nonceB64, created, password string) string {
	nonce, _ := base64.StdEncoding.DecodeString(nonceB64)
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestWSSecurityPasswordText(t *testing.T) {
	a := testAuthenticator()

	ok := soapRequest(wsSecurityEnvelope("admin", "s3cret", "", "", ""))
	assert.Equal(t, Authenticated, a.Authenticate(ok))

	assert.Equal(t, Rejected, a.Authenticate(soapRequest(wsSecurityEnvelope("admin", "wrong", "", "", ""))))
	assert.Equal(t, Rejected, a.Authenticate(soapRequest(wsSecurityEnvelope("other", "s3cret", "", "", ""))))
}

func TestWSSecurityPasswordDigest(t *testing.T) {
	a := testAuthenticator()

	nonce := base64.StdEncoding.EncodeToString([]byte("fresh-nonce-0001"))
	created := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	digest := wsDigest(nonce, created, "s3cret")

	req := soapRequest(wsSecurityEnvelope("admin", digest, passwordDigestType, nonce, created))
	require.Equal(t, Authenticated, a.Authenticate(req))

	// Tampered nonce or created no longer matches the digest.
	otherNonce := base64.StdEncoding.EncodeToString([]byte("fresh-nonce-0002"))
	assert.Equal(t, Rejected, a.Authenticate(soapRequest(
		wsSecurityEnvelope("admin", digest, passwordDigestType, otherNonce, created))))

	// Digest computed with the wrong password rejects.
	bad := wsDigest(otherNonce, created, "wrong")
	assert.Equal(t, Rejected, a.Authenticate(soapRequest(
		wsSecurityEnvelope("admin", bad, passwordDigestType, otherNonce, created))))
}

func TestWSSecurityDigestReplayRejected(t *testing.T) {
	a := testAuthenticator()

	nonce := base64.StdEncoding.EncodeToString([]byte("replayed-nonce-1"))
	created := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	digest := wsDigest(nonce, created, "s3cret")
	req := soapRequest(wsSecurityEnvelope("admin", digest, passwordDigestType, nonce, created))

	require.Equal(t, Authenticated, a.Authenticate(req))
	assert.Equal(t, Rejected, a.Authenticate(req), "identical request must not authenticate twice")
}

func TestWSSecurityDigestStaleCreated(t *testing.T) {
	a := testAuthenticator()

	nonce := base64.StdEncoding.EncodeToString([]byte("stale-nonce-0001"))
	created := time.Now().UTC().Add(-10 * time.Minute).Format("2006-01-02T15:04:05.000Z")
	digest := wsDigest(nonce, created, "s3cret")

	req := soapRequest(wsSecurityEnvelope("admin", digest, passwordDigestType, nonce, created))
	assert.Equal(t, Rejected, a.Authenticate(req))
}

func TestWSSecurityDigestRequiresNonceAndCreated(t *testing.T) {
	a := testAuthenticator()

	// PasswordDigest without nonce/created has no plaintext fallback.
	req := soapRequest(wsSecurityEnvelope("admin", "s3cret", passwordDigestType, "", ""))
	assert.Equal(t, Rejected, a.Authenticate(req))
}

func TestWSSecurityMalformedTokenFailsClosed(t *testing.T) {
	a := testAuthenticator()

	body := `<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header>
<wsse:Security><wsse:UsernameToken><wsse:Username>admin</wsse:Username>
<wsse:Password>s3cret</wsse:UsernameToken></wsse:Security>
</s:Header><s:Body/></s:Envelope>`
	assert.Equal(t, Rejected, a.Authenticate(soapRequest(body)))
}

func TestNoCredentialsRejected(t *testing.T) {
	a := testAuthenticator()
	assert.Equal(t, Rejected, a.Authenticate(soapRequest("<tds:GetProfiles/>")))
}
