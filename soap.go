package emulator

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Namespace URIs shared by the SOAP and WS-Discovery surfaces.
const (
	soapEnvelopeNS = "http://www.w3.org/2003/05/soap-envelope"
	wsAddressingNS = "http://www.w3.org/2005/08/addressing"
	wsDiscoveryNS  = "http://schemas.xmlsoap.org/ws/2005/04/discovery"
	onvifErrorNS   = "http://www.onvif.org/ver10/error"
)

// findLocal returns the first element in the tree whose local tag name
// matches, ignoring the namespace prefix. ONVIF clients vary prefixes
// freely, so lookups never key on them.
func findLocal(el *etree.Element, tag string) *etree.Element {
	if el.Tag == tag {
		return el
	}
	for _, child := range el.ChildElements() {
		if m := findLocal(child, tag); m != nil {
			return m
		}
	}
	return nil
}

// usernameToken is the parsed WS-Security UsernameToken fragment.
type usernameToken struct {
	Username     string
	Password     string
	PasswordType string
	Nonce        string
	Created      string
	HasPassword  bool
}

// parseUsernameToken extracts the first UsernameToken from a SOAP
// payload. Malformed XML or a missing Username is an error, so callers
// fail closed.
func parseUsernameToken(payload string) (*usernameToken, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return nil, errors.Annotate(err, "parsing security header")
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty document")
	}
	token := findLocal(root, "UsernameToken")
	if token == nil {
		return nil, errors.New("no UsernameToken element")
	}
	user := findLocal(token, "Username")
	if user == nil {
		return nil, errors.New("no Username element")
	}
	parsed := &usernameToken{Username: strings.TrimSpace(user.Text())}
	if pw := findLocal(token, "Password"); pw != nil {
		parsed.HasPassword = true
		parsed.Password = strings.TrimSpace(pw.Text())
		parsed.PasswordType = pw.SelectAttrValue("Type", "")
	}
	if n := findLocal(token, "Nonce"); n != nil {
		parsed.Nonce = strings.TrimSpace(n.Text())
	}
	if c := findLocal(token, "Created"); c != nil {
		parsed.Created = strings.TrimSpace(c.Text())
	} else if c := findLocal(root, "Created"); c != nil {
		// Some stacks put the wsu:Created timestamp next to the token
		// rather than inside it.
		parsed.Created = strings.TrimSpace(c.Text())
	}
	return parsed, nil
}

// soapFault renders a SOAP 1.2 sender fault with the given subcode and
// reason text.
func soapFault(subcode, reason, detail string) string {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soap:Envelope")
	env.CreateAttr("xmlns:soap", soapEnvelopeNS)
	env.CreateAttr("xmlns:ter", onvifErrorNS)
	body := env.CreateElement("soap:Body")
	fault := body.CreateElement("soap:Fault")
	code := fault.CreateElement("soap:Code")
	code.CreateElement("soap:Value").SetText("soap:Sender")
	sub := code.CreateElement("soap:Subcode")
	sub.CreateElement("soap:Value").SetText(subcode)
	text := fault.CreateElement("soap:Reason").CreateElement("soap:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(reason)
	if detail != "" {
		fault.CreateElement("soap:Detail").CreateElement("soap:Text").SetText(detail)
	}
	out, _ := doc.WriteToString()
	return out
}
