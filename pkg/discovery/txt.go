// Package discovery publishes and resolves chat servers on the local
// network over DNS-SD. A server advertises one `_chatserver._tcp` instance
// whose TXT record carries the protocol version, whether end-to-end
// encryption is available, the WebSocket port when one is open, and a
// human-readable display name. Clients browse or look up instances to find
// a server without configuration.
package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// Service is the DNS-SD service type of a chat server.
const Service = "_chatserver._tcp"

// DefaultDomain is the mDNS domain.
const DefaultDomain = "local."

// ProtocolVersion is the wire protocol version advertised in TXT.
const ProtocolVersion = 1

// MaxDisplayName bounds the advertised display name.
const MaxDisplayName = 32

// TXT record keys.
const (
	txtKeyVersion     = "v"
	txtKeyE2EE        = "e2ee"
	txtKeyWSPort      = "ws"
	txtKeyDisplayName = "dn"
)

// ServiceInfo is the advertised description of one chat server.
type ServiceInfo struct {
	// Version is the wire protocol version. Zero means ProtocolVersion.
	Version int

	// E2EE reports whether the server accepts the private-session
	// handshake endpoints.
	E2EE bool

	// WSPort is the WebSocket port, 0 when the server is TCP-only.
	WSPort int

	// DisplayName is a human-readable server name, at most MaxDisplayName
	// characters.
	DisplayName string
}

// Validate checks the info against the advertisement constraints.
func (i ServiceInfo) Validate() error {
	if i.Version < 0 {
		return fmt.Errorf("%w: negative version", ErrInvalidInfo)
	}
	if i.WSPort < 0 || i.WSPort > 65535 {
		return fmt.Errorf("%w: ws port %d out of range", ErrInvalidInfo, i.WSPort)
	}
	if len(i.DisplayName) > MaxDisplayName {
		return fmt.Errorf("%w: display name exceeds %d characters", ErrInvalidInfo, MaxDisplayName)
	}
	return nil
}

// Encode serializes the info to TXT record strings.
func (i ServiceInfo) Encode() []string {
	v := i.Version
	if v == 0 {
		v = ProtocolVersion
	}
	e2ee := "0"
	if i.E2EE {
		e2ee = "1"
	}
	txt := []string{
		txtKeyVersion + "=" + strconv.Itoa(v),
		txtKeyE2EE + "=" + e2ee,
	}
	if i.WSPort > 0 {
		txt = append(txt, txtKeyWSPort+"="+strconv.Itoa(i.WSPort))
	}
	if i.DisplayName != "" {
		txt = append(txt, txtKeyDisplayName+"="+i.DisplayName)
	}
	return txt
}

// ParseServiceInfo decodes TXT record strings back into a ServiceInfo.
// Unknown keys and malformed values are ignored.
func ParseServiceInfo(txt []string) ServiceInfo {
	var info ServiceInfo
	for _, rec := range txt {
		key, value, found := strings.Cut(rec, "=")
		if !found {
			continue
		}
		switch key {
		case txtKeyVersion:
			if n, err := strconv.Atoi(value); err == nil {
				info.Version = n
			}
		case txtKeyE2EE:
			info.E2EE = value == "1"
		case txtKeyWSPort:
			if n, err := strconv.Atoi(value); err == nil {
				info.WSPort = n
			}
		case txtKeyDisplayName:
			info.DisplayName = value
		}
	}
	return info
}
