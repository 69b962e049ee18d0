// Package backend holds the device adapters the dispatcher routes to:
// RESTCONF and NETCONF for loopback management, an SSH CLI session for show
// commands, and an ansible-playbook runner for archive and banner jobs.
package backend

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// Loopback describes the interface the config actions manage.
type Loopback struct {
	ID          string // device identifier used in reply texts
	Name        string // e.g. Loopback66070112
	Description string // empty: "Created via RESTCONF" / "Created via NETCONF"
	IP          string
	Netmask     string
}

// Credentials are shared by every adapter that logs into the device.
type Credentials struct {
	Username string
	Password string
}

// newHTTPClient returns a pooled HTTP client. Lab routers ship self-signed
// certificates, so insecure skips verification.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
