package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultPort is the well-known UDP port for probes and responses
	DefaultPort = 37020

	// ProbePayload is the exact datagram a client broadcasts to find a server
	ProbePayload = "DISCOVER_AKKA_SERVER"

	// maxDatagramSize bounds a single read; responses are tiny JSON objects
	maxDatagramSize = 2048
)

// DiscoveredServer is the answer of an Akka server to a discovery probe.
// It is treated as an immutable value once produced.
type DiscoveredServer struct {
	// IP is the dotted-quad IPv4 address the server can be reached at
	IP string `json:"ip"`

	// Port is the server's service port (1-65535)
	Port int `json:"port"`

	// Status is an optional readiness string such as "ready"
	Status string `json:"status,omitempty"`
}

// String returns a human-readable string representation of the server
func (s DiscoveredServer) String() string {
	if s.Status == "" {
		return fmt.Sprintf("Akka server at %s", s.Address())
	}
	return fmt.Sprintf("Akka server at %s (%s)", s.Address(), s.Status)
}

// Address returns the host:port form of the server address
func (s DiscoveredServer) Address() string {
	return net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
}

// BaseURL returns the HTTP base URL for the server
func (s DiscoveredServer) BaseURL() string {
	return "http://" + s.Address()
}

// wireResponse mirrors the JSON object on the wire. Pointer fields let the
// decoder tell a missing key from a zero value.
type wireResponse struct {
	IP     *string `json:"ip"`
	Port   *int    `json:"port"`
	Status *string `json:"status"`
}

// IsProbe reports whether a datagram is exactly the discovery probe.
func IsProbe(data []byte) bool {
	return bytes.Equal(data, []byte(ProbePayload))
}

// ParseResponse classifies an inbound datagram. It returns ErrProbeEcho for
// our own probe and a *MalformedResponseError for anything that is not a
// well-formed response object.
func ParseResponse(data []byte) (DiscoveredServer, error) {
	if !utf8.Valid(data) {
		return DiscoveredServer{}, &MalformedResponseError{Reason: "payload is not valid UTF-8"}
	}
	if IsProbe(data) {
		return DiscoveredServer{}, ErrProbeEcho
	}

	// Unmarshal rejects trailing bytes after the object.
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return DiscoveredServer{}, &MalformedResponseError{Reason: "invalid JSON", Err: err}
	}

	if w.IP == nil {
		return DiscoveredServer{}, &MalformedResponseError{Reason: "missing ip"}
	}
	if !isDottedQuad(*w.IP) {
		return DiscoveredServer{}, &MalformedResponseError{Reason: fmt.Sprintf("ip %q is not a dotted-quad IPv4 address", *w.IP)}
	}
	if w.Port == nil {
		return DiscoveredServer{}, &MalformedResponseError{Reason: "missing port"}
	}
	if *w.Port < 1 || *w.Port > 65535 {
		return DiscoveredServer{}, &MalformedResponseError{Reason: fmt.Sprintf("port %d out of range", *w.Port)}
	}

	server := DiscoveredServer{IP: *w.IP, Port: *w.Port}
	if w.Status != nil {
		server.Status = *w.Status
	}
	return server, nil
}

// EncodeResponse renders the wire form of a response.
func EncodeResponse(s DiscoveredServer) ([]byte, error) {
	if !isDottedQuad(s.IP) {
		return nil, fmt.Errorf("ip %q is not a dotted-quad IPv4 address", s.IP)
	}
	if s.Port < 1 || s.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", s.Port)
	}
	return json.Marshal(s)
}

func isDottedQuad(s string) bool {
	if strings.Count(s, ".") != 3 || strings.Contains(s, ":") {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
