package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// CurrentVersion is the settings file format version
	CurrentVersion = 1

	// DefaultTableID is the table identifier used until the user sets one
	DefaultTableID = "TEST100"

	// DefaultServerPort is the server port used when none is configured
	DefaultServerPort = 37020
)

var (
	// ErrInvalidIP is returned for server addresses that are not dotted-quad IPv4
	ErrInvalidIP = errors.New("invalid IPv4 address")

	// ErrInvalidPort is returned for ports outside 1..65535
	ErrInvalidPort = errors.New("invalid port (1-65535)")
)

// Settings represents the entire user settings file.
type Settings struct {
	Version       int              `yaml:"version"`
	TableID       string           `yaml:"table_id"`
	Server        Server           `yaml:"server"`
	Discovery     *DiscoveryPrefs  `yaml:"discovery,omitempty"`
	LastDiscovery *DiscoveryRecord `yaml:"last_discovery,omitempty"`
}

// Server is the Akka server the client connects to.
type Server struct {
	IP   string `yaml:"ip"`   // Empty until discovered or entered manually
	Port int    `yaml:"port"` // HTTP port of the server API
}

// DiscoveryPrefs holds preferences for UDP discovery.
type DiscoveryPrefs struct {
	Port         int  `yaml:"port"`          // UDP discovery port
	AutoDiscover bool `yaml:"auto_discover"` // Rediscover on launch even when a server is configured
	SaveResult   bool `yaml:"save_result"`   // Store discovered servers in Server
}

// DiscoveryRecord describes the last successful discovery.
type DiscoveryRecord struct {
	IP           string    `yaml:"ip"`
	Port         int       `yaml:"port"`
	Status       string    `yaml:"status,omitempty"`
	DiscoveredAt time.Time `yaml:"discovered_at"`
}

// NewSettings creates Settings with default values.
func NewSettings() *Settings {
	return &Settings{
		Version: CurrentVersion,
		TableID: DefaultTableID,
		Server: Server{
			Port: DefaultServerPort,
		},
		Discovery: defaultDiscoveryPrefs(),
	}
}

func defaultDiscoveryPrefs() *DiscoveryPrefs {
	return &DiscoveryPrefs{
		Port:         37020,
		AutoDiscover: true,
		SaveResult:   true,
	}
}

// HasValidServer reports whether a server address has been configured.
func (s *Settings) HasValidServer() bool {
	return s.Server.IP != ""
}

// ShouldAutoDiscover reports whether a plain launch should search the
// network. Discovery always runs while no server is configured.
func (s *Settings) ShouldAutoDiscover() bool {
	if !s.HasValidServer() || s.Discovery == nil {
		return true
	}
	return s.Discovery.AutoDiscover
}

// BaseURL returns the HTTP base URL of the configured server, or "" when no
// server is configured.
func (s *Settings) BaseURL() string {
	if !s.HasValidServer() {
		return ""
	}
	return "http://" + net.JoinHostPort(s.Server.IP, strconv.Itoa(s.Server.Port))
}

// SetServer validates and stores a manually entered server.
func (s *Settings) SetServer(ip string, port int) error {
	if err := ValidateServer(ip, port); err != nil {
		return err
	}
	s.Server = Server{IP: ip, Port: port}
	return nil
}

// RecordDiscovery stores the outcome of a successful discovery. The server
// address is updated as well unless the user turned SaveResult off.
func (s *Settings) RecordDiscovery(ip string, port int, status string, at time.Time) {
	s.LastDiscovery = &DiscoveryRecord{
		IP:           ip,
		Port:         port,
		Status:       status,
		DiscoveredAt: at,
	}
	if s.Discovery == nil || s.Discovery.SaveResult {
		s.Server = Server{IP: ip, Port: port}
	}
}

// Validate checks a loaded settings file.
func (s *Settings) Validate() error {
	if s.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", s.Version, CurrentVersion)
	}
	if s.HasValidServer() {
		if err := ValidateServer(s.Server.IP, s.Server.Port); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if s.Discovery != nil {
		if err := ValidatePort(s.Discovery.Port); err != nil {
			return fmt.Errorf("discovery: %w", err)
		}
	}
	return nil
}

// ValidateServer checks a server address as the settings screen does.
func ValidateServer(ip string, port int) error {
	if err := ValidateIP(ip); err != nil {
		return err
	}
	return ValidatePort(port)
}

// ValidateIP accepts only dotted-quad IPv4 addresses.
func ValidateIP(ip string) error {
	if strings.Count(ip, ".") != 3 || strings.Contains(ip, ":") || net.ParseIP(ip).To4() == nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	return nil
}

// ValidatePort accepts ports 1..65535.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return nil
}

// ParseServerAddr parses "ip" or "ip:port" as typed by a user. A missing
// port falls back to defaultPort.
func ParseServerAddr(addr string, defaultPort int) (string, int, error) {
	addr = strings.TrimSpace(addr)
	ip, portStr := addr, ""
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		ip, portStr = addr[:i], addr[i+1:]
	}

	port := defaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
		}
		port = p
	}

	if err := ValidateServer(ip, port); err != nil {
		return "", 0, err
	}
	return ip, port, nil
}
