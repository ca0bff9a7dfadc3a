package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/projectakka/akka-discovery/internal/logging"
)

const (
	// MDNSService is the service type a responder advertises when mDNS is on
	MDNSService = "_akka._udp"

	// MDNSDomain is the mDNS domain
	MDNSDomain = "local."

	// DefaultInstanceName is the mDNS instance name used when none is set
	DefaultInstanceName = "Akka Server"
)

// ResponderConfig configures the server side of the discovery protocol.
type ResponderConfig struct {
	// Port is the UDP port probes arrive on (DefaultPort)
	Port int

	// AdvertiseIP is the IP placed in responses. When empty, the local
	// address that routes toward the prober is used.
	AdvertiseIP string

	// ServicePort is the port placed in responses
	ServicePort int

	// Status is the optional status string, e.g. "ready"
	Status string

	// MDNS additionally registers the responder as an mDNS service
	MDNS bool

	// InstanceName is the mDNS instance name (DefaultInstanceName)
	InstanceName string

	Logger *zap.Logger
}

// Responder answers discovery probes with a unicast JSON response. It is the
// counterpart of Controller, used to run or emulate an Akka server.
type Responder struct {
	cfg    ResponderConfig
	logger *zap.Logger

	ready chan struct{}

	mu   sync.Mutex
	sock *Socket
}

// NewResponder creates a responder; call Serve to run it
func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ServicePort == 0 {
		cfg.ServicePort = DefaultPort
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = DefaultInstanceName
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Named("responder")
	}
	return &Responder{
		cfg:    cfg,
		logger: cfg.Logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the responder socket is bound.
func (r *Responder) Ready() <-chan struct{} {
	return r.ready
}

// Addr returns the bound address while serving, nil otherwise.
func (r *Responder) Addr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock == nil {
		return nil
	}
	return r.sock.LocalAddr()
}

// Serve answers probes until ctx is cancelled. A Responder serves once.
// It returns nil on cancellation and *SocketInitError if the port cannot be
// bound.
func (r *Responder) Serve(ctx context.Context) error {
	if r.cfg.AdvertiseIP != "" && !isDottedQuad(r.cfg.AdvertiseIP) {
		return fmt.Errorf("advertise ip %q is not a dotted-quad IPv4 address", r.cfg.AdvertiseIP)
	}

	sock := NewSocket(r.cfg.Port)
	sock.logger = r.logger.Named("socket")
	if err := sock.Open(); err != nil {
		return err
	}

	r.mu.Lock()
	r.sock = sock
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.sock = nil
		r.mu.Unlock()
	}()

	if r.cfg.MDNS {
		port := r.cfg.Port
		if addr := sock.LocalAddr(); addr != nil {
			port = addr.Port
		}
		txt := []string{fmt.Sprintf("service_port=%d", r.cfg.ServicePort)}
		if r.cfg.Status != "" {
			txt = append(txt, "status="+r.cfg.Status)
		}
		server, err := zeroconf.Register(r.cfg.InstanceName, MDNSService, MDNSDomain, port, txt, nil)
		if err != nil {
			// mDNS is advisory; UDP discovery keeps working without it
			r.logger.Warn("mDNS registration failed", zap.Error(err))
		} else {
			defer server.Shutdown()
			r.logger.Info("mDNS service registered", zap.String("service", MDNSService), zap.Int("port", port))
		}
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		_ = sock.Close()
	}()
	defer close(stopped)

	r.logger.Info("Responder listening", zap.Stringer("addr", sock.LocalAddr()))
	close(r.ready)

	buf := make([]byte, maxDatagramSize)
	var backoff time.Duration
	for {
		n, addr, err := sock.Receive(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextReceiveBackoff(backoff)
			r.logger.Warn("Responder receive failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		r.handle(sock, buf[:n], addr)
	}
}

func (r *Responder) handle(sock *Socket, data []byte, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	logging.LogDatagram(r.logger, "received", addr.String(), data)

	if !IsProbe(data) {
		r.logger.Debug("Ignoring non-probe datagram", zap.String("remote_addr", addr.String()))
		return
	}

	resp := DiscoveredServer{
		IP:     r.advertisedIP(addr),
		Port:   r.cfg.ServicePort,
		Status: r.cfg.Status,
	}
	payload, err := EncodeResponse(resp)
	if err != nil {
		r.logger.Warn("Cannot build discovery response", zap.Error(err))
		return
	}
	if err := sock.SendTo(addr, payload); err != nil {
		return
	}
	r.logger.Info("Answered probe", zap.String("remote_addr", addr.String()), zap.Stringer("server", resp))
}

// advertisedIP picks the IP to put in a response for the given prober.
func (r *Responder) advertisedIP(prober *net.UDPAddr) string {
	if r.cfg.AdvertiseIP != "" {
		return r.cfg.AdvertiseIP
	}
	if ip := localIPToward(prober.IP); ip != nil {
		return ip.String()
	}
	if ifaces, err := HostInterfaces(); err == nil {
		for _, info := range ifaces {
			if info.Qualifies() {
				return info.IPv4.String()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).String()
}

// localIPToward returns the source address the kernel would use to reach dst.
// Connecting a UDP socket sends nothing.
func localIPToward(dst net.IP) net.IP {
	if dst.To4() == nil {
		return nil
	}
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: dst, Port: DefaultPort})
	if err != nil {
		return nil
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || local.IP.To4() == nil || local.IP.IsUnspecified() {
		return nil
	}
	return local.IP.To4()
}
