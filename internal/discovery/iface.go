package discovery

import (
	"encoding/binary"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/projectakka/akka-discovery/internal/logging"
)

// NetworkInterfaceInfo is a point-in-time snapshot of one IPv4 address on a
// network interface.
type NetworkInterfaceInfo struct {
	Name      string
	IPv4      net.IP
	Netmask   net.IPMask
	Up        bool
	Loopback  bool
	Broadcast bool // Interface supports broadcast
}

// Qualifies reports whether broadcasts should be sent out of this interface.
func (i NetworkInterfaceInfo) Qualifies() bool {
	return i.Up && !i.Loopback && i.Broadcast && i.IPv4.To4() != nil
}

// BroadcastTarget is the subnet-directed broadcast address of a qualifying
// interface.
type BroadcastTarget struct {
	Interface string
	IP        net.IP
}

// UDPAddr returns the destination address for a probe on the given port.
func (t BroadcastTarget) UDPAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: t.IP, Port: port}
}

// String returns a human-readable string representation of the target
func (t BroadcastTarget) String() string {
	return fmt.Sprintf("%s via %s", t.IP, t.Interface)
}

// TargetFinder yields the broadcast target for the next probe attempt.
type TargetFinder interface {
	FindBroadcastTarget() (BroadcastTarget, bool)
}

// InterfaceScanner enumerates local interfaces on every call. Results are
// never cached since Wi-Fi state can change between attempts.
type InterfaceScanner struct {
	// List returns the interface snapshots to choose from. Defaults to the
	// host's IPv4 interfaces.
	List func() ([]NetworkInterfaceInfo, error)

	logger *zap.Logger
}

// NewInterfaceScanner creates a scanner over the host's interfaces
func NewInterfaceScanner() *InterfaceScanner {
	return &InterfaceScanner{
		List:   HostInterfaces,
		logger: logging.Named("iface"),
	}
}

// FindBroadcastTarget picks the first interface that is up, not loopback and
// broadcast capable. A missing interface is an expected outcome and is
// reported by the boolean, never by an error.
func (s *InterfaceScanner) FindBroadcastTarget() (BroadcastTarget, bool) {
	list := s.List
	if list == nil {
		list = HostInterfaces
	}
	logger := s.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ifaces, err := list()
	if err != nil {
		logger.Debug("Interface enumeration failed", zap.Error(err))
		return BroadcastTarget{}, false
	}

	for _, info := range ifaces {
		if !info.Qualifies() {
			continue
		}
		bcast := BroadcastAddr(info.IPv4, info.Netmask)
		if bcast == nil {
			continue
		}
		return BroadcastTarget{Interface: info.Name, IP: bcast}, true
	}

	logger.Debug("No qualifying broadcast interface", zap.Int("interfaces", len(ifaces)))
	return BroadcastTarget{}, false
}

// HostInterfaces returns one snapshot per IPv4 address of every host
// interface.
func HostInterfaces() ([]NetworkInterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var result []NetworkInterfaceInfo
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			result = append(result, NetworkInterfaceInfo{
				Name:      iface.Name,
				IPv4:      ip4,
				Netmask:   ipnet.Mask,
				Up:        iface.Flags&net.FlagUp != 0,
				Loopback:  iface.Flags&net.FlagLoopback != 0,
				Broadcast: iface.Flags&net.FlagBroadcast != 0,
			})
		}
	}

	return result, nil
}

// BroadcastAddr computes ip | ^mask in network byte order. It returns nil for
// non-IPv4 input.
func BroadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	// IPv4 masks may be stored in 16-byte form
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}

	bcast := binary.BigEndian.Uint32(ip4) | ^binary.BigEndian.Uint32(mask)
	result := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(result, bcast)
	return result
}
