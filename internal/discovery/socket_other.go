//go:build !linux && !darwin

package discovery

import "net"

// listenConfig relies on the runtime, which enables SO_BROADCAST on IPv4
// datagram sockets by default on these platforms.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
