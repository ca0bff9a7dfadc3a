package discovery

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/projectakka/akka-discovery/internal/logging"
)

// responseListener reads datagrams for one session and hands the first valid
// response to the session's gate. It never touches scheduler state.
type responseListener struct {
	sock   PacketSocket
	found  *oneShot[DiscoveredServer]
	logger *zap.Logger
	onDrop func(error) // test hook, may be nil
}

// run blocks until the socket is closed.
func (l *responseListener) run() {
	buf := make([]byte, maxDatagramSize)
	var backoff time.Duration
	for {
		n, addr, err := l.sock.Receive(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient read errors (e.g. ICMP-induced) do not end the session
			backoff = nextReceiveBackoff(backoff)
			l.logger.Warn("Discovery receive failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		remote := ""
		if addr != nil {
			remote = addr.String()
		}
		l.handle(buf[:n], remote)
	}
}

func (l *responseListener) handle(data []byte, remote string) {
	logging.LogDatagram(l.logger, "received", remote, data)

	server, err := ParseResponse(data)
	if err != nil {
		if errors.Is(err, ErrProbeEcho) {
			l.logger.Debug("Ignoring probe echo", zap.String("remote_addr", remote))
		} else {
			l.logger.Debug("Discarding datagram", zap.String("remote_addr", remote), zap.Error(err))
		}
		if l.onDrop != nil {
			l.onDrop(err)
		}
		return
	}

	if !l.found.Resolve(server) {
		l.logger.Debug("Ignoring additional response", zap.String("remote_addr", remote), zap.Stringer("server", server))
		return
	}
	l.logger.Info("Discovery response received", zap.String("remote_addr", remote), zap.Stringer("server", server))
}
