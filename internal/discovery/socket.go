package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/projectakka/akka-discovery/internal/logging"
)

// sendTimeout bounds a single probe write. UDP writes should never block for
// long; a timeout here means the socket is wedged.
const sendTimeout = 10 * time.Second

// Consecutive receive failures back off exponentially between these bounds.
// The ceiling stays low so a closing socket is still noticed promptly.
const (
	receiveBackoffMin = 10 * time.Millisecond
	receiveBackoffMax = 200 * time.Millisecond
)

// nextReceiveBackoff returns the pause after a failed receive, given the
// previous pause (zero after a successful read).
func nextReceiveBackoff(prev time.Duration) time.Duration {
	if prev < receiveBackoffMin {
		return receiveBackoffMin
	}
	return min(prev*2, receiveBackoffMax)
}

// PacketSocket is the datagram socket a discovery session runs on.
//
// Receive must unblock with an error once Close is called from another
// goroutine, and Close must be idempotent.
type PacketSocket interface {
	Open() error
	SendTo(dst *net.UDPAddr, payload []byte) error
	Receive(buf []byte) (int, *net.UDPAddr, error)
	Close() error
}

// Socket owns a broadcast-enabled UDP socket bound to the wildcard address.
// A Socket is opened at most once; sessions allocate a fresh one each time.
type Socket struct {
	port   int
	logger *zap.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// NewSocket creates an unopened socket for the given port. Port 0 binds an
// ephemeral port, which is only useful in tests.
func NewSocket(port int) *Socket {
	return &Socket{
		port:   port,
		logger: logging.Named("socket"),
	}
}

// Open creates the socket with SO_BROADCAST enabled and binds it to
// 0.0.0.0:port.
func (s *Socket) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &SocketInitError{Port: s.port, Err: net.ErrClosed}
	}
	if s.conn != nil {
		return &SocketInitError{Port: s.port, Err: errors.New("socket already open")}
	}

	lc := listenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", s.port))
	if err != nil {
		return &SocketInitError{Port: s.port, Err: err}
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return &SocketInitError{Port: s.port, Err: fmt.Errorf("unexpected packet conn type %T", pc)}
	}

	s.conn = conn
	s.logger.Debug("Discovery socket open", zap.String("local_addr", conn.LocalAddr().String()))
	return nil
}

// SendTo transmits one datagram. Failures are logged and returned; callers
// treat them as non-fatal.
func (s *Socket) SendTo(dst *net.UDPAddr, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("send to %s: %w", dst, net.ErrClosed)
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := s.conn.WriteToUDP(payload, dst); err != nil {
		s.logger.Warn("Discovery send failed", zap.String("dst", dst.String()), zap.Error(err))
		return fmt.Errorf("send to %s: %w", dst, err)
	}

	logging.LogDatagram(s.logger, "sent", dst.String(), payload)
	return nil
}

// Receive blocks until a datagram arrives or the socket is closed. After
// Close it returns an error wrapping net.ErrClosed.
func (s *Socket) Receive(buf []byte) (int, *net.UDPAddr, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return 0, nil, net.ErrClosed
	}

	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, err
	}
	return n, addr, nil
}

// LocalAddr returns the bound address, or nil when the socket is not open.
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Close releases the socket and unblocks any pending Receive. Closing an
// already closed or never opened socket is a no-op.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.conn == nil {
		return nil
	}

	err := s.conn.Close()
	s.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing discovery socket: %w", err)
	}
	s.logger.Debug("Discovery socket closed")
	return nil
}
