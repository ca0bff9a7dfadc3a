package discovery

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type sentDatagram struct {
	dst     string
	payload string
}

// fakeSocket is an in-memory PacketSocket. Receive blocks until a datagram
// is injected with deliver or the socket is closed.
type fakeSocket struct {
	openErr error
	sendErr error
	recvErr error // returned by every Receive until Close

	receives atomic.Int64

	mu     sync.Mutex
	opened bool
	closed bool
	sends  []sentDatagram

	inbox     chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbox:   make(chan []byte),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeSocket) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeSocket) SendTo(dst *net.UDPAddr, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	f.sends = append(f.sends, sentDatagram{dst: dst.String(), payload: string(payload)})
	return f.sendErr
}

func (f *fakeSocket) Receive(buf []byte) (int, *net.UDPAddr, error) {
	f.receives.Add(1)
	if f.recvErr != nil {
		select {
		case <-f.closeCh:
			return 0, nil, net.ErrClosed
		default:
			return 0, nil, f.recvErr
		}
	}
	select {
	case data := <-f.inbox:
		n := copy(buf, data)
		return n, &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: DefaultPort}, nil
	case <-f.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closeCh) })
	return nil
}

// deliver hands a datagram to the blocked reader. It reports false if the
// socket closed first.
func (f *fakeSocket) deliver(payload string) bool {
	select {
	case f.inbox <- []byte(payload):
		return true
	case <-f.closeCh:
		return false
	case <-time.After(2 * time.Second):
		return false
	}
}

func (f *fakeSocket) sent() []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDatagram(nil), f.sends...)
}

func (f *fakeSocket) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeScanner reports a fixed wlan0 target while available is set.
type fakeScanner struct {
	available atomic.Bool
	calls     atomic.Int64
}

func newFakeScanner(available bool) *fakeScanner {
	s := &fakeScanner{}
	s.available.Store(available)
	return s
}

func (s *fakeScanner) FindBroadcastTarget() (BroadcastTarget, bool) {
	s.calls.Add(1)
	if !s.available.Load() {
		return BroadcastTarget{}, false
	}
	return BroadcastTarget{Interface: "wlan0", IP: net.IPv4(192, 168, 1, 255)}, true
}

var errFakeSend = errors.New("network is unreachable")
