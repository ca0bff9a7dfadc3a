package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/projectakka/akka-discovery/internal/logging"
)

// Status is a snapshot of the controller's current session.
type Status struct {
	Session            uint64            // Session this snapshot belongs to (0 before the first Start)
	State              State             // Current state
	Cycle              int               // Completed cycles
	Retry              int               // Attempts in the current cycle
	Server             *DiscoveredServer // Set once State is StateFound
	InterfaceAvailable bool              // Whether the last attempt found a broadcast interface
}

// Searching reports whether discovery is still in progress
func (s Status) Searching() bool {
	return s.State.Searching()
}

// Config configures a Controller. Zero fields fall back to defaults.
type Config struct {
	// Port is the UDP port to bind and probe (DefaultPort)
	Port int

	// Params is the broadcast schedule (DefaultParams)
	Params Params

	// Clock is the time source for session timers (wall clock)
	Clock clock.Clock

	// Scanner yields the broadcast target per attempt (host interfaces)
	Scanner TargetFinder

	// NewSocket creates the socket for a session, called once per Start
	NewSocket func(port int) PacketSocket

	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Params == (Params{}) {
		c.Params = DefaultParams()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Scanner == nil {
		c.Scanner = NewInterfaceScanner()
	}
	if c.NewSocket == nil {
		c.NewSocket = func(port int) PacketSocket { return NewSocket(port) }
	}
	if c.Logger == nil {
		c.Logger = logging.Named("discovery")
	}
	return c
}

// Controller runs discovery sessions, one at a time, and publishes their
// progress to subscribers.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex // serializes Start/Stop, guards sess
	sess *session

	subMu  sync.Mutex
	status Status
	subs   map[int]chan Status
	nextID int

	sessionSeq atomic.Uint64
}

// NewController creates an idle controller
func NewController(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		subs:   make(map[int]chan Status),
	}
}

// Start begins a new discovery session. An active session is fully torn down
// first. The session also ends when ctx is cancelled. A socket failure is
// returned as *SocketInitError and no session is started.
func (c *Controller) Start(ctx context.Context) error {
	_, err := c.start(ctx)
	return err
}

func (c *Controller) start(ctx context.Context) (*session, error) {
	if err := c.cfg.Params.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	sock := c.cfg.NewSocket(c.cfg.Port)
	if err := sock.Open(); err != nil {
		_ = sock.Close()
		var initErr *SocketInitError
		if !errors.As(err, &initErr) {
			err = &SocketInitError{Port: c.cfg.Port, Err: err}
		}
		c.logger.Error("Discovery socket unavailable", zap.Int("port", c.cfg.Port), zap.Error(err))
		return nil, err
	}

	s := &session{
		id:           c.sessionSeq.Add(1),
		port:         c.cfg.Port,
		sock:         sock,
		scanner:      c.cfg.Scanner,
		sched:        NewScheduler(c.cfg.Params),
		clock:        c.cfg.Clock,
		found:        newOneShot[DiscoveredServer](),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		listenerDone: make(chan struct{}),
		publish:      c.publish,
	}
	s.logger = c.logger.With(zap.Uint64("session", s.id))
	c.sess = s
	s.start(ctx)
	return s, nil
}

// Stop ends the active session, if any, and waits until its socket is closed
// and its timer cancelled. It is safe to call at any time, repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.sess == nil {
		return
	}
	c.sess.stop()
	c.sess = nil
}

// stopSession stops s only if it is still the current session.
func (c *Controller) stopSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == s {
		c.stopLocked()
	}
}

// Status returns the latest published status
func (c *Controller) Status() Status {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.status
}

// Subscribe returns a channel carrying status updates. The channel holds
// only the latest undelivered status; slow readers skip intermediate ones.
// The returned function unsubscribes and closes the channel.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Status, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

func (c *Controller) publish(st Status) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.status = st
	for _, ch := range c.subs {
		// Replace any stale value; publish is the only sender, so the
		// send below cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// Discover runs a session and blocks until it finds a server, exhausts
// (ErrDiscoveryExhausted), is stopped (ErrDiscoveryStopped) or ctx ends.
func (c *Controller) Discover(ctx context.Context) (DiscoveredServer, error) {
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	s, err := c.start(ctx)
	if err != nil {
		return DiscoveredServer{}, err
	}

	for {
		select {
		case <-ctx.Done():
			c.stopSession(s)
			return DiscoveredServer{}, ctx.Err()
		case st := <-updates:
			if st.Session < s.id {
				continue
			}
			if st.Session > s.id {
				// Superseded by a newer Start
				return DiscoveredServer{}, ErrDiscoveryStopped
			}
			switch st.State {
			case StateFound:
				return *st.Server, nil
			case StateExhausted:
				return DiscoveredServer{}, ErrDiscoveryExhausted
			case StateIdle:
				if ctx.Err() != nil {
					return DiscoveredServer{}, ctx.Err()
				}
				return DiscoveredServer{}, ErrDiscoveryStopped
			}
		}
	}
}

// session is one discovery run. All state mutation happens on the run
// goroutine; the listener only resolves the found gate.
type session struct {
	id      uint64
	port    int
	sock    PacketSocket
	scanner TargetFinder
	sched   *Scheduler
	clock   clock.Clock
	logger  *zap.Logger
	publish func(Status)

	found        *oneShot[DiscoveredServer]
	stopOnce     sync.Once
	stopCh       chan struct{}
	done         chan struct{}
	listenerDone chan struct{}

	ifaceOK bool
}

func (s *session) start(ctx context.Context) {
	s.sched.Start()

	l := &responseListener{
		sock:   s.sock,
		found:  s.found,
		logger: s.logger.Named("listener"),
	}
	go func() {
		defer close(s.listenerDone)
		l.run()
	}()

	go s.run(ctx)
}

// stop signals the actor and waits for it to exit. A session that already
// ended on its own is moved to Idle so observers see the stop.
func (s *session) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done

	if s.sched.State() != StateIdle {
		s.sched.Stop()
		s.publishStatus()
	}
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	logging.LogSessionEvent(s.logger, "started", 0, 0)

	delay := s.attempt()
	timer := s.clock.Timer(delay)
	defer func() { timer.Stop() }()
	s.publishStatus()

	for {
		select {
		case <-s.stopCh:
			s.halt("stopped")
			return
		case <-ctx.Done():
			s.halt("cancelled")
			return
		case <-s.found.Done():
			s.finishFound()
			return
		case <-timer.C:
			// A resolved gate wins any race with a scheduled attempt
			if _, ok := s.found.Value(); ok {
				s.finishFound()
				return
			}

			next, ok := s.advance()
			if !ok {
				return
			}
			timer = s.clock.Timer(next)
			s.publishStatus()
		}
	}
}

// advance handles a timer event. It reports false when the session is over.
func (s *session) advance() (time.Duration, bool) {
	if s.sched.State() == StateCoolingDown {
		state, _ := s.sched.CooldownElapsed()
		if state == StateExhausted {
			logging.LogSessionEvent(s.logger, "exhausted", s.sched.Cycle(), s.sched.Retry())
			return 0, false
		}
		logging.LogSessionEvent(s.logger, "cycle_started", s.sched.Cycle(), s.sched.Retry())
	}
	return s.attempt(), true
}

// attempt runs one broadcast attempt and returns the delay to the next event.
func (s *session) attempt() time.Duration {
	target, ok := s.scanner.FindBroadcastTarget()
	s.ifaceOK = ok

	step, _ := s.sched.Attempt(ok)
	if step.Probe {
		// Send failures are logged by the socket and never end the session
		_ = s.sock.SendTo(target.UDPAddr(s.port), []byte(ProbePayload))
	} else {
		s.logger.Debug("No broadcast interface, skipping attempt",
			zap.Int("cycle", s.sched.Cycle()), zap.Int("retry", s.sched.Retry()))
	}

	if step.State == StateCoolingDown {
		logging.LogSessionEvent(s.logger, "cooling_down", s.sched.Cycle(), s.sched.Retry())
	}
	return step.Delay
}

func (s *session) finishFound() {
	server, _ := s.found.Value()
	s.sched.MarkFound()
	s.logger.Info("Server found", zap.Stringer("server", server),
		zap.Int("cycle", s.sched.Cycle()), zap.Int("retry", s.sched.Retry()))
}

func (s *session) halt(reason string) {
	s.sched.Stop()
	logging.LogSessionEvent(s.logger, reason, s.sched.Cycle(), s.sched.Retry())
}

// teardown closes the socket, which unblocks the listener, and waits for the
// listener to exit. The final status is published only after all session
// I/O is done, so observers never see a terminal state with a live socket.
func (s *session) teardown() {
	if err := s.sock.Close(); err != nil {
		s.logger.Warn("Closing discovery socket", zap.Error(err))
	}
	<-s.listenerDone
	s.publishStatus()
}

func (s *session) publishStatus() {
	st := Status{
		Session:            s.id,
		State:              s.sched.State(),
		Cycle:              s.sched.Cycle(),
		Retry:              s.sched.Retry(),
		InterfaceAvailable: s.ifaceOK,
	}
	if st.State == StateFound {
		if server, ok := s.found.Value(); ok {
			st.Server = &server
		}
	}
	s.publish(st)
}
