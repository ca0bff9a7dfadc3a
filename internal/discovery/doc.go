// Package discovery locates an Akka server on the local IPv4 network by
// broadcasting a UDP probe, with no manual IP entry.
//
// # Protocol
//
// The client broadcasts the ASCII probe "DISCOVER_AKKA_SERVER" to the
// subnet-directed broadcast address on UDP port 37020. A server answers with
// a JSON object:
//
//	{"ip": "192.168.1.50", "port": 37020, "status": "ready"}
//
// The first well-formed response wins. Our own probe echoed back by the
// network stack, and any other payload, is discarded.
//
// # Schedule
//
// A session runs up to 10 cycles of 6 attempts. Attempts are 2-5 seconds
// apart (uniform jitter, sampled per attempt) and cycles are separated by a
// 30 second cooldown. When no broadcast-capable interface is up, the attempt
// is skipped but still counted, so a session without network exhausts on the
// normal schedule.
//
// # Components
//
//   - InterfaceScanner: picks the first up, non-loopback, broadcast-capable
//     IPv4 interface and computes ip | ^netmask
//   - Socket: the broadcast-enabled UDP socket; Close unblocks Receive
//   - Scheduler: the pure retry/backoff state machine
//   - Controller: runs one session at a time and publishes Status updates
//   - Responder: the server side, for running or emulating a server
//
// # Usage Example
//
//	ctl := discovery.NewController(discovery.Config{})
//	server, err := ctl.Discover(ctx)
//	if errors.Is(err, discovery.ErrDiscoveryExhausted) {
//	    // fall back to manual configuration
//	}
//	fmt.Println(server.BaseURL())
//
// For progress rendering, Subscribe before Start and read Status values.
//
// # Thread Safety
//
// Controller methods are safe for concurrent use. Each session is driven by
// a single goroutine that owns all state transitions; the receive goroutine
// only resolves a one-shot gate with the first valid response.
package discovery
