// Package tui implements the interactive discovery screen of akka-discover.
//
// The screen is a Bubble Tea model that drives a discovery.Controller: it
// subscribes to status updates, starts a session on Init and renders one of
// four views.
//   - Searching: spinner, progress over all scheduled attempts, cycle and
//     attempt counters, and a hint when no network interface is usable
//   - Found: a card with the server address and status
//   - Not found: the exhausted (or failed) screen with troubleshooting hints
//   - Manual entry: a text input accepting "ip" or "ip:port"
//
// Quitting always stops the running session. After the program exits,
// DiscoveryModel.Result reports the server the user accepted.
//
// # Usage Example
//
//	ctl := discovery.NewController(discovery.Config{})
//	model := tui.NewDiscoveryModel(ctx, ctl, discovery.DefaultParams(), discovery.DefaultPort)
//	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if server, ok := final.(tui.DiscoveryModel).Result(); ok {
//	    fmt.Println(server.BaseURL())
//	}
package tui
