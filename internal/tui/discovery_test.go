package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectakka/akka-discovery/internal/discovery"
)

type fakeDiscoverer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	updates  chan discovery.Status
}

func newFakeDiscoverer() *fakeDiscoverer {
	return &fakeDiscoverer{updates: make(chan discovery.Status, 1)}
}

func (f *fakeDiscoverer) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeDiscoverer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeDiscoverer) Subscribe() (<-chan discovery.Status, func()) {
	return f.updates, func() {}
}

func newTestModel(t *testing.T) (DiscoveryModel, *fakeDiscoverer) {
	t.Helper()
	f := newFakeDiscoverer()
	m := NewDiscoveryModel(context.Background(), f, discovery.DefaultParams(), 0)
	m.Width, m.Height = 100, 30
	return m, f
}

func update(t *testing.T, m DiscoveryModel, msg tea.Msg) (DiscoveryModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	dm, ok := next.(DiscoveryModel)
	require.True(t, ok, "Update() returned %T, want DiscoveryModel", next)
	return dm, cmd
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(t *testing.T, m DiscoveryModel, text string) DiscoveryModel {
	t.Helper()
	for _, r := range text {
		m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestDiscoveryModel_StartCommand(t *testing.T) {
	m, f := newTestModel(t)

	msg := m.startDiscovery()()
	assert.Equal(t, 1, f.starts)
	m, _ = update(t, m, msg)
	assert.NoError(t, m.Err)
	assert.False(t, m.StartTime.IsZero())
}

func TestDiscoveryModel_WaitForStatus(t *testing.T) {
	m, f := newTestModel(t)

	st := discovery.Status{Session: 1, State: discovery.StateBroadcasting, Retry: 2, InterfaceAvailable: true}
	f.updates <- st
	msg := m.waitForStatus()()
	got, ok := msg.(statusMsg)
	require.True(t, ok, "waitForStatus() = %#v", msg)
	assert.Equal(t, st, discovery.Status(got))

	close(f.updates)
	_, ok = m.waitForStatus()().(statusClosedMsg)
	assert.True(t, ok, "closed channel should yield statusClosedMsg")
}

func TestDiscoveryModel_SearchingView(t *testing.T) {
	m, _ := newTestModel(t)

	m, cmd := update(t, m, statusMsg{Session: 1, State: discovery.StateBroadcasting, Cycle: 2, Retry: 3, InterfaceAvailable: true})
	assert.NotNil(t, cmd, "status update should wait for the next status")
	assert.Equal(t, float64(2*6+3)/60, m.Progress())

	view := m.View()
	for _, s := range []string{"SEARCHING FOR AKKA SERVER", "Cycle 3/10", "Attempt 3/6", "UDP port 37020"} {
		assert.Contains(t, view, s)
	}
	assert.NotContains(t, view, "No usable network interface")
}

func TestDiscoveryModel_ShowsConfiguredPort(t *testing.T) {
	f := newFakeDiscoverer()
	m := NewDiscoveryModel(context.Background(), f, discovery.DefaultParams(), 40000)
	m.Width, m.Height = 100, 30

	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateBroadcasting, Retry: 1, InterfaceAvailable: true})
	assert.Contains(t, m.View(), "UDP port 40000")

	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateExhausted, Cycle: 10})
	assert.Contains(t, m.View(), "Allow UDP port 40000")
}

func TestDiscoveryModel_NoInterfaceHint(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateBroadcasting, Retry: 1})

	assert.Contains(t, m.View(), "No usable network interface")
}

func TestDiscoveryModel_Found(t *testing.T) {
	m, f := newTestModel(t)

	server := &discovery.DiscoveredServer{IP: "192.168.1.50", Port: 37020, Status: "ready"}
	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateFound, Server: server})

	require.NotNil(t, m.Server)
	assert.Equal(t, *server, *m.Server)
	assert.Equal(t, 1.0, m.Progress())
	view := m.View()
	assert.Contains(t, view, "192.168.1.50:37020")
	assert.Contains(t, view, "ready")

	_, ok := m.Result()
	assert.False(t, ok, "Result() before accepting should be empty")

	m, cmd := update(t, m, keyMsg("enter"))
	assert.True(t, isQuit(cmd), "enter on found screen should quit")
	got, ok := m.Result()
	assert.True(t, ok)
	assert.Equal(t, *server, got)
	assert.NotZero(t, f.stops, "quitting should stop discovery")
}

func TestDiscoveryModel_IgnoresStaleSessions(t *testing.T) {
	m, _ := newTestModel(t)
	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateExhausted, Cycle: 10})

	require.Contains(t, m.View(), "No Akka server answered after 60 attempts")

	m, cmd := update(t, m, keyMsg("r"))
	require.NotNil(t, cmd, "rescan should return a command")
	assert.Equal(t, discovery.StateIdle, m.Status.State, "rescan should reset status")

	// The first session's final status arriving late must not win
	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateIdle, Cycle: 10})
	assert.Zero(t, m.Status.Cycle, "stale session status applied: %+v", m.Status)

	m, _ = update(t, m, statusMsg{Session: 2, State: discovery.StateBroadcasting, Retry: 1})
	assert.Equal(t, uint64(2), m.Status.Session)
}

func TestDiscoveryModel_StartError(t *testing.T) {
	m, f := newTestModel(t)
	f.startErr = &discovery.SocketInitError{Port: 37020, Err: errors.New("address already in use")}

	m, _ = update(t, m, m.startDiscovery()())
	assert.Contains(t, m.View(), "Discovery failed")
	assert.False(t, m.searching())
}

func TestDiscoveryModel_ManualEntry(t *testing.T) {
	m, f := newTestModel(t)

	m, _ = update(t, m, keyMsg("m"))
	require.True(t, m.ManualMode, "m should open manual entry")

	m = typeText(t, m, "10.0.0.999")
	m, cmd := update(t, m, keyMsg("enter"))
	require.Error(t, m.ManualErr, "invalid address should be rejected")
	require.False(t, isQuit(cmd))
	assert.Contains(t, m.View(), "invalid IPv4 address")

	m, _ = update(t, m, keyMsg("esc"))
	require.False(t, m.ManualMode, "esc should leave manual entry")

	m, _ = update(t, m, keyMsg("m"))
	m = typeText(t, m, "10.0.0.9:8080")
	m, cmd = update(t, m, keyMsg("enter"))
	require.True(t, isQuit(cmd), "valid manual entry should quit")

	got, ok := m.Result()
	assert.True(t, ok)
	assert.True(t, m.Manual)
	assert.Equal(t, "10.0.0.9", got.IP)
	assert.Equal(t, 8080, got.Port)
	assert.NotZero(t, f.stops, "manual entry should stop discovery")
}

func TestDiscoveryModel_QuitStopsDiscovery(t *testing.T) {
	m, f := newTestModel(t)
	m, _ = update(t, m, statusMsg{Session: 1, State: discovery.StateBroadcasting, Retry: 1})

	_, cmd := update(t, m, keyMsg("q"))
	assert.True(t, isQuit(cmd), "q should quit")
	assert.Equal(t, 1, f.stops)
}
