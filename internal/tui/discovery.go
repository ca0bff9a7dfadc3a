package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/projectakka/akka-discovery/internal/config"
	"github.com/projectakka/akka-discovery/internal/discovery"
)

// Discoverer runs discovery sessions. *discovery.Controller implements it.
type Discoverer interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe() (<-chan discovery.Status, func())
}

// Messages for async operations
type discoveryStartedMsg struct {
	err error
}

type statusMsg discovery.Status

type statusClosedMsg struct{}

// searchingKeyMap defines key bindings while discovery runs
type searchingKeyMap struct {
	Manual key.Binding
	Quit   key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k searchingKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k searchingKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Manual, k.Quit}}
}

// resultKeyMap defines key bindings once discovery has ended
type resultKeyMap struct {
	Accept key.Binding
	Rescan key.Binding
	Manual key.Binding
	Quit   key.Binding

	found bool
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k resultKeyMap) ShortHelp() []key.Binding {
	if k.found {
		return []key.Binding{k.Accept, k.Rescan, k.Quit}
	}
	return []key.Binding{k.Rescan, k.Manual, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k resultKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

// manualModeKeyMap defines key bindings for manual IP entry mode
type manualModeKeyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (m manualModeKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{m.Confirm, m.Cancel}
}

// FullHelp returns keybindings for the expanded help view
func (m manualModeKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{m.Confirm, m.Cancel}}
}

// DiscoveryModel is the discovery screen. It starts a session on Init and
// renders the controller's status updates until a server is found, the
// schedule is exhausted, or the user enters a server manually.
type DiscoveryModel struct {
	ctx         context.Context
	ctl         Discoverer
	params      discovery.Params
	port        int
	updates     <-chan discovery.Status
	unsubscribe func()

	// Discovery state
	Status     discovery.Status
	minSession uint64 // statuses of older sessions are ignored
	Err        error
	Server     *discovery.DiscoveredServer
	Manual     bool // Server was entered by hand
	Accepted   bool

	// Manual entry state
	ManualMode bool
	IPInput    textinput.Model
	ManualErr  error

	// UI state
	Width       int
	Height      int
	StartTime   time.Time
	Spinner     spinner.Model
	ProgressBar progress.Model
	Help        help.Model
	Keys        searchingKeyMap
	ResultKeys  resultKeyMap
	ManualKeys  manualModeKeyMap
}

// NewDiscoveryModel creates the discovery screen. params and port must match
// the controller's configuration; they are only used for display. A zero
// port means discovery.DefaultPort.
func NewDiscoveryModel(ctx context.Context, ctl Discoverer, params discovery.Params, port int) DiscoveryModel {
	if port == 0 {
		port = discovery.DefaultPort
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ipInput := textinput.New()
	ipInput.Placeholder = "192.168.1.100:37020"
	ipInput.CharLimit = 21 // IPv4 address plus ":port"
	ipInput.Width = 30

	progressBar := progress.New(progress.WithDefaultGradient())
	progressBar.Width = 40

	keys := searchingKeyMap{
		Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "manual IP")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
	resultKeys := resultKeyMap{
		Accept: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "use server")),
		Rescan: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "rescan")),
		Manual: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "manual IP")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
	manualKeys := manualModeKeyMap{
		Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}

	// Subscribe before the first Start so no update is missed
	updates, unsubscribe := ctl.Subscribe()

	return DiscoveryModel{
		ctx:         ctx,
		ctl:         ctl,
		params:      params,
		port:        port,
		updates:     updates,
		unsubscribe: unsubscribe,
		IPInput:     ipInput,
		Spinner:     s,
		ProgressBar: progressBar,
		Help:        help.New(),
		Keys:        keys,
		ResultKeys:  resultKeys,
		ManualKeys:  manualKeys,
	}
}

// Init starts discovery immediately
func (m DiscoveryModel) Init() tea.Cmd {
	return tea.Batch(m.startDiscovery(), m.waitForStatus(), m.Spinner.Tick)
}

func (m DiscoveryModel) startDiscovery() tea.Cmd {
	ctl, ctx := m.ctl, m.ctx
	return func() tea.Msg {
		return discoveryStartedMsg{err: ctl.Start(ctx)}
	}
}

// waitForStatus delivers the next status update
func (m DiscoveryModel) waitForStatus() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return statusClosedMsg{}
		}
		return statusMsg(st)
	}
}

// Update handles messages and updates the model
func (m DiscoveryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.ManualMode {
			return m.updateManualMode(msg)
		}
		return m.updateNormalMode(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case discoveryStartedMsg:
		m.Err = msg.err
		if msg.err == nil {
			m.StartTime = time.Now()
		}

	case statusMsg:
		st := discovery.Status(msg)
		if st.Session >= m.minSession && m.Server == nil {
			m.Status = st
			if st.State == discovery.StateFound && st.Server != nil {
				server := *st.Server
				m.Server = &server
			}
		}
		return m, m.waitForStatus()

	case statusClosedMsg:
		return m, nil

	case spinner.TickMsg:
		if !m.searching() {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// updateNormalMode handles keyboard input outside manual entry
func (m DiscoveryModel) updateNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return m.quit()

	case "enter":
		if m.Server != nil {
			m.Accepted = true
			return m.quit()
		}

	case "r":
		if m.searching() {
			return m, nil
		}
		return m.rescan()

	case "m":
		if m.Server != nil {
			return m, nil
		}
		m.ManualMode = true
		m.ManualErr = nil
		m.IPInput.SetValue("")
		m.IPInput.Focus()
		return m, textinput.Blink
	}

	return m, nil
}

// updateManualMode handles keyboard input in manual IP entry mode
func (m DiscoveryModel) updateManualMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.ManualMode = false
		m.ManualErr = nil
		m.IPInput.SetValue("")
		m.IPInput.Blur()
		return m, nil

	case "enter":
		ip, port, err := config.ParseServerAddr(m.IPInput.Value(), config.DefaultServerPort)
		if err != nil {
			m.ManualErr = err
			return m, nil
		}
		m.ctl.Stop()
		m.Server = &discovery.DiscoveredServer{IP: ip, Port: port}
		m.Manual = true
		m.Accepted = true
		m.ManualMode = false
		m.IPInput.Blur()
		return m.quit()
	}

	var cmd tea.Cmd
	m.IPInput, cmd = m.IPInput.Update(msg)
	m.ManualErr = nil
	return m, cmd
}

func (m DiscoveryModel) rescan() (tea.Model, tea.Cmd) {
	m.minSession = m.Status.Session + 1
	m.Status = discovery.Status{}
	m.Server = nil
	m.Manual = false
	m.Err = nil
	return m, tea.Batch(m.startDiscovery(), m.Spinner.Tick)
}

func (m DiscoveryModel) quit() (tea.Model, tea.Cmd) {
	m.ctl.Stop()
	m.unsubscribe()
	return m, tea.Quit
}

// searching reports whether a session is (about to be) running
func (m DiscoveryModel) searching() bool {
	if m.Err != nil || m.Server != nil {
		return false
	}
	return !m.Status.State.Terminal()
}

// Result returns the accepted server, if the user accepted one.
func (m DiscoveryModel) Result() (discovery.DiscoveredServer, bool) {
	if !m.Accepted || m.Server == nil {
		return discovery.DiscoveredServer{}, false
	}
	return *m.Server, true
}

// Progress returns the fraction of scheduled attempts already made.
func (m DiscoveryModel) Progress() float64 {
	if m.Server != nil || m.Status.State == discovery.StateExhausted {
		return 1
	}
	total := m.params.TotalAttempts()
	if total == 0 {
		return 0
	}
	done := m.Status.Cycle*m.params.RetriesPerCycle + m.Status.Retry
	return min(1, float64(done)/float64(total))
}

// View renders the discovery screen
func (m DiscoveryModel) View() string {
	width := m.Width
	if width == 0 {
		width = MinTerminalWidth
	}

	var content, helpText string
	switch {
	case m.ManualMode:
		content = m.renderManualEntry()
		helpText = m.Help.View(m.ManualKeys)
	case m.Server != nil:
		content = m.renderFound()
		keys := m.ResultKeys
		keys.found = true
		helpText = m.Help.View(keys)
	case m.Err != nil || m.Status.State == discovery.StateExhausted:
		content = m.renderNotFound()
		helpText = m.Help.View(m.ResultKeys)
	default:
		content = m.renderSearching(width)
		helpText = m.Help.View(m.Keys)
	}

	return RenderApplicationContainer(content, helpText, m.Width, m.Height)
}

// renderSearching renders the centered progress display
func (m DiscoveryModel) renderSearching(width int) string {
	title := fmt.Sprintf("%s SEARCHING FOR AKKA SERVER", m.Spinner.View())

	cycle := min(m.Status.Cycle+1, m.params.MaxCycles)
	attempt := m.Status.Retry
	phase := fmt.Sprintf("Cycle %d/%d · Attempt %d/%d", cycle, m.params.MaxCycles, attempt, m.params.RetriesPerCycle)
	if m.Status.State == discovery.StateCoolingDown {
		phase = fmt.Sprintf("Cycle %d/%d done · waiting %s before next cycle",
			m.Status.Cycle, m.params.MaxCycles, m.params.Cooldown)
	}

	elapsed := "Elapsed: 0s"
	if !m.StartTime.IsZero() {
		elapsed = fmt.Sprintf("Elapsed: %s", time.Since(m.StartTime).Round(time.Second))
	}

	lines := []string{
		"",
		TitleStyle.Render(title),
		SubtitleStyle.Render(fmt.Sprintf("Broadcasting %q on UDP port %d...", discovery.ProbePayload, m.port)),
		"",
		m.ProgressBar.ViewAs(m.Progress()),
		"",
		SubtitleStyle.Render(phase),
		SubtitleStyle.Render(elapsed),
	}
	if m.Status.Session != 0 && !m.Status.InterfaceAvailable {
		lines = append(lines, "", WarningStyle.Render("⚠ No usable network interface; attempts are skipped until one comes up"))
	}
	lines = append(lines, "")

	return lipgloss.Place(width, 0, lipgloss.Center, lipgloss.Top, lipgloss.JoinVertical(lipgloss.Center, lines...))
}

// renderFound renders the server card
func (m DiscoveryModel) renderFound() string {
	var b strings.Builder

	heading := "✓ Akka server found"
	if m.Manual {
		heading = "✓ Server entered manually"
	}

	b.WriteString(lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true).Render(heading))
	b.WriteString("\n\n")
	b.WriteString(LabelStyle.Render("Address") + ValueStyle.Render(m.Server.Address()) + "\n")
	b.WriteString(LabelStyle.Render("API") + ValueStyle.Render(m.Server.BaseURL()))
	if m.Server.Status != "" {
		b.WriteString("\n" + LabelStyle.Render("Status") + ValueStyle.Render(m.Server.Status))
	}

	return "\n" + CardStyle.Render(b.String()) + "\n"
}

// renderNotFound renders the exhausted or failed screen with troubleshooting hints
func (m DiscoveryModel) renderNotFound() string {
	var b strings.Builder
	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(RenderError(fmt.Sprintf("Discovery failed: %v", m.Err)))
	} else {
		b.WriteString("  ")
		b.WriteString(WarningStyle.Render(fmt.Sprintf("⚠ No Akka server answered after %d attempts", m.params.TotalAttempts())))
	}
	b.WriteString("\n\n")

	b.WriteString("  Troubleshooting:\n")
	b.WriteString("    • Ensure the Akka server is running\n")
	b.WriteString("    • Check that this machine is on the same network as the server\n")
	b.WriteString(fmt.Sprintf("    • Allow UDP port %d through any firewall\n", m.port))
	b.WriteString("    • Guest or isolated Wi-Fi networks often block broadcast traffic\n")
	b.WriteString("    • Press 'm' to enter the server address manually\n")

	return b.String()
}

// renderManualEntry renders the manual IP entry dialog
func (m DiscoveryModel) renderManualEntry() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(RenderSubtitle("Enter the Akka server address (ip or ip:port)"))
	b.WriteString("\n\n")
	b.WriteString("  Server: ")
	b.WriteString(m.IPInput.View())
	b.WriteString("\n")
	if m.ManualErr != nil {
		b.WriteString("\n  " + lipgloss.NewStyle().Foreground(ErrorColor).Render(m.ManualErr.Error()) + "\n")
	}

	return b.String()
}
