package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/projectakka/akka-discovery/internal/config"
	"github.com/projectakka/akka-discovery/internal/discovery"
	"github.com/projectakka/akka-discovery/internal/logging"
	"github.com/projectakka/akka-discovery/internal/tui"
)

// Command flags
var (
	jsonOutput      bool
	discoverTimeout time.Duration

	advertiseIP  string
	servicePort  int
	serverStatus string
	enableMDNS   bool
	instanceName string
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(respondCmd)
	rootCmd.AddCommand(configCmd)
}

// discoverCmd runs discovery with plain progress output
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the Akka server on the local network",
	Long: `Broadcast discovery probes until an Akka server answers or the schedule
is exhausted (10 cycles of 6 probes, about 7 minutes).

Progress is written to stderr; the discovered server is written to stdout.
Unless --no-save is given, the server is stored in the settings file.`,
	Example: `  # Discover and store the server
  akka-discover discover

  # Machine-readable result, leave the settings untouched
  akka-discover discover --json --no-save

  # Give up after one minute
  akka-discover discover --timeout 1m`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the discovered server as JSON")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "Give up after this long (0 = full schedule)")
}

// runRoot picks the front end for a plain launch
func runRoot(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	if !settings.ShouldAutoDiscover() {
		logging.Info("Auto-discovery disabled, using configured server", zap.String("base_url", settings.BaseURL()))
		printConfiguredServer(cmd.OutOrStdout(), settings)
		fmt.Fprintln(cmd.ErrOrStderr(), "Run 'akka-discover discover' to search the network anyway")
		return nil
	}

	if tui.IsTerminal() {
		return interactive(cmd, settings)
	}
	return discover(cmd, settings)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	return discover(cmd, settings)
}

func discover(cmd *cobra.Command, settings *config.Settings) error {
	port := discoveryPort(settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if discoverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, discoverTimeout)
		defer cancel()
	}

	params := discovery.DefaultParams()
	ctl := discovery.NewController(discovery.Config{
		Port:   port,
		Params: params,
	})

	updates, unsubscribe := ctl.Subscribe()
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		printProgress(cmd.ErrOrStderr(), updates, params)
	}()

	logging.Info("Discovery started", zap.Int("port", port), zap.Duration("timeout", discoverTimeout))
	fmt.Fprintf(cmd.ErrOrStderr(), "Searching for Akka server on UDP port %d...\n", port)
	server, err := ctl.Discover(ctx)
	unsubscribe()
	<-progressDone

	if err != nil {
		logging.Warn("Discovery finished without a server", zap.Error(err))
		switch {
		case errors.Is(err, discovery.ErrDiscoveryExhausted):
			printTroubleshooting(cmd.ErrOrStderr(), params, port)
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("no Akka server found within %s", discoverTimeout)
		case errors.Is(err, context.Canceled):
			err = errors.New("discovery interrupted")
		}
		return err
	}

	logging.Info("Discovery finished", zap.Stringer("server", server))
	if err := printServer(cmd.OutOrStdout(), server, jsonOutput); err != nil {
		return err
	}
	return saveServer(cmd.ErrOrStderr(), settings, server)
}

// interactive launches the discovery screen
func interactive(cmd *cobra.Command, settings *config.Settings) error {
	port := discoveryPort(settings)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := discovery.DefaultParams()
	ctl := discovery.NewController(discovery.Config{
		Port:   port,
		Params: params,
	})
	defer ctl.Stop()

	logging.Debug("Launching discovery screen", zap.Int("port", port))
	model := tui.NewDiscoveryModel(ctx, ctl, params, port)
	final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("discovery screen error: %w", err)
	}

	dm, ok := final.(tui.DiscoveryModel)
	if !ok {
		return nil
	}
	server, ok := dm.Result()
	if !ok {
		return nil
	}

	if err := printServer(cmd.OutOrStdout(), server, false); err != nil {
		return err
	}
	if dm.Manual {
		if noSave {
			return nil
		}
		if err := settings.SetServer(server.IP, server.Port); err != nil {
			return err
		}
		return writeSettings(cmd.ErrOrStderr(), settings)
	}
	return saveServer(cmd.ErrOrStderr(), settings, server)
}

func discoveryPort(settings *config.Settings) int {
	if udpPort != 0 {
		return udpPort
	}
	if settings.Discovery != nil && settings.Discovery.Port != 0 {
		return settings.Discovery.Port
	}
	return discovery.DefaultPort
}

// printProgress reports state changes until updates is closed
func printProgress(w io.Writer, updates <-chan discovery.Status, params discovery.Params) {
	var last discovery.Status
	warnedIface := false
	for st := range updates {
		if st.State == last.State && st.Cycle == last.Cycle && st.Retry == last.Retry {
			continue
		}
		last = st

		switch st.State {
		case discovery.StateBroadcasting:
			fmt.Fprintf(w, "  cycle %d/%d, probe %d/%d\n", st.Cycle+1, params.MaxCycles, st.Retry, params.RetriesPerCycle)
			if !st.InterfaceAvailable && !warnedIface {
				fmt.Fprintln(w, "  ⚠ no usable network interface, probes are skipped")
				warnedIface = true
			}
			if st.InterfaceAvailable {
				warnedIface = false
			}
		case discovery.StateCoolingDown:
			fmt.Fprintf(w, "  no answer, waiting %s before the next cycle\n", params.Cooldown)
		}
	}
}

func printTroubleshooting(w io.Writer, params discovery.Params, port int) {
	fmt.Fprintf(w, "No Akka server answered after %d probes.\n", params.TotalAttempts())
	fmt.Fprintln(w, "\nTroubleshooting:")
	fmt.Fprintln(w, "  - Ensure the Akka server is running")
	fmt.Fprintln(w, "  - Check that this machine is on the same network as the server")
	fmt.Fprintf(w, "  - Allow UDP port %d through any firewall\n", port)
	fmt.Fprintln(w, "  - Guest or isolated Wi-Fi networks often block broadcast traffic")
	fmt.Fprintln(w, "  - Use 'akka-discover config set-server <ip[:port]>' to configure it manually")
}

func printConfiguredServer(w io.Writer, settings *config.Settings) {
	fmt.Fprintf(w, "✓ Using configured Akka server at %s\n", net.JoinHostPort(settings.Server.IP, strconv.Itoa(settings.Server.Port)))
	fmt.Fprintf(w, "  API:    %s\n", settings.BaseURL())
}

type serverOutput struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Status  string `json:"status,omitempty"`
	BaseURL string `json:"base_url"`
}

func printServer(w io.Writer, server discovery.DiscoveredServer, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(serverOutput{
			IP:      server.IP,
			Port:    server.Port,
			Status:  server.Status,
			BaseURL: server.BaseURL(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "✓ Found Akka server at %s\n", server.Address())
	if server.Status != "" {
		fmt.Fprintf(w, "  Status: %s\n", server.Status)
	}
	fmt.Fprintf(w, "  API:    %s\n", server.BaseURL())
	return nil
}

// saveServer records a discovered server unless --no-save is set
func saveServer(w io.Writer, settings *config.Settings, server discovery.DiscoveredServer) error {
	if noSave {
		return nil
	}
	settings.RecordDiscovery(server.IP, server.Port, server.Status, time.Now())
	return writeSettings(w, settings)
}

func writeSettings(w io.Writer, settings *config.Settings) error {
	if err := settings.Save(); err != nil {
		logging.Error("Failed to save settings", zap.Error(err))
		return fmt.Errorf("failed to save settings: %w", err)
	}
	if path, err := config.GetConfigPath(); err == nil {
		fmt.Fprintf(w, "Saved to %s\n", path)
	}
	return nil
}

// respondCmd answers discovery probes
var respondCmd = &cobra.Command{
	Use:   "respond",
	Short: "Answer discovery probes as an Akka server would",
	Long: `Listen for discovery probes and answer each one with this machine's
address. Use it to test discovery on a network, or run it next to an Akka
server that does not implement discovery itself.

The advertised IP defaults to the local address that routes toward the
prober. With --mdns the responder is also registered as ` + discovery.MDNSService + ` over mDNS.`,
	Example: `  # Answer with the default port and status "ready"
  akka-discover respond

  # Advertise a fixed address for the server API on port 8080
  akka-discover respond --advertise-ip 192.168.1.50 --service-port 8080

  # Also advertise over mDNS
  akka-discover respond --mdns --name "Living Room Akka"`,
	RunE: runRespond,
}

func init() {
	respondCmd.Flags().StringVar(&advertiseIP, "advertise-ip", "", "IPv4 address to advertise (default: routed local address)")
	respondCmd.Flags().IntVar(&servicePort, "service-port", discovery.DefaultPort, "Server API port to advertise")
	respondCmd.Flags().StringVar(&serverStatus, "status", "ready", "Status string to include in responses (empty to omit)")
	respondCmd.Flags().BoolVar(&enableMDNS, "mdns", false, "Also register an mDNS service")
	respondCmd.Flags().StringVar(&instanceName, "name", discovery.DefaultInstanceName, "mDNS instance name")
}

func runRespond(cmd *cobra.Command, args []string) error {
	if logLevel == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
		// A responder is a long-running service; show what it does
		if err := logging.Initialize("info"); err != nil {
			return err
		}
	}

	port := udpPort
	if port == 0 {
		port = discovery.DefaultPort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	responder := discovery.NewResponder(discovery.ResponderConfig{
		Port:         port,
		AdvertiseIP:  advertiseIP,
		ServicePort:  servicePort,
		Status:       serverStatus,
		MDNS:         enableMDNS,
		InstanceName: instanceName,
	})

	logging.Info("Starting responder",
		zap.Int("port", port),
		zap.String("advertise_ip", advertiseIP),
		zap.Int("service_port", servicePort),
		zap.Bool("mdns", enableMDNS))
	fmt.Fprintf(cmd.ErrOrStderr(), "Answering discovery probes on UDP port %d (Ctrl+C to stop)\n", port)
	if err := responder.Serve(ctx); err != nil {
		logging.Error("Responder stopped", zap.Error(err))
		return err
	}
	logging.Info("Responder stopped")
	return nil
}

// configCmd groups settings commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the settings file",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configSetServerCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		if settings.HasValidServer() {
			fmt.Fprintf(cmd.OutOrStdout(), "# base url: %s\n", settings.BaseURL())
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.GetConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Settings reset to defaults")
		return nil
	},
}

var configSetServerCmd = &cobra.Command{
	Use:   "set-server <ip[:port]>",
	Short: "Configure the Akka server manually",
	Example: `  akka-discover config set-server 192.168.1.50
  akka-discover config set-server 192.168.1.50:8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		ip, port, err := config.ParseServerAddr(args[0], config.DefaultServerPort)
		if err != nil {
			return err
		}
		if err := settings.SetServer(ip, port); err != nil {
			return err
		}
		if err := writeSettings(cmd.ErrOrStderr(), settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server set to %s\n", settings.BaseURL())
		return nil
	},
}
