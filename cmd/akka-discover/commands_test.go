package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/projectakka/akka-discovery/internal/config"
	"github.com/projectakka/akka-discovery/internal/discovery"
	"github.com/projectakka/akka-discovery/internal/logging"
)

func TestPrintServer(t *testing.T) {
	server := discovery.DiscoveredServer{IP: "192.168.1.50", Port: 8080, Status: "ready"}

	var buf bytes.Buffer
	require.NoError(t, printServer(&buf, server, true))
	var out serverOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), "output is not JSON: %q", buf.String())
	assert.Equal(t, "http://192.168.1.50:8080", out.BaseURL)
	assert.Equal(t, "ready", out.Status)

	buf.Reset()
	require.NoError(t, printServer(&buf, server, false))
	assert.Contains(t, buf.String(), "192.168.1.50:8080")
}

func TestDiscoveryPort(t *testing.T) {
	defer func() { udpPort = 0 }()

	settings := config.NewSettings()
	assert.Equal(t, discovery.DefaultPort, discoveryPort(settings))

	settings.Discovery.Port = 40000
	assert.Equal(t, 40000, discoveryPort(settings), "settings port")

	udpPort = 41000
	assert.Equal(t, 41000, discoveryPort(settings), "flag port")
}

func TestSaveServer(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.ConfigDirEnvVar, dir)
	defer func() { noSave = false }()

	server := discovery.DiscoveredServer{IP: "192.168.1.50", Port: 37020}

	noSave = true
	settings := config.NewSettings()
	require.NoError(t, saveServer(&bytes.Buffer{}, settings, server))
	assert.False(t, settings.HasValidServer(), "--no-save must not touch the settings")

	noSave = false
	var out bytes.Buffer
	require.NoError(t, saveServer(&out, settings, server))
	assert.Contains(t, out.String(), filepath.Join(dir, "config.yaml"))

	loaded, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.50:37020", loaded.BaseURL())
}

func TestPrintProgress(t *testing.T) {
	updates := make(chan discovery.Status, 4)
	updates <- discovery.Status{State: discovery.StateBroadcasting, Retry: 1}
	updates <- discovery.Status{State: discovery.StateBroadcasting, Retry: 1}
	updates <- discovery.Status{State: discovery.StateCoolingDown, Cycle: 1, InterfaceAvailable: true}
	close(updates)

	var buf bytes.Buffer
	printProgress(&buf, updates, discovery.DefaultParams())

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "probe 1/6"), "duplicate statuses should print once: %q", out)
	assert.Contains(t, out, "no usable network interface")
	assert.Contains(t, out, "waiting 30s")
}

func TestPrintTroubleshooting(t *testing.T) {
	var buf bytes.Buffer
	printTroubleshooting(&buf, discovery.DefaultParams(), 40000)

	out := buf.String()
	assert.Contains(t, out, "after 60 probes")
	assert.Contains(t, out, "Allow UDP port 40000")
	assert.NotContains(t, out, "37020")
}

func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, &stdout, &stderr
}

func TestRunRoot_AutoDiscoverDisabled(t *testing.T) {
	t.Setenv(config.ConfigDirEnvVar, t.TempDir())

	settings := config.NewSettings()
	require.NoError(t, settings.SetServer("192.168.1.50", 8080))
	settings.Discovery.AutoDiscover = false
	require.NoError(t, settings.Save())

	core, logs := observer.New(zapcore.InfoLevel)
	restore := logging.ReplaceLogger(zap.New(core))
	defer restore()

	cmd, stdout, stderr := newTestCommand()
	require.NoError(t, runRoot(cmd, nil))

	assert.Contains(t, stdout.String(), "192.168.1.50:8080")
	assert.Contains(t, stdout.String(), "http://192.168.1.50:8080")
	assert.Contains(t, stderr.String(), "akka-discover discover")
	assert.Equal(t, 1, logs.FilterMessage("Auto-discovery disabled, using configured server").Len())
}
