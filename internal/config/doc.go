// Package config provides user settings management for akka-discovery.
//
// This package manages a YAML settings file that stores the Akka server the
// client should talk to, the table identifier, discovery preferences, and the
// outcome of the last successful discovery. The file follows OS-specific
// conventions for its location.
//
// # Settings File Location
//
// The settings file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/akka/config.yaml or $HOME/.config/akka/config.yaml
//   - macOS: $HOME/.config/akka/config.yaml
//   - Windows: %LOCALAPPDATA%\akka\config.yaml
//
// Setting AKKA_CONFIG_DIR overrides the directory on every platform.
//
// # Usage Example
//
//	settings, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store a discovered server
//	settings.RecordDiscovery("192.168.1.50", 37020, "ready", time.Now())
//
//	// Save changes atomically
//	if err := settings.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// File operations are protected by a mutex so that concurrent saves within
// one process never interleave. Settings values themselves are not safe for
// concurrent mutation.
package config
