// Package logging provides structured logging for the Akka discovery tools.
//
// This package wraps a global zap logger with convenience functions. It is
// silent by default so that the CLI only prints what the user asked for;
// set AKKA_LOG_LEVEL (or pass --log-level) to enable output on stderr.
//
// # Log Levels
//
//   - Debug: datagram hex/ASCII dumps, discarded payloads, skipped attempts
//   - Info: session start/stop, cycle transitions, server found
//   - Warn: send failures, unexpected read errors
//   - Error: socket initialization failures
//
// # Usage
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	l := logging.Named("discovery")
//	logging.LogDatagram(l, "received", addr.String(), payload)
//
// Components accept a *zap.Logger so tests can inject zaptest loggers; when
// none is given they fall back to Named on the global logger.
package logging
