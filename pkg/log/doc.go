// Package log provides the logging abstraction used by every enginehost
// component.
//
// Library packages depend only on the Logger interface so the host can be
// embedded with any logging backend. A zerolog adapter and a no-op logger
// are provided.
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	wd := logger.With(log.Component("watchdog"))
//	wd.Warn("engine stalled", log.Engine(3))
//
// Tests typically use:
//
//	logger := log.NewNoopLogger()
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package log
