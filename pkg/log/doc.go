/*
Package log provides structured logging for Hutch using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Hutch's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("acme")                    │          │
	│  │  - WithHost("a.example.com")                │          │
	│  │  - WithDomain("a.example.com/27")           │          │
	│  │  - WithVersion("a.example.com/27", 3)       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "acme",                     │          │
	│  │    "host": "a.example.com",                 │          │
	│  │    "time": "2026-03-02T10:30:00Z",         │          │
	│  │    "message": "certificate installed"       │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF certificate installed component=acme │    │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Hutch packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithHost: Add the virtual host being served or renewed
  - WithDomain: Add the "<host>[/<prefix>]" domain key
  - WithVersion: Add domain key plus version number

# Usage

Initializing the Logger:

	import "github.com/cuemby/hutch/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("server started")
	log.Warn("certificate expires in 3 days")
	log.Error("snapshot build failed")
	log.Fatal("cannot bind admin port") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("domain", "a.example.com/27").
		Int64("version", 3).
		Msg("version activated")

	log.Logger.Error().
		Err(err).
		Str("host", "a.example.com").
		Msg("order finalize failed")

Component Loggers:

	acmeLog := log.WithComponent("acme")
	acmeLog.Info().Msg("renewal pass starting")

	uploadLog := log.WithVersion("a.example.com/27", 3)
	uploadLog.Debug().Str("path", "js/app.js").Msg("file written")

# Integration Points

This package integrates with:

  - pkg/storage: Logs boot scans, activations, and deletions
  - pkg/cache: Logs snapshot builds and publications
  - pkg/server: Emits structured access logs per request
  - pkg/acme: Logs order progress and renewal outcomes
  - pkg/admin: Logs authenticated management operations
  - pkg/daemon: Logs lifecycle, reloads, and shutdowns

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to components at construction
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (host, domain, version)

Don't:
  - Log admin tokens or ACME account keys
  - Use Debug level in production
  - Log per file in snapshot build loops (log totals)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
