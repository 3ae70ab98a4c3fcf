// Package log provides structured protocol logging for betanet connections.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at each layer (transport, handshake, channel).
// It is separate from operational logging (slog) - protocol capture provides
// a machine-readable trace of frames and state transitions for debugging.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For analysis: write to binary file
//	fileLogger, _ := log.NewFileLogger("/var/log/betanet/responder.blog",
//	    log.WithProtocol(handshake.ProtocolName))
//	cfg.ProtocolLogger = fileLogger
//
//	// Both: Tee skips nil sinks
//	cfg.ProtocolLogger = log.Tee(log.NewSlogAdapter(slog.Default()), fileLogger)
//
// # Event Types
//
//   - Transport: frame sizes (FrameEvent)
//   - Handshake: state machine transitions (StateChangeEvent)
//   - Channel: encrypted message sizes and failures
//
// Key material and decrypted payloads are never captured. Frame data is
// captured only as the bytes that crossed the wire.
//
// # File Format
//
// Log files are a FileHeader record inside the self-described CBOR tag
// (so files begin d9 d9 f7) followed by a stream of CBOR-encoded events,
// conventionally with the .blog extension.
// "betanet log view" prints them with optional filters.
package log
