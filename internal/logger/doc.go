// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Every distroget component takes a context and logs through the logger it
// carries, so a run, a worker or a distribution check can be tagged once and
// every message below it inherits the tags.
package logger
