// Package logx configures boilbot's structured logging.
//
// A small value wrapper (logx.Logger) over zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink (min-level + rate limiting) so kitchen leads see failures
package logx
