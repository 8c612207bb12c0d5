// Package logx configures psarbot's structured logging.
//
// logx.Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON
//   - An optional Telegram sink forwards warnings to a log group (min-level + rate limit)
//   - Registered secrets (the bot token) are scrubbed from every output
package logx
