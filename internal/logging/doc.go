// Package logging configures log/slog for wsb.
//
// Without --debug the CLI logs human-readable text to stderr at the configured
// level. With --debug, JSON records are additionally written to a size-rotated
// file under ~/.wsb/logs/ for troubleshooting long cache runs.
package logging
