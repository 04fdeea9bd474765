// Package logging configures log/slog for pgwsearch: JSON records written
// to a size-rotated file under ~/.pgwsearch/logs/ and, for interactive
// commands, to stderr as well.
//
// `pgwsearch serve` speaks MCP over stdout, so it logs to the file only.
package logging
