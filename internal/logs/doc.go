// Package logs reads the daemon log file for the CLI.
//
// Tail returns the last N lines or everything past a byte offset, optionally
// waiting for new lines, and can narrow output to one upload. Memory use is
// bounded by the requested line count.
package logs
