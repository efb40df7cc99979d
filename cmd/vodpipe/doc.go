// Package main hosts the vodpipe CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon (serve), inspects sources
// locally (probe, plan), checks the host (check), talks to a running daemon
// over its HTTP API (status, cancel, metrics) and scaffolds configuration.
// Configuration resolution and the daemon client live in commandContext so
// subcommands stay declarative.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through a command or flag here.
package main
