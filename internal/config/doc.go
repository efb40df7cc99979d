// Package config loads, normalizes, and validates vodpipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file, and honours
// environment fallbacks for backend credentials. The Config type centralizes
// every knob the daemon and CLI need so staging/storage directories, backend
// selection, and transcoder limits are discovered in one pass.
package config
