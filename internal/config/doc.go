// Package config loads, validates, and defaults the TOML configuration that
// drives the daemon, pipeline, and CLI.
//
// Load resolves an explicit path, ~/.config/snag/config.toml, or a
// project-local snag.toml, in that order, then expands home-relative paths
// and enforces invariants. CreateSample writes the embedded annotated sample
// for `snag config init`.
package config
