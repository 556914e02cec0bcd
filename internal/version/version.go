// Package version carries the application version stamped into bundles and
// reported by the CLI. Overridden at build time via
// -ldflags "-X .../internal/version.Version=...".
package version

// Version is the navigator release identifier.
var Version = "0.9.0-dev"
