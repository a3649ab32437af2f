// Package config loads the hub configuration: a JSON file with defaults
// resolved relative to its directory, overlaid by environment variables for
// secrets and deployment-specific endpoints.
package config
