// Package config loads the asset runtime configuration from JSON.
//
// Sizes accept binary units ("64MiB", "512k") and durations accept Go
// duration strings ("250ms"). Fields missing from the file keep their
// Default values.
package config
