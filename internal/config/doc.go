// Package config loads, normalizes, and validates defacer configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DEFACE_DATA_DIR and FSLDIR. The Config type centralizes every knob the CLI
// and pipeline need: where default template assets live, which FLIRT binary
// and cost function to use, how outputs are named, and where run state is kept.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical enum values, and clear validation errors.
package config
