// Package services defines shared utilities consumed by the defacing pipeline
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, pipeline step names, and the
//     image being processed for logging.
//   - Structured error markers plus the Wrap helper that classify failures into
//     configuration, external-tool, and validation errors, and ExitCode which
//     maps them to process exit statuses.
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay uniform.
package services
