// Package main hosts the deface CLI entrypoint and command graph.
//
// The root command defaces one image and optionally applies the same warped
// mask to companion images. Subcommands report environment status, list the
// run history and scaffold configuration. Configuration and logging are
// resolved once in commandContext so subcommands only wire internal packages
// together.
package main
