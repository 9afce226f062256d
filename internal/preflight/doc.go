// Package preflight resolves and validates the paths a defacing run depends
// on before any registration work starts.
//
// ResolveInputs picks the template and facemask (explicit overrides, then
// configuration, then the bundled data directory) and ResolveOutput derives
// the output path and enforces the overwrite policy. Failures are reported as
// configuration errors so the CLI exits before any artifact is created.
//
// RunAll and CheckSystemDeps back the "deface status" command.
package preflight
