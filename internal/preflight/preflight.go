package preflight

import (
	"deface/internal/config"
	"deface/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the filesystem checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Temporary directory", cfg.TempRoot()))
	results = append(results, CheckReadable("Template", cfg.TemplatePath()))
	results = append(results, CheckReadable("Facemask", cfg.FacemaskPath()))
	return results
}

// CheckSystemDeps evaluates the external binaries defacing requires. Both the
// status command and the defacing command use it so the requirement list
// lives in one place.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return []deps.Status{deps.CheckFLIRT(cfg.FlirtBinary())}
}
