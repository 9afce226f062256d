// Package fileutil holds small filesystem helpers shared by the volume writer
// and the run workspace.
package fileutil
