package deface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"deface/internal/fileutil"
)

// Artifact names inside a run workspace.
const (
	templateMatrixName = "template_reg.mat"
	templateVolumeName = "template_reg.nii.gz"
	maskVolumeName     = "warped_mask.nii.gz"
	maskMatrixName     = "warped_mask.mat"
)

// workspace owns the temporary artifacts of one run.
type workspace struct {
	dir  string
	keep bool
}

func newWorkspace(root, runID string, keep bool) (*workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "deface-"+runID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create run workspace: %w", err)
	}
	return &workspace{dir: dir, keep: keep}, nil
}

func (w *workspace) templateMatrix() string { return filepath.Join(w.dir, templateMatrixName) }
func (w *workspace) templateVolume() string { return filepath.Join(w.dir, templateVolumeName) }
func (w *workspace) maskVolume() string     { return filepath.Join(w.dir, maskVolumeName) }
func (w *workspace) maskMatrix() string     { return filepath.Join(w.dir, maskMatrixName) }

// byproducts lists the artifacts nothing reads after step B.
func (w *workspace) byproducts() []string {
	return []string{w.templateVolume(), w.templateMatrix(), w.maskMatrix()}
}

// artifacts lists every file a run may create.
func (w *workspace) artifacts() []string {
	return append(w.byproducts(), w.maskVolume())
}

// releaseByproducts removes everything but the warped mask.
func (w *workspace) releaseByproducts() error {
	if w.keep {
		return nil
	}
	var errs []error
	for _, path := range w.byproducts() {
		if err := fileutil.RemoveIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discard removes the whole workspace.
func (w *workspace) discard() error {
	if w.keep {
		return nil
	}
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("remove workspace %s: %w", w.dir, err)
	}
	return nil
}
