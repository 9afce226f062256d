package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deface/internal/config"
	"deface/internal/nifti"
	"deface/internal/services"
)

// Assets holds the resolved template and facemask paths.
type Assets struct {
	Template string
	Facemask string
}

// ResolveInputs chooses the template and facemask for a run. Overrides win
// over configuration. Every returned path exists and is readable.
func ResolveInputs(cfg *config.Config, templateOverride, facemaskOverride string) (Assets, error) {
	template, err := pickAsset(templateOverride, cfg.TemplatePath())
	if err != nil {
		return Assets{}, services.Wrap(services.ErrConfiguration, "preflight", "resolve template", "", err)
	}
	facemask, err := pickAsset(facemaskOverride, cfg.FacemaskPath())
	if err != nil {
		return Assets{}, services.Wrap(services.ErrConfiguration, "preflight", "resolve facemask", "", err)
	}
	if result := CheckReadable("Template", template); !result.Passed {
		return Assets{}, assetError("template", result)
	}
	if result := CheckReadable("Facemask", facemask); !result.Passed {
		return Assets{}, assetError("facemask", result)
	}
	return Assets{Template: template, Facemask: facemask}, nil
}

// CheckInput verifies the image can be read and starts with a supported
// NIfTI-1 header. Only the header is decoded.
func CheckInput(path string) error {
	if result := CheckReadable("Input", path); !result.Passed {
		return services.Wrap(services.ErrConfiguration, "preflight", "check input", result.Detail, os.ErrNotExist)
	}
	if _, err := nifti.ReadHeader(path); err != nil {
		return services.Wrap(services.ErrConfiguration, "preflight", "check input", "not a readable NIfTI-1 image", err)
	}
	return nil
}

// DefaultOutput inserts suffix before the .nii or .nii.gz extension of input.
// Inputs without a NIfTI extension get suffix plus ".nii.gz" appended.
func DefaultOutput(input, suffix string) string {
	dir, base := filepath.Split(input)
	stem, ext := splitNiftiExt(base)
	if ext == "" {
		ext = ".nii.gz"
	}
	return filepath.Join(dir, stem+suffix+ext)
}

// ResolveOutput returns the output path for input. An empty override selects
// DefaultOutput. An existing file is only accepted when force is set.
func ResolveOutput(input, override, suffix string, force bool) (string, error) {
	output := strings.TrimSpace(override)
	if output == "" {
		output = DefaultOutput(input, suffix)
	} else {
		expanded, err := config.ExpandPath(output)
		if err != nil {
			return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output", "", err)
		}
		output = expanded
	}
	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}
	if inAbs, err := filepath.Abs(input); err == nil && inAbs == output {
		return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output",
			fmt.Sprintf("%s would overwrite the input image", output), nil)
	}

	info, err := os.Stat(output)
	switch {
	case err == nil && info.IsDir():
		return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output",
			fmt.Sprintf("%s is a directory", output), nil)
	case err == nil && !force:
		return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output",
			fmt.Sprintf("%s already exists, remove it first or use --force", output), os.ErrExist)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output", "", err)
	}

	if result := checkWritableDir("Output directory", filepath.Dir(output)); !result.Passed {
		return "", services.Wrap(services.ErrConfiguration, "preflight", "resolve output", result.Detail, nil)
	}
	return output, nil
}

func pickAsset(override, configured string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return config.ExpandPath(override)
	}
	if configured == "" {
		return "", errors.New("no path configured")
	}
	return configured, nil
}

func assetError(name string, result Result) error {
	return services.Wrap(services.ErrConfiguration, "preflight", "resolve "+name, result.Detail, os.ErrNotExist)
}

func splitNiftiExt(base string) (string, string) {
	lower := strings.ToLower(base)
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(lower, ext) {
			cut := len(base) - len(ext)
			return base[:cut], base[cut:]
		}
	}
	return base, ""
}
