package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckFLIRT reports whether the FLIRT binary used for registration can be
// executed. When FSLDIR is set the installed FSL version is recorded in the
// status detail.
func CheckFLIRT(flirtCommand string) Status {
	status := checkBinary(Requirement{
		Name:        "FSL FLIRT",
		Command:     flirtCommand,
		Description: "Required for template registration",
	})
	if !status.Available {
		if strings.TrimSpace(os.Getenv("FSLDIR")) == "" {
			status.Detail += "; FSLDIR is not set"
		}
		return status
	}
	if version := FSLVersion(); version != "" {
		status.Detail = fmt.Sprintf("FSL %s", version)
	}
	return status
}

// FSLVersion returns the version string recorded in $FSLDIR/etc/fslversion.
func FSLVersion() string {
	fslDir := strings.TrimSpace(os.Getenv("FSLDIR"))
	if fslDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(fslDir, "etc", "fslversion"))
	if err != nil {
		return ""
	}
	version, _, _ := strings.Cut(strings.TrimSpace(string(data)), ":")
	return strings.TrimSpace(version)
}
