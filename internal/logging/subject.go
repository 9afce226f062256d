package logging

import "strings"

// FormatSubject builds the run/step subject string used in console output.
func FormatSubject(runID, step string) string {
	runID = strings.TrimSpace(runID)
	step = strings.TrimSpace(step)
	if len(runID) > 8 {
		runID = runID[:8]
	}
	switch {
	case runID != "" && step != "":
		return "Run " + runID + " (" + step + ")"
	case runID != "":
		return "Run " + runID
	default:
		return step
	}
}
