package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"deface/internal/history"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("FSL FLIRT", statusError, "not found", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "FSL FLIRT:", "[ERROR] not found")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Template", statusOK, "readable", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestRenderSectionHeader(t *testing.T) {
	lines := renderSectionHeader(" Paths ", false)
	if len(lines) != 2 || lines[0] != "== Paths ==" || lines[1] != strings.Repeat("-", len("== Paths ==")) {
		t.Fatalf("unexpected header %q", lines)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestRenderHistoryTable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []history.Record{
		{
			RunID:      "0f8e2b6c-1111-2222-3333-444455556666",
			Kind:       history.KindDeface,
			Status:     history.StatusSucceeded,
			Input:      "/data/sub-01/anat/sub-01_T1w.nii.gz",
			Output:     "/data/sub-01/anat/sub-01_T1w_defaced.nii.gz",
			StartedAt:  now.Add(-2 * time.Hour),
			FinishedAt: now.Add(-2*time.Hour + 1500*time.Millisecond),
		},
		{
			RunID:      "short",
			Kind:       history.KindApply,
			Status:     history.StatusFailed,
			Input:      "/data/sub-01/anat/sub-01_T2w.nii.gz",
			Error:      "shape mismatch",
			StartedAt:  now.Add(-time.Minute),
			FinishedAt: now.Add(-time.Minute),
		},
	}

	got := renderHistoryTable(records, now)
	for _, want := range []string{
		"0f8e2b6c ",
		"2 hours ago",
		"sub-01_T1w_defaced.nii.gz",
		"1.5s",
		"failed: shape mismatch",
		"short",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("history table missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "0f8e2b6c-") {
		t.Fatalf("expected run id to be shortened:\n%s", got)
	}
}

func TestRenderRunDetail(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []history.Record{
		{
			RunID:      "0f8e2b6c-1111-2222-3333-444455556666",
			Kind:       history.KindDeface,
			Status:     history.StatusSucceeded,
			Input:      "/data/sub-01_T1w.nii.gz",
			Output:     "/data/sub-01_T1w_defaced.nii.gz",
			Template:   "/opt/deface/mean_reg2mean.nii.gz",
			Facemask:   "/opt/deface/facemask.nii.gz",
			Cost:       "mutualinfo",
			StartedAt:  now.Add(-time.Hour),
			FinishedAt: now.Add(-time.Hour + 30*time.Second),
		},
		{
			RunID:     "0f8e2b6c-1111-2222-3333-444455556666",
			Kind:      history.KindApply,
			Status:    history.StatusFailed,
			Input:     "/data/sub-01_T2w.nii.gz",
			Error:     "shape mismatch",
			StartedAt: now.Add(-time.Hour + time.Minute),
		},
	}
	got := renderRunDetail(records, now)
	for _, want := range []string{
		"Run:      0f8e2b6c-1111-2222-3333-444455556666",
		"1 hour ago",
		"Facemask: /opt/deface/facemask.nii.gz",
		"Cost:     mutualinfo",
		"/data/sub-01_T2w.nii.gz",
		"failed: shape mismatch",
		"30s",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("run detail missing %q:\n%s", want, got)
		}
	}
}
