package deface_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"deface/internal/config"
	"deface/internal/deface"
	"deface/internal/history"
	"deface/internal/nifti"
	"deface/internal/services"
	"deface/internal/services/flirt"
	"deface/internal/testsupport"
)

// fakeRegistrar stands in for FLIRT. Estimate writes an identity transform and
// copies the template; Apply writes maskFor(reference shape) as the warped mask.
type fakeRegistrar struct {
	estimateErr error
	applyErr    error
	maskFor     func(shape []int) *nifti.Volume

	estimates []flirt.EstimateRequest
	applies   []flirt.ApplyRequest
}

func (f *fakeRegistrar) calls() int { return len(f.estimates) + len(f.applies) }

func (f *fakeRegistrar) Estimate(_ context.Context, req flirt.EstimateRequest) error {
	f.estimates = append(f.estimates, req)
	if f.estimateErr != nil {
		return f.estimateErr
	}
	if err := flirt.WriteMatrix(req.OutMatrix, identity4()); err != nil {
		return err
	}
	raw, err := os.ReadFile(req.Moving)
	if err != nil {
		return err
	}
	return os.WriteFile(req.OutVolume, raw, 0o644)
}

func (f *fakeRegistrar) Apply(_ context.Context, req flirt.ApplyRequest) error {
	f.applies = append(f.applies, req)
	if f.applyErr != nil {
		return f.applyErr
	}
	if _, err := flirt.ReadMatrix(req.InitMatrix); err != nil {
		return err
	}
	ref, err := nifti.Load(req.Reference)
	if err != nil {
		return err
	}
	shape := ref.Shape
	if len(shape) > 3 {
		shape = shape[:3]
	}
	var mask *nifti.Volume
	if f.maskFor != nil {
		mask = f.maskFor(shape)
	} else {
		mask, err = nifti.New(shape, nifti.Uint8, nil, ones(product(shape)))
		if err != nil {
			return err
		}
	}
	if err := nifti.Save(mask, req.OutVolume); err != nil {
		return err
	}
	return flirt.WriteMatrix(req.OutMatrix, identity4())
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// faceMask zeroes the first quarter of the x axis.
func faceMask(shape []int) *nifti.Volume {
	vol, _ := nifti.New(shape, nifti.Uint8, nil, nil)
	nx := shape[0]
	for i := range vol.Data {
		if i%nx >= nx/4 {
			vol.Data[i] = 1
		}
	}
	return vol
}

func newPipeline(t *testing.T, cfg *config.Config, reg *fakeRegistrar, opts ...deface.Option) *deface.Pipeline {
	t.Helper()
	p, err := deface.New(cfg, reg, opts...)
	if err != nil {
		t.Fatalf("deface.New: %v", err)
	}
	return p
}

func workspaces(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(cfg.TempRoot(), "deface-*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestDefacePreservesHeaderAndAppliesMask(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	subject := testsupport.WriteVolume(t, input, []int{8, 6, 4}, testsupport.Index)

	reg := &fakeRegistrar{maskFor: faceMask}
	run, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if err != nil {
		t.Fatalf("Deface: %v", err)
	}
	defer run.Close()

	wantOutput := filepath.Join(testsupport.BaseDir(cfg), "subject_defaced.nii.gz")
	if run.Output != wantOutput {
		t.Fatalf("output = %q, want %q", run.Output, wantOutput)
	}
	out, err := nifti.Load(run.Output)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if !bytes.Equal(out.Header.Bytes(), subject.Header.Bytes()) {
		t.Fatal("output header differs from subject header")
	}
	if !mat.Equal(out.Affine(), subject.Affine()) {
		t.Fatal("output affine differs from subject affine")
	}
	mask := faceMask([]int{8, 6, 4})
	for i, v := range out.Data {
		if want := subject.Data[i] * mask.Data[i]; v != want {
			t.Fatalf("voxel %d = %v, want %v", i, v, want)
		}
	}
	if run.Strategy != deface.StrategyDirect {
		t.Fatalf("strategy = %v", run.Strategy)
	}

	if len(reg.estimates) != 1 || len(reg.applies) != 1 {
		t.Fatalf("registrar calls: estimate=%d apply=%d", len(reg.estimates), len(reg.applies))
	}
	est, app := reg.estimates[0], reg.applies[0]
	if est.Moving != cfg.TemplatePath() || est.Reference != input || est.Cost != "mutualinfo" {
		t.Fatalf("unexpected estimate request: %+v", est)
	}
	if app.Moving != cfg.FacemaskPath() || app.Reference != input || app.InitMatrix != est.OutMatrix {
		t.Fatalf("unexpected apply request: %+v", app)
	}
	if run.Transform == nil || !mat.Equal(run.Transform, identity4()) {
		t.Fatal("expected transform from step A")
	}
}

func TestDefaceBroadcastsMaskOverTimeSeries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "bold.nii.gz")
	shape := []int{64, 64, 32, 5}
	testsupport.WriteVolume(t, input, shape, testsupport.Ones)

	reg := &fakeRegistrar{maskFor: faceMask}
	run, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if err != nil {
		t.Fatalf("Deface: %v", err)
	}
	defer run.Close()

	out, err := nifti.Load(run.Output)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if len(out.Shape) != 4 || out.Shape[0] != 64 || out.Shape[1] != 64 || out.Shape[2] != 32 || out.Shape[3] != 5 {
		t.Fatalf("output shape = %v", out.Shape)
	}
	if run.Strategy != deface.StrategyBroadcast {
		t.Fatalf("strategy = %v", run.Strategy)
	}
	n := 64 * 64 * 32
	for tp := 0; tp < 5; tp++ {
		for i := 0; i < n; i++ {
			if got, want := out.Data[tp*n+i], run.Mask.Data[i]; got != want {
				t.Fatalf("timepoint %d voxel %d = %v, want %v", tp, i, got, want)
			}
		}
	}
}

func TestDefaceCleanupContract(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	run, err := newPipeline(t, cfg, &fakeRegistrar{}).Deface(context.Background(), deface.Request{Input: input})
	if err != nil {
		t.Fatalf("Deface: %v", err)
	}
	dir := filepath.Dir(run.MaskPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read workspace: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "warped_mask.nii.gz" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("workspace should hold only the warped mask, got %v", names)
	}
	if len(run.Artifacts()) != 0 {
		t.Fatal("artifacts are only listed when retained")
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace should be removed after Close, err=%v", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDefaceKeepTemporaryRetainsArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	run, err := newPipeline(t, cfg, &fakeRegistrar{}).Deface(context.Background(), deface.Request{
		Input:         input,
		KeepTemporary: true,
	})
	if err != nil {
		t.Fatalf("Deface: %v", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(run.Artifacts()); got != 4 {
		t.Fatalf("expected 4 retained artifacts, got %d", got)
	}
	dir := filepath.Dir(run.MaskPath)
	for _, name := range []string{"template_reg.mat", "template_reg.nii.gz", "warped_mask.nii.gz", "warped_mask.mat"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to be retained: %v", name, err)
		}
	}
}

func TestDefaceOverwritePolicy(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Index)
	output := filepath.Join(testsupport.BaseDir(cfg), "subject_defaced.nii.gz")
	if err := os.WriteFile(output, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	pipeline := newPipeline(t, cfg, reg)
	_, err := pipeline.Deface(context.Background(), deface.Request{Input: input})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if reg.calls() != 0 {
		t.Fatalf("registrar called %d times before overwrite check", reg.calls())
	}
	if len(workspaces(t, cfg)) != 0 {
		t.Fatal("no workspace should be created when the output exists")
	}
	if raw, _ := os.ReadFile(output); string(raw) != "stale" {
		t.Fatal("existing output modified without force")
	}

	run, err := pipeline.Deface(context.Background(), deface.Request{Input: input, Force: true})
	if err != nil {
		t.Fatalf("Deface with force: %v", err)
	}
	defer run.Close()
	if _, err := nifti.Load(output); err != nil {
		t.Fatalf("forced output should be a valid volume: %v", err)
	}
}

func TestDefaceStepAFailureLeavesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	reg := &fakeRegistrar{estimateErr: errors.New("exit status 1")}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte(deface.StepEstimate)) {
		t.Fatalf("error should name step A: %v", err)
	}
	if len(reg.applies) != 0 {
		t.Fatal("step B must not run after step A fails")
	}
	if _, err := os.Stat(filepath.Join(testsupport.BaseDir(cfg), "subject_defaced.nii.gz")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output should not exist, err=%v", err)
	}
	if ws := workspaces(t, cfg); len(ws) != 0 {
		t.Fatalf("workspace should be removed, found %v", ws)
	}
}

func TestDefaceStepBFailureNamesStep(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	reg := &fakeRegistrar{applyErr: errors.New("exit status 1")}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte(deface.StepWarp)) {
		t.Fatalf("error should name step B: %v", err)
	}
	if len(reg.estimates) != 1 {
		t.Fatalf("estimate calls = %d", len(reg.estimates))
	}
}

func TestDefaceShapeMismatchWritesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	reg := &fakeRegistrar{maskFor: func([]int) *nifti.Volume {
		vol, _ := nifti.New([]int{3, 3, 3}, nifti.Uint8, nil, ones(27))
		return vol
	}}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if !errors.Is(err, services.ErrValidation) || !errors.Is(err, deface.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch validation error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(testsupport.BaseDir(cfg), "subject_defaced.nii.gz")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output should not exist, err=%v", err)
	}
}

func TestDefaceMissingAssetsFailsBeforeRegistration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	reg := &fakeRegistrar{}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if services.ExitCode(err) != services.ExitConfiguration {
		t.Fatalf("exit code = %d", services.ExitCode(err))
	}
	if reg.calls() != 0 || len(workspaces(t, cfg)) != 0 {
		t.Fatal("no registration or workspace expected")
	}
}

func TestDefaceRejectsNonNiftiInputBeforeRegistration(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	if err := os.WriteFile(input, []byte("not gzip, not nifti"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := &fakeRegistrar{}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input})
	if services.ExitCode(err) != services.ExitConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if reg.calls() != 0 || len(workspaces(t, cfg)) != 0 {
		t.Fatal("no registration or workspace expected")
	}
}

func TestDefaceRejectsUnknownCost(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	reg := &fakeRegistrar{}
	_, err := newPipeline(t, cfg, reg).Deface(context.Background(), deface.Request{Input: input, Cost: "bogus"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if reg.calls() != 0 {
		t.Fatal("registrar should not run")
	}
}

func TestDefaceRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAssets())
	store := testsupport.MustOpenHistory(t, cfg)
	input := filepath.Join(testsupport.BaseDir(cfg), "subject.nii.gz")
	testsupport.WriteVolume(t, input, []int{4, 4, 4}, testsupport.Ones)

	pipeline := newPipeline(t, cfg, &fakeRegistrar{}, deface.WithRecorder(store))
	run, err := pipeline.Deface(context.Background(), deface.Request{Input: input, Cost: "CorRatio"})
	if err != nil {
		t.Fatalf("Deface: %v", err)
	}
	defer run.Close()
	if _, err := pipeline.Deface(context.Background(), deface.Request{Input: input}); err == nil {
		t.Fatal("expected second run to fail on existing output")
	}

	records, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	var succeeded, failed int
	for _, rec := range records {
		switch rec.Status {
		case history.StatusSucceeded:
			succeeded++
			if rec.RunID != run.ID || rec.Output != run.Output || rec.Cost != "corratio" {
				t.Fatalf("unexpected success record: %+v", rec)
			}
		case history.StatusFailed:
			failed++
			if rec.Error == "" {
				t.Fatal("failed record should carry the error")
			}
		}
	}
	if succeeded != 1 || failed != 1 {
		t.Fatalf("succeeded=%d failed=%d", succeeded, failed)
	}
}
