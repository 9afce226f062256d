package deface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"deface/internal/config"
	"deface/internal/history"
	"deface/internal/logging"
	"deface/internal/nifti"
	"deface/internal/preflight"
	"deface/internal/services"
	"deface/internal/services/flirt"
)

// Step names used in logs and errors.
const (
	StepEstimate = "registration step A"
	StepWarp     = "registration step B"
	StepMask     = "masking"
	StepSave     = "save"
	StepApply    = "apply to"
)

// Registrar is the registration engine the pipeline drives.
type Registrar interface {
	Estimate(ctx context.Context, req flirt.EstimateRequest) error
	Apply(ctx context.Context, req flirt.ApplyRequest) error
}

// VolumeIO loads and saves images.
type VolumeIO interface {
	Load(path string) (*nifti.Volume, error)
	Save(vol *nifti.Volume, path string) error
}

// Recorder stores a ledger entry per run.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) (int64, error)
}

// Request describes one defacing run. Empty fields fall back to configuration.
type Request struct {
	Input         string
	Output        string
	Template      string
	Facemask      string
	Cost          string
	Force         bool
	KeepTemporary bool
}

// Run is the result of a successful defacing run. Close releases the warped
// mask file once companion images have been processed.
type Run struct {
	ID        string
	Input     string
	Output    string
	MaskPath  string
	Mask      *nifti.Volume
	Transform *mat.Dense
	Strategy  Strategy

	ws     *workspace
	logger *slog.Logger
}

// Close removes the warped mask and the run workspace unless retention was
// requested.
func (r *Run) Close() error {
	if r == nil || r.ws == nil {
		return nil
	}
	if r.ws.keep {
		r.logger.Info("temporary files retained", logging.String("workspace", r.ws.dir))
		return nil
	}
	err := r.ws.discard()
	r.ws = nil
	return err
}

// Artifacts lists the retained temporary files. It is empty unless
// retention was requested.
func (r *Run) Artifacts() []string {
	if r == nil || r.ws == nil || !r.ws.keep {
		return nil
	}
	return r.ws.artifacts()
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithVolumeIO replaces the NIfTI file adapter.
func WithVolumeIO(io VolumeIO) Option {
	return func(p *Pipeline) {
		if io != nil {
			p.volumes = io
		}
	}
}

// WithRecorder enables the run ledger.
func WithRecorder(rec Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = rec
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline orchestrates registration, masking and output for defacing runs.
type Pipeline struct {
	cfg       *config.Config
	registrar Registrar
	volumes   VolumeIO
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a pipeline around the given registration engine.
func New(cfg *config.Config, registrar Registrar, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if registrar == nil {
		return nil, errors.New("registrar required")
	}
	p := &Pipeline{
		cfg:       cfg,
		registrar: registrar,
		volumes:   nifti.Files{},
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "pipeline")
	return p, nil
}

// Deface removes facial features from req.Input and writes the result. The
// returned Run holds the warped mask for reuse by ApplyTo.
func (p *Pipeline) Deface(ctx context.Context, req Request) (run *Run, err error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	ctx = services.WithInput(ctx, req.Input)
	logger := logging.WithContext(ctx, p.logger)

	rec := history.Record{
		RunID:     runID,
		Kind:      history.KindDeface,
		Input:     req.Input,
		StartedAt: p.now(),
	}
	defer func() {
		p.record(ctx, logger, rec, err)
	}()

	cost := config.NormalizeCost(req.Cost)
	if cost == "" {
		cost = p.cfg.Registration.Cost
	}
	if err := config.ValidateCost(cost); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "preflight", "validate cost", "", err)
	}
	rec.Cost = cost

	input, err := config.ExpandPath(strings.TrimSpace(req.Input))
	if err != nil || input == "" {
		return nil, services.Wrap(services.ErrConfiguration, "preflight", "check input", "input path required", err)
	}
	rec.Input = input
	if err := preflight.CheckInput(input); err != nil {
		return nil, err
	}
	assets, err := preflight.ResolveInputs(p.cfg, req.Template, req.Facemask)
	if err != nil {
		return nil, err
	}
	rec.Template, rec.Facemask = assets.Template, assets.Facemask

	output, err := preflight.ResolveOutput(input, req.Output, p.cfg.Output.Suffix, req.Force)
	if err != nil {
		return nil, err
	}
	rec.Output = output

	lock, err := lockOutput(p.cfg.LockDir(), output)
	if err != nil {
		return nil, err
	}
	defer lock.releaseOrWarn(logger)

	keep := req.KeepTemporary || p.cfg.Output.KeepTemporary
	ws, err := newWorkspace(p.cfg.TempRoot(), runID, keep)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "workspace", "allocate", "", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if keep {
			logger.Info("temporary files retained after failure", logging.String("workspace", ws.dir))
			return
		}
		if discardErr := ws.discard(); discardErr != nil {
			logging.WarnWithContext(logger, "failed to remove run workspace", "workspace_cleanup_failed",
				logging.Error(discardErr),
				logging.String("workspace", ws.dir),
			)
		}
	}()

	logger.Info("defacing started",
		logging.Path("output", output),
		logging.Path("template", assets.Template),
		logging.Path("facemask", assets.Facemask),
		logging.String("cost", cost),
		logging.Path("workspace", ws.dir),
	)

	transform, err := p.estimate(ctx, ws, input, assets.Template, cost)
	if err != nil {
		return nil, err
	}
	if err := p.warp(ctx, ws, input, assets.Facemask); err != nil {
		return nil, err
	}

	maskCtx := services.WithStep(ctx, StepMask)
	subject, err := p.volumes.Load(input)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, StepMask, "load subject", input, err)
	}
	mask, err := p.volumes.Load(ws.maskVolume())
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, StepWarp, "load warped mask", ws.maskVolume(), err)
	}
	masked, strategy, err := ApplyMask(subject, mask)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, StepMask, "apply mask", "", err)
	}
	logging.WithContext(maskCtx, p.logger).Debug("mask applied",
		logging.String("strategy", strategy.String()),
		logging.Shape("subject_shape", subject.Shape),
		logging.Shape("mask_shape", mask.Shape),
	)

	if err := p.volumes.Save(masked, output); err != nil {
		return nil, fmt.Errorf("%s: write %s: %w", StepSave, output, err)
	}

	if keep {
		logger.Info("temporary files retained", logging.Any("artifacts", ws.artifacts()))
	} else if cleanupErr := ws.releaseByproducts(); cleanupErr != nil {
		logging.WarnWithContext(logger, "failed to remove registration by-products", "workspace_cleanup_failed",
			logging.Error(cleanupErr),
			logging.String("workspace", ws.dir),
		)
	}

	logger.Info("defacing completed",
		logging.Path("output", output),
		logging.String("strategy", strategy.String()),
		logging.Duration("elapsed", p.now().Sub(rec.StartedAt)),
	)
	return &Run{
		ID:        runID,
		Input:     input,
		Output:    output,
		MaskPath:  ws.maskVolume(),
		Mask:      mask,
		Transform: transform,
		Strategy:  strategy,
		ws:        ws,
		logger:    logger,
	}, nil
}

func (p *Pipeline) estimate(ctx context.Context, ws *workspace, subject, template, cost string) (*mat.Dense, error) {
	ctx = services.WithStep(ctx, StepEstimate)
	logger := logging.WithContext(ctx, p.logger)
	started := p.now()
	logger.Info("estimating template transform")

	err := p.registrar.Estimate(ctx, flirt.EstimateRequest{
		Moving:    template,
		Reference: subject,
		Cost:      cost,
		OutMatrix: ws.templateMatrix(),
		OutVolume: ws.templateVolume(),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, StepEstimate, "estimate transform", "", err)
	}
	transform, err := flirt.ReadMatrix(ws.templateMatrix())
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, StepEstimate, "read transform", "", err)
	}
	logger.Debug("template transform estimated", logging.Duration("elapsed", p.now().Sub(started)))
	return transform, nil
}

func (p *Pipeline) warp(ctx context.Context, ws *workspace, subject, facemask string) error {
	ctx = services.WithStep(ctx, StepWarp)
	logger := logging.WithContext(ctx, p.logger)
	logger.Info("warping facemask into subject space")

	err := p.registrar.Apply(ctx, flirt.ApplyRequest{
		Moving:     facemask,
		Reference:  subject,
		InitMatrix: ws.templateMatrix(),
		OutMatrix:  ws.maskMatrix(),
		OutVolume:  ws.maskVolume(),
	})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, StepWarp, "apply transform", "", err)
	}
	if _, err := os.Stat(ws.maskVolume()); err != nil {
		return services.Wrap(services.ErrExternalTool, StepWarp, "apply transform", "warped mask missing", err)
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, rec history.Record, err error) {
	if p.recorder == nil {
		return
	}
	rec.FinishedAt = p.now()
	rec.Status = history.StatusSucceeded
	if err != nil {
		rec.Status = history.StatusFailed
		rec.Error = err.Error()
	}
	if _, recErr := p.recorder.Record(context.WithoutCancel(ctx), rec); recErr != nil {
		logging.WarnWithContext(logger, "failed to record run history", "history_record_failed",
			logging.Error(recErr),
			logging.String(logging.FieldImpact, "run is missing from deface history"),
		)
	}
}
