package deface

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deface/internal/config"
	"deface/internal/history"
	"deface/internal/logging"
	"deface/internal/nifti"
	"deface/internal/preflight"
	"deface/internal/services"
)

// ApplyTo masks each image in paths with mask, in order, writing each result
// next to its source with the configured suffix. Existing outputs are never
// overwritten. The first failure stops the batch; outputs written before it
// stay on disk and are returned alongside the error.
func (p *Pipeline) ApplyTo(ctx context.Context, mask *nifti.Volume, paths []string) ([]string, error) {
	if mask == nil {
		return nil, services.Wrap(services.ErrValidation, StepApply, "", "mask required", nil)
	}
	runID, ok := services.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = services.WithRunID(ctx, runID)
	}
	ctx = services.WithStep(ctx, StepApply)

	outputs := make([]string, 0, len(paths))
	for i, path := range paths {
		logging.WithContext(ctx, p.logger).Debug("applying mask",
			logging.Int("image", i+1),
			logging.Int("images", len(paths)),
			logging.Path("source", path),
		)
		output, err := p.applyOne(ctx, runID, mask, path)
		if err != nil {
			return outputs, fmt.Errorf("image %d of %d: %w", i+1, len(paths), err)
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (p *Pipeline) applyOne(ctx context.Context, runID string, mask *nifti.Volume, path string) (output string, err error) {
	ctx = services.WithInput(ctx, path)
	logger := logging.WithContext(ctx, p.logger)
	rec := history.Record{
		RunID:     runID,
		Kind:      history.KindApply,
		Input:     path,
		StartedAt: p.now(),
	}
	defer func() {
		p.record(ctx, logger, rec, err)
	}()

	input, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil || input == "" {
		return "", services.Wrap(services.ErrConfiguration, StepApply, "check input", "input path required", err)
	}
	rec.Input = input
	if err := preflight.CheckInput(input); err != nil {
		return "", err
	}
	output, err = preflight.ResolveOutput(input, "", p.cfg.Output.Suffix, false)
	if err != nil {
		return "", err
	}
	rec.Output = output

	lock, err := lockOutput(p.cfg.LockDir(), output)
	if err != nil {
		return "", err
	}
	defer lock.releaseOrWarn(logger)

	vol, err := p.volumes.Load(input)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, StepApply, "load image", input, err)
	}
	masked, strategy, err := ApplyMask(vol, mask)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, StepApply, "apply mask", input, err)
	}
	if err := p.volumes.Save(masked, output); err != nil {
		return "", fmt.Errorf("%s: write %s: %w", StepApply, output, err)
	}
	logger.Info("mask applied",
		logging.Path("output", output),
		logging.String("strategy", strategy.String()),
	)
	return output, nil
}
