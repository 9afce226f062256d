package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"deface/internal/config"
	"deface/internal/deface"
	"deface/internal/history"
	"deface/internal/logging"
	"deface/internal/preflight"
	"deface/internal/services"
	"deface/internal/services/flirt"
)

type defaceOptions struct {
	input     string
	output    string
	force     bool
	applyTo   []string
	cost      string
	template  string
	facemask  string
	noCleanup bool
}

// newRegistrar builds the registration engine. Tests replace it.
var newRegistrar = func(cfg *config.Config, logger *slog.Logger) (deface.Registrar, error) {
	return flirt.New(cfg.FlirtBinary(), flirt.WithLogger(logging.NewComponentLogger(logger, "flirt")))
}

func runDeface(cmd *cobra.Command, cmdCtx *commandContext, opts defaceOptions) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := cmdCtx.logger(cfg)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "logging", "init", "", err)
	}
	out := cmd.OutOrStdout()
	printBanner(out)

	for _, status := range preflight.CheckSystemDeps(cfg) {
		if !status.Available && !status.Optional {
			return services.Wrap(services.ErrConfiguration, "preflight", "check dependencies",
				fmt.Sprintf("%s unavailable: %s (install FSL and set FSLDIR)", status.Name, status.Detail), nil)
		}
	}

	registrar, err := newRegistrar(cfg, logger)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "registration", "init", "", err)
	}

	pipelineOpts := []deface.Option{deface.WithLogger(logger)}
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run will not appear in deface history"),
			)
		} else {
			defer store.Close()
			pipelineOpts = append(pipelineOpts, deface.WithRecorder(store))
		}
	}
	pipeline, err := deface.New(cfg, registrar, pipelineOpts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(out, "Defacing...\n  %s\n", opts.input)
	run, err := pipeline.Deface(ctx, deface.Request{
		Input:         opts.input,
		Output:        opts.output,
		Template:      opts.template,
		Facemask:      opts.facemask,
		Cost:          opts.cost,
		Force:         opts.force,
		KeepTemporary: opts.noCleanup,
	})
	if err != nil {
		return err
	}
	defer closeRun(logger, run)
	fmt.Fprintf(out, "Defaced image saved as:\n  %s\n", run.Output)

	applyTo := cleanPaths(opts.applyTo)
	if len(applyTo) > 0 {
		outputs, err := pipeline.ApplyTo(services.WithRunID(ctx, run.ID), run.Mask, applyTo)
		if len(outputs) > 0 {
			fmt.Fprintln(out, "Defacing mask also applied to:")
			for _, path := range outputs {
				fmt.Fprintf(out, "  %s\n", path)
			}
		}
		if err != nil {
			return err
		}
	}

	if opts.noCleanup || cfg.Output.KeepTemporary {
		fmt.Fprintf(out, "Temporary files kept in:\n  %s\n", filepath.Dir(run.MaskPath))
		if cmdCtx.isVerbose() {
			for _, path := range run.Artifacts() {
				fmt.Fprintf(out, "    %s\n", filepath.Base(path))
			}
		}
	}
	fmt.Fprintln(out, "Finished.")
	return nil
}

// closeRun removes the warped mask once companion images are done. The
// defaced output is already written, so a failure is only reported.
func closeRun(logger *slog.Logger, run io.Closer) {
	if err := run.Close(); err != nil {
		logging.WarnWithContext(logger, "failed to remove temporary files", "workspace_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "temporary registration files remain on disk"),
		)
	}
}

func printBanner(out io.Writer) {
	title := "deface " + version
	fmt.Fprintln(out)
	fmt.Fprintln(out, title)
	fmt.Fprintln(out, strings.Repeat("-", len(title)))
}

func cleanPaths(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, path := range paths {
		if path = strings.TrimSpace(path); path != "" {
			cleaned = append(cleaned, path)
		}
	}
	return cleaned
}
