package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"deface/internal/preflight"
	"deface/internal/services"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check FSL, assets and working directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			failed := false

			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			for _, status := range preflight.CheckSystemDeps(cfg) {
				kind := statusOK
				detail := status.Command
				if status.Detail != "" {
					detail = strings.TrimSpace(detail + " " + status.Detail)
				}
				if !status.Available {
					kind = statusError
					detail = status.Detail
					if status.Optional {
						kind = statusWarn
					} else {
						failed = true
					}
				}
				lines = append(lines, renderStatusLine(status.Name, kind, detail, colorize))
			}
			fslDir := os.Getenv("FSLDIR")
			if fslDir == "" {
				lines = append(lines, renderStatusLine("FSLDIR", statusWarn, "not set", colorize))
			} else {
				lines = append(lines, renderStatusLine("FSLDIR", statusInfo, fslDir, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Paths", colorize)...)
			for _, result := range preflight.RunAll(cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failed = true
				}
				lines = append(lines, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Registration", colorize)...)
			lines = append(lines, renderStatusLine("Cost function", statusInfo, cfg.Registration.Cost, colorize))
			lines = append(lines, renderStatusLine("Output suffix", statusInfo, cfg.Output.Suffix, colorize))
			historyDetail := "disabled"
			if cfg.History.Enabled {
				historyDetail = cfg.HistoryPath()
			}
			lines = append(lines, renderStatusLine("History", statusInfo, historyDetail, colorize))

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if failed {
				return services.Wrap(services.ErrConfiguration, "status", "", "one or more checks failed", nil)
			}
			return nil
		},
	}
}
