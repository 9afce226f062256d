package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var verbose bool
	var opts defaceOptions

	ctx := newCommandContext(&configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:   "deface <infile>",
		Short: "Remove facial features from a NIfTI brain image",
		Long: "Registers a head template onto the input image with FSL FLIRT, warps the\n" +
			"template's facemask into the input's space and zeroes the facial voxels.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			opts.input = args[0]
			return runDeface(cmd, ctx, opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output, including FLIRT messages")

	flags := rootCmd.Flags()
	flags.StringVar(&opts.output, "outfile", "", "Defaced image (default: input name with the configured suffix)")
	flags.BoolVar(&opts.force, "force", false, "Overwrite the output if it exists")
	flags.StringSliceVar(&opts.applyTo, "applyto", nil, "Apply the defacing mask to these images (repeatable or comma separated)")
	flags.StringVar(&opts.cost, "cost", "", "FLIRT cost function (default: registration.cost, mutualinfo)")
	flags.StringVar(&opts.template, "template", "", "Template image (default: assets.template)")
	flags.StringVar(&opts.facemask, "facemask", "", "Template facemask (default: assets.facemask)")
	flags.BoolVar(&opts.noCleanup, "nocleanup", false, "Keep the temporary registration files")

	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
