package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/segprep"
	"github.com/menta2k/segprep/internal/utils"
)

func newPreviewCmd(a *app) *cobra.Command {
	var (
		count  int
		seed   int64
		outDir string
		format string
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Run the training transform on a few samples and write image, label, edge and overlay files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if outDir == "" {
				outDir = cfg.Output.Dir
			}
			if format != "" {
				cfg.Output.Format = format
			}
			if !cmd.Flags().Changed("seed") {
				seed = cfg.Seed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			p, err := segprep.NewWithConfig(cfg, a.logger.Named("pipeline"))
			if err != nil {
				return err
			}
			files, err := p.PreviewDataset(count, seed, outDir)
			for _, f := range files {
				a.logger.Info("wrote preview",
					zap.String("overlay", f.Overlay),
					zap.String("size", utils.FileSize(f.Overlay)))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d previews to %s\n", len(files), outDir)
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of samples")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (defaults to the config seed)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (defaults to output.dir)")
	cmd.Flags().StringVar(&format, "format", "", "image format: jpg|png|webp (defaults to output.format)")
	return cmd
}
