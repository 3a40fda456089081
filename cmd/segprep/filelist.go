package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/segprep/internal/utils"
	"github.com/menta2k/segprep/pkg/dataset"
)

func newFilelistCmd(a *app) *cobra.Command {
	var (
		imgRoot   string
		gtRoot    string
		imgSuffix string
		gtSuffix  string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "filelist",
		Short: "Pair images and labels by name and write a tab separated source list",
		RunE: func(cmd *cobra.Command, args []string) error {
			if imgRoot == "" {
				imgRoot = a.cfg.ImgRootFolder
			}
			if gtRoot == "" {
				gtRoot = a.cfg.GtRootFolder
			}
			if out == "" {
				out = a.cfg.TrainSource
			}
			if !utils.DirExists(imgRoot) {
				return fmt.Errorf("image root %s does not exist", imgRoot)
			}
			if !utils.DirExists(gtRoot) {
				return fmt.Errorf("label root %s does not exist", gtRoot)
			}

			entries, st, err := utils.PairFiles(imgRoot, gtRoot, imgSuffix, gtSuffix)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no image matched a label (%d images, %d labels)", st.Images, st.Labels)
			}
			if st.UnmatchedImage > 0 || st.UnmatchedLabel > 0 {
				a.logger.Warn("unmatched files",
					zap.Int("images", st.UnmatchedImage),
					zap.Int("labels", st.UnmatchedLabel))
			}
			if err := dataset.WriteFileList(out, entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d pairs to %s (%s)\n", len(entries), out, utils.FileSize(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&imgRoot, "img-root", "", "image root (defaults to img_root_folder)")
	cmd.Flags().StringVar(&gtRoot, "gt-root", "", "label root (defaults to gt_root_folder)")
	cmd.Flags().StringVar(&imgSuffix, "img-suffix", "", "suffix stripped from image names before matching, e.g. _leftImg8bit")
	cmd.Flags().StringVar(&gtSuffix, "gt-suffix", "", "suffix stripped from label names before matching, e.g. _gtFine_labelIds")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output list (defaults to train_source)")
	return cmd
}
