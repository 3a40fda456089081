package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/menta2k/segprep/pkg/dataset"
	"github.com/menta2k/segprep/pkg/stats"
)

func newStatsCmd(a *app) *cobra.Command {
	var (
		split   string
		limit   int
		workers int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Compute per-channel mean/std and the class histogram of a dataset split",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.New(a.cfg.DataSettings(), split, nil, 0, dataset.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = max(a.cfg.NumWorkers, 1)
			}
			total := ds.Len()
			if limit > 0 && limit < total {
				total = limit
			}

			bar := progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Reading "+split),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("images"),
			)
			res, err := stats.Compute(cmd.Context(), ds, stats.Options{
				Workers:  workers,
				Limit:    limit,
				OnSample: func() { _ = bar.Add(1) },
				Logger:   a.logger,
			})
			_ = bar.Finish()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Fprintf(out, "\n%s samples, %s pixels\n", humanize.Comma(int64(res.Samples)), humanize.Comma(res.Pixels))
			fmt.Fprintf(out, "image_mean: [%.4f, %.4f, %.4f]\n", res.Mean[0], res.Mean[1], res.Mean[2])
			fmt.Fprintf(out, "image_std:  [%.4f, %.4f, %.4f]\n\n", res.Std[0], res.Std[1], res.Std[2])

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "class\tpixels\tshare\t")
			for _, c := range res.Classes {
				fmt.Fprintf(tw, "%d\t%s\t%.2f%%\t\n", c.Class, humanize.Comma(c.Pixels), 100*res.Fraction(c.Class))
			}
			fmt.Fprintf(tw, "ignore\t%s\t-\t\n", humanize.Comma(res.Ignored))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&split, "split", dataset.SplitTrain, "train, or any other name for the eval list")
	cmd.Flags().IntVar(&limit, "limit", 0, "read at most this many samples (0 = all)")
	cmd.Flags().IntVar(&workers, "workers", 1, "parallel readers (defaults to num_workers)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
