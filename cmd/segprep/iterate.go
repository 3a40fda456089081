package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/segprep"
)

func newIterateCmd(a *app) *cobra.Command {
	var (
		epochs     int
		noProgress bool
		distrib    bool
		worldSize  int
		rank       int
	)
	cmd := &cobra.Command{
		Use:   "iterate",
		Short: "Run the training loader and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			engine := cfg.Engine
			if cmd.Flags().Changed("distributed") {
				engine.Distributed = distrib
			}
			if cmd.Flags().Changed("world-size") {
				engine.WorldSize = worldSize
			}
			if cmd.Flags().Changed("rank") {
				engine.Rank = rank
			}

			l, sampler, err := segprep.GetTrainLoader(cfg, engine, a.logger)
			if err != nil {
				return err
			}
			defer l.Close()
			if sampler != nil {
				a.logger.Info("sharded loader",
					zap.Int("world_size", engine.WorldSize),
					zap.Int("rank", engine.Rank),
					zap.Int("shard_samples", sampler.Len()))
			}

			var bar *progressbar.ProgressBar
			if !noProgress {
				bar = progressbar.NewOptions(l.Len()*epochs,
					progressbar.OptionSetDescription("Batches"),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("batches"),
					progressbar.OptionSetTheme(progressbar.ThemeUnicode),
				)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			start := time.Now()
			var samples int
			var bytes uint64
			for epoch := 0; epoch < epochs; epoch++ {
				if epoch > 0 {
					l.Reset()
				}
				for {
					batch, err := l.Next(ctx)
					if err == io.EOF {
						break
					}
					if err != nil {
						return err
					}
					samples += batch.Size
					bytes += uint64(len(batch.Images)*4 + len(batch.Labels) + len(batch.Aux.EdgeLabels))
					if bar != nil {
						_ = bar.Add(1)
					}
				}
			}
			if bar != nil {
				_ = bar.Finish()
			}

			elapsed := time.Since(start)
			rate := float64(samples) / elapsed.Seconds()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s samples in %s (%.1f samples/s, %s of tensors)\n",
				humanize.Comma(int64(samples)), elapsed.Round(time.Millisecond), rate, humanize.IBytes(bytes))
			return nil
		},
	}
	cmd.Flags().IntVar(&epochs, "epochs", 1, "number of epochs")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&distrib, "distributed", false, "use a distributed sampler (overrides engine.distributed)")
	cmd.Flags().IntVar(&worldSize, "world-size", 1, "number of shards (overrides engine.world_size)")
	cmd.Flags().IntVar(&rank, "rank", 0, "shard index (overrides engine.rank)")
	return cmd
}
