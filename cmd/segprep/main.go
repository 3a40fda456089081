package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/menta2k/segprep"
	"github.com/menta2k/segprep/internal/config"
	"github.com/menta2k/segprep/internal/utils"
)

// app carries the state shared by all commands
type app struct {
	cfgFile string
	logMode string
	cfg     *config.Config
	logger  *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "segprep",
		Short:         "Prepare image / ground-truth pairs for segmentation training",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			utils.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml, json or toml); SEGPREP_* variables override it")
	root.PersistentFlags().StringVar(&a.logMode, "log-mode", "", "debug or release (overrides log.mode)")

	root.AddCommand(
		newPreviewCmd(a),
		newIterateCmd(a),
		newStatsCmd(a),
		newFilelistCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init() error {
	path := a.cfgFile
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}
	cfg, err := segprep.LoadConfig(path)
	if err != nil {
		return err
	}
	if a.logMode != "" {
		cfg.Log.Mode = a.logMode
	}
	if err := utils.InitLogger(cfg.Log.Mode); err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	a.cfg = cfg
	a.logger = utils.Logger
	if path != "" {
		a.logger.Debug("config loaded", zap.String("path", path))
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Skip config loading.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "segprep", segprep.GetVersion())
		},
	}
}
