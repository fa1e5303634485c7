package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/oarkflow/procmon"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every configured worker and supervise them until one exits or a signal arrives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := procmon.LoadConfig(configPath)
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logCloser, err := procmon.SetupLogging(cfg.LogFile, level)
			if err != nil {
				return err
			}
			defer logCloser.Close()
			if err := procmon.CreatePIDFile(cfg.PIDFile); err != nil {
				return err
			}
			defer procmon.RemovePIDFile(cfg.PIDFile)

			cmds, err := cfg.Commands()
			if err != nil {
				return err
			}
			opts, err := cfg.SupervisorOptions()
			if err != nil {
				return err
			}
			timeouts, err := cfg.ParseTimeouts()
			if err != nil {
				return err
			}
			opts = append(opts, procmon.WithExitFunc(func(code int) {
				procmon.RemovePIDFile(cfg.PIDFile)
				_ = logCloser.Close()
				os.Exit(code)
			}))
			sup := procmon.New(procmon.NewHTTPChannel(cfg.BasePort, timeouts), opts...)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if cfg.MetricsAddr != "" {
				go func() {
					if err := procmon.ServeMetrics(ctx, cfg.MetricsAddr, sup); err != nil {
						slog.Error("Supervisor: metrics server error", slog.String("err", err.Error()))
					}
				}()
			}

			slog.Info("Supervisor: starting", slog.String("config", configPath), slog.Int("children", len(cmds)))
			if err := sup.Start(ctx, cmds); err != nil {
				return err
			}
			sup.AwaitTermination()
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "procmon.yaml", "Path to YAML or JSON configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log at debug level, including failed heartbeats")
	return cmd
}
