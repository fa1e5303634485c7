package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oarkflow/procmon"
)

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and print the resulting launch plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := procmon.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if _, err := cfg.ParseTimeouts(); err != nil {
				return err
			}
			cmds, err := cfg.Commands()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range cmds {
				line := strings.TrimSpace(strings.Join(slices.Concat([]string{c.Path}, c.Options, []string{c.Module}), " "))
				_, _ = fmt.Fprintf(out, "%d\t%s\t127.0.0.1:%d\t%s\n", c.Index, c.Key, c.ControlPort(cfg.BasePort), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "procmon.yaml", "Path to YAML or JSON configuration file")
	return cmd
}
