package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"opdeck/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config file:    %s\n", ctx.configPath)
			fmt.Fprintf(out, "data dir:       %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log dir:        %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "upload dir:     %s\n", cfg.Paths.UploadDir)
			fmt.Fprintf(out, "converted dir:  %s\n", cfg.Paths.ConvertedDir)
			fmt.Fprintf(out, "settings path:  %s\n", cfg.Paths.SettingsPath)
			fmt.Fprintf(out, "api bind:       %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "poll:           %d attempts x %ds\n", cfg.Monitor.PollMaxAttempts, cfg.Monitor.PollIntervalSeconds)
			fmt.Fprintf(out, "settle delay:   %dms\n", cfg.Monitor.SettleDelayMillis)
			fmt.Fprintf(out, "ffmpeg:         %s\n", cfg.FFmpegBinary())
			fmt.Fprintf(out, "history:        enabled=%t path=%s\n", cfg.History.Enabled, cfg.History.Path)
			fmt.Fprintf(out, "logging:        %s/%s\n", cfg.Logging.Format, cfg.Logging.Level)
			return nil
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}
