package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/remindbot/app"
	"github.com/m3rciful/remindbot/core/buildinfo"
	corecmd "github.com/m3rciful/remindbot/core/cmd"
)

const (
	configEnvVar      = "REMINDBOT_CONFIG"
	defaultConfigPath = "config.yaml"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(configPath)
		},
	}

	root := &cobra.Command{
		Use:           "remindbot",
		Short:         "Telegram bot that delivers one-shot reminders",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runCmd.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		runCmd,
		&cobra.Command{
			Use:   "check-config",
			Short: "Load and validate the configuration, then exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := corecmd.ResolveConfigPath(configPath, configEnvVar, defaultConfigPath)
				if err != nil {
					return err
				}
				cfg, err := app.LoadConfig(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "config %s ok: run_mode=%s database=%t metrics=%t\n",
					path, cfg.Telegram.RunMode, cfg.Database.Enabled, cfg.Metrics.Enabled)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "remindbot", buildinfo.String())
			},
		},
	)
	return root
}

func runBot(configPath string) error {
	return corecmd.Run(corecmd.Options{
		ConfigPath:        configPath,
		ConfigEnvVar:      configEnvVar,
		DefaultConfigPath: defaultConfigPath,
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := app.LoadConfig(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: app.Bootstrap,
	})
}
