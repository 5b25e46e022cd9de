package cmd

import (
	"fmt"

	"github.com/marcelzwiers/fmriprep-sub/internal/config"
	"github.com/marcelzwiers/fmriprep-sub/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	showPath      bool
	initPath      string
	initOverwrite bool
)

// configKeysCompletion returns config keys for shell completion
func configKeysCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ConfigKeys, cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage fmriprep-sub configuration",
	Long: `Manage fmriprep-sub configuration settings.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (FMRIPREP_SUB_*, then FMRIPREP_VERSION, FMRIPREP_ROOT, FS_LICENSE, USER)
  3. Config file given with --config, or the user config file (~/.config/fmriprep-sub/config.yaml)
  4. System config file (/etc/fmriprep-sub/config.yaml)
  5. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showPath {
			configPath, err := config.GetUserConfigPath()
			if err != nil {
				return fmt.Errorf("failed to get config path: %w", err)
			}
			fmt.Fprintln(utils.Stdout, configPath)
			return nil
		}

		fmt.Fprintln(utils.Stdout, utils.StyleTitle("Config File:"))
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(utils.Stdout, "  %s\n", used)
		} else {
			fmt.Fprintf(utils.Stdout, "  %s (use 'fmriprep-sub config init' to create)\n", utils.StyleWarning("No config file found"))
		}
		fmt.Fprintln(utils.Stdout)

		fmt.Fprintln(utils.Stdout, utils.StyleTitle("Settings:"))
		for _, key := range config.ConfigKeys {
			value := fmt.Sprint(viper.Get(key))
			if viper.Get(key) == nil || value == "" {
				value = utils.StyleWarning("(not set)")
			}
			fmt.Fprintf(utils.Stdout, "  %-26s %-40s %s\n", key, value, utils.StyleDebug(config.EnvVarFor(key)))
		}
		fmt.Fprintln(utils.Stdout)

		fmt.Fprintln(utils.Stdout, utils.StyleTitle("Pipeline Image:"))
		if image := config.Global.ImagePath(); image != "" {
			status := utils.StyleSuccess("(exists)")
			if !utils.FileExists(image) && !utils.DirExists(image) {
				status = utils.StyleError("(missing)")
			}
			fmt.Fprintf(utils.Stdout, "  %s %s\n", image, status)
		} else {
			fmt.Fprintf(utils.Stdout, "  %s\n", utils.StyleWarning("(not set)"))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Example: `  fmriprep-sub config get pipeline.version
  fmriprep-sub config get resources.mem_mb`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: configKeysCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		value := viper.Get(args[0])
		if value == nil {
			return fmt.Errorf("unknown or unset config key: %s", args[0])
		}
		fmt.Fprintln(utils.Stdout, value)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with the current settings",
	Long: `Create a configuration file with the current settings.

The persistent keys (pipeline, scheduler, resources) are written with the
values currently in effect, so environment variables such as FMRIPREP_VERSION
and FS_LICENSE are captured. Run-specific settings are not saved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := initPath
		if path == "" {
			var err error
			if path, err = config.GetUserConfigPath(); err != nil {
				return fmt.Errorf("failed to get config path: %w", err)
			}
		}
		path = utils.AbsPath(path)

		if utils.FileExists(path) && !initOverwrite {
			utils.PrintWarning("Config file already exists: %s", utils.StylePath(path))
			utils.PrintHint("Use --overwrite to replace it")
			return nil
		}
		if err := config.SaveConfig(path); err != nil {
			return err
		}
		utils.PrintSuccess("Config file created: %s", utils.StylePath(path))
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&showPath, "path", false, "Show only the user config file path")
	configInitCmd.Flags().StringVar(&initPath, "path", "", "Write the config file here (default ~/.config/fmriprep-sub/config.yaml)")
	configInitCmd.Flags().BoolVar(&initOverwrite, "overwrite", false, "Replace an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
