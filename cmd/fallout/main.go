package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fallout-harness/fallout/internal/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is fallout.yaml in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().Duration("phase-timeout", 0, "default per-phase timeout, 0 disables it")
	rootCmd.PersistentFlags().String("artifact-dir", "artifacts", "directory modules write artifacts to")
	rootCmd.PersistentFlags().String("record-dir", "", "record the history to an on-disk log in this directory")

	// never print messages
	rootCmd.SilenceErrors = true

	// layer configuration and set up logging
	rootCmd.PersistentPreRunE = initFallout

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(componentsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fallout failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "fallout",
	Short:        "Distributed-systems test harness workload engine",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <workload.yaml>",
	Short: "run executes a workload and reports the verdict",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <workload.yaml>",
	Short: "validate loads and resolves a workload without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  doValidate,
}

var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "components lists the registered modules and checkers",
	RunE:  doComponents,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of fallout",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("fallout: version info not available")
			return
		}

		fmt.Printf("fallout: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initFallout(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("FALLOUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	for _, name := range []string{"phase-timeout", "artifact-dir", "record-dir"} {
		if err := viper.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	if flagConfigFilePath != "" {
		viper.SetConfigFile(flagConfigFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	} else {
		viper.SetConfigName("fallout")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		var notFound viper.ConfigFileNotFoundError
		if err := viper.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose || viper.GetBool("verbose")
	slog.SetDefault(log.New(verbose))

	slog.Debug("fallout run",
		"configFile", viper.ConfigFileUsed(),
		"phase_timeout", viper.GetDuration("phase-timeout"),
		"artifact_dir", viper.GetString("artifact-dir"))
	return nil
}

func phaseTimeout() time.Duration {
	return viper.GetDuration("phase-timeout")
}
