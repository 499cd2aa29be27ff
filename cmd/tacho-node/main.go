package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/version"
)

var (
	flagDB       string
	flagDefaults string
	flagListen   string
	flagPort     string
	flagBaud     int
	flagDev      bool
	flagTick     time.Duration
	flagSpeed    float64
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tacho-node",
		Short: "Bicycle tachometer node",
		Long: `tacho-node counts wheel pulses for the active rider and reports the
distance to the backend. Rider tags and pulses arrive from the bridge board on
a serial port; --dev reads them from stdin instead, one "TAG <uid>" or
"PULSE <n>" per line.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "tacho.db", "Settings database path")
	rootCmd.PersistentFlags().StringVar(&flagDefaults, "defaults", config.DefaultsPath, "Build-time defaults JSON file")

	rootCmd.AddCommand(newRunCmd(), newConfigCmd(), newMigrateCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tacho-node %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		},
	}
}

// loadDefaults reads the defaults file when present. A missing file means
// the compiled-in values apply.
func loadDefaults() (*config.BuildDefaults, error) {
	if _, err := os.Stat(flagDefaults); os.IsNotExist(err) {
		monitoring.Logf("defaults file %s not found, using compiled-in values", flagDefaults)
		return nil, nil
	}
	return config.LoadBuildDefaults(flagDefaults)
}
