package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// DefaultConfigPath is read when --config is not given
const DefaultConfigPath = "airwaydefects.yaml"

var rootFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	logFile     string
	metricsFile string
	dbPath      string
	cores       int
	seed        uint64
}

var rootCmd = &cobra.Command{
	Use:   "airwaydefects",
	Short: "Synthetic defect injection and evaluation for airway segmentations",
	Long: `airwaydefects carves synthetic segmentation errors into reference airway
masks, driven by per-branch measurements, and scores predicted masks against
references with tree-aware metrics.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", DefaultConfigPath, "YAML configuration file (defaults apply when missing)")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
	f.StringVar(&rootFlags.logFile, "log-file", "", "Also write JSON logs to this file")
	f.StringVar(&rootFlags.metricsFile, "metrics-file", "", "Write Prometheus telemetry to this file")
	f.StringVar(&rootFlags.dbPath, "db", "", "SQLite results database")
	f.IntVar(&rootFlags.cores, "cores", 0, "Cases processed in parallel (default from config)")
	f.Uint64Var(&rootFlags.seed, "seed", 0, "Random seed (default from config)")

	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(extentCmd)
	rootCmd.AddCommand(postprocessCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.Version = version
}
