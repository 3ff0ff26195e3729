package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/finverify/internal/logging"
	"github.com/ppiankov/finverify/internal/model"
)

// Version is set at build time with -ldflags "-X github.com/ppiankov/finverify/internal/cli.Version=..."
var Version = "v0.1.0"

var (
	cfgFile   string
	verbose   bool
	logLevel  string
	logFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "finverify",
	Short: "finverify - canonical financial metrics and numeric claim verification",
	Long: `finverify reduces raw, multi-source financial facts into one canonical
value per metric per company, and checks generated answers against it.

Every numeric claim in a response is extracted, matched to a company and a
metric, compared with the stored value under a relative tolerance, and rolled
into an explainable confidence score.

finverify does not fetch data. Facts are loaded by ingestion jobs (or the
load command) and snapshots are rebuilt with refresh.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log.level")
		if verbose {
			level = "debug"
		}
		lvl, err := logging.ParseLevel(level)
		if err != nil {
			return err
		}
		logging.Init(lvl, viper.GetString("log.format"))
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of finverify.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("finverify %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.finverify/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("db", "", "store DSN: sqlite file path or postgres URL (overrides store.dsn)")
	rootCmd.PersistentFlags().String("driver", "", "store driver: sqlite or postgres (overrides store.driver)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("driver"))

	setDefaults(model.DefaultConfig())

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// configDir returns ~/.finverify
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".finverify"), nil
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(dir)
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match FINVERIFY_*, with FINVERIFY_STORE_DSN for store.dsn
	viper.SetEnvPrefix("FINVERIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every scalar setting so env vars and Unmarshal see them
func setDefaults(cfg *model.Config) {
	viper.SetDefault("store.driver", cfg.Store.Driver)
	viper.SetDefault("store.dsn", cfg.Store.DSN)
	viper.SetDefault("catalog.path", cfg.Catalog.Path)
	viper.SetDefault("aliases", cfg.Aliases)
	viper.SetDefault("verify.tolerance_pct", cfg.Verify.TolerancePct)
	viper.SetDefault("verify.weight_floor", cfg.Verify.WeightFloor)
	viper.SetDefault("score.unresolved_penalty", cfg.Score.UnresolvedPenalty)
	viper.SetDefault("score.discrepancy_penalty", cfg.Score.DiscrepancyPenalty)
	viper.SetDefault("score.no_source_penalty", cfg.Score.NoSourcePenalty)
	viper.SetDefault("score.stale_penalty", cfg.Score.StalePenalty)
	viper.SetDefault("score.stale_after_days", cfg.Score.StaleAfterDays)
	viper.SetDefault("cache.enabled", cfg.Cache.Enabled)
	viper.SetDefault("cache.ttl", cfg.Cache.TTL)
	viper.SetDefault("cache.cleanup_interval", cfg.Cache.CleanupInterval)
	viper.SetDefault("refresh.workers", cfg.Refresh.Workers)
	viper.SetDefault("refresh.min_interval", cfg.Refresh.MinInterval)
	viper.SetDefault("log.level", cfg.Log.Level)
	viper.SetDefault("log.format", cfg.Log.Format)
}

// loadConfig returns the effective configuration: flags > env > file > defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	cfg.Aliases = nil
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Viper lower-cases map keys; entity ids are tickers
	aliases := make(map[string][]string, len(cfg.Aliases))
	for entity, names := range cfg.Aliases {
		aliases[strings.ToUpper(entity)] = names
	}
	cfg.Aliases = aliases

	return cfg, nil
}
