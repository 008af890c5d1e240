// Package cli provides the command-line interface for netscan.
// It implements the Cobra command tree: scan, sweep, history and config.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netscan/internal/config"
	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
)

const (
	exitFailure = 1
	exitFatal   = 2

	envPrefix = "NETSCAN"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netscan",
	Short: "Host discovery and service reconnaissance",
	Long: `netscan sweeps address ranges for live hosts, scans their TCP and UDP
ports, identifies the services behind open ports and resolves MAC vendors
for hosts on the local segment.

Every run appends its failures to a CSV summary and can export the detected
services as JSON for advisory lookups.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and returns the process exit code:
// 0 on success, 2 when a fatal validation error aborted the session before
// any probe, 1 for every other failure.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsFatal(err):
		return exitFatal
	default:
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
	})
}

// initConfig locates the config file and enables NETSCAN_* environment
// overrides, e.g. NETSCAN_DISCOVERY_MODE=tcp.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindFlags ties config keys to flags so a changed flag overrides the
// file value.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// loadConfig reads the config file, applies flag and environment
// overrides, validates the result and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, viper.GetViper()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initLogging(cfg)
	return cfg, nil
}

// applyOverrides decodes every key set through a flag or the environment
// onto cfg. The values already in cfg are registered as viper defaults
// first, since viper only resolves environment variables for keys it knows.
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to encode configuration", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to encode configuration", err)
	}
	setDefaults(v, "", tree)

	// Decode into a zero value so an override list replaces the default
	// list instead of being merged into it.
	var merged config.Config
	err = v.Unmarshal(&merged, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.Squash = true
	})
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "invalid configuration override", err)
	}
	*cfg = merged
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := value.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, value)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging installs the configured logger as the default.
func initLogging(cfg *config.Config) {
	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logConfig.AddSource = logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
