package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/exitshim/pkg/logging"

	// Built-in monitored units.
	_ "github.com/psantana5/exitshim/internal/targets/demo"
)

var (
	cfgFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "exitshim",
	Short: "Termination interception for in-process fuzzing",
	Long: `exitshim rewrites a Go command so its main becomes a callable entry point and
its os.Exit / syscall.Exit calls become recoverable events, then drives the
entry point over fuzz inputs in a single long-lived process.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.exitshim/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log in JSON")
	rootCmd.PersistentFlags().String("store", "", "result store: memory://, sqlite://PATH, PATH.db or postgres://...")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
	viper.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("store"))

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)
	viper.SetDefault("log.file", false)
	viper.SetDefault("store.dsn", "memory://")
	viper.SetDefault("store.retention", "0s")
	viper.SetDefault("store.prune_interval", "1h")
	viper.SetDefault("server.addr", "")
	viper.SetDefault("server.tls_cert", "")
	viper.SetDefault("server.tls_key", "")
	viper.SetDefault("server.tls_client_ca", "")
	viper.SetDefault("server.tls_self_signed", false)
	viper.SetDefault("server.api_keys", []string{})
	viper.SetDefault("server.api_key_hashes", []string{})
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.sample_ratio", 1.0)
	viper.SetDefault("run.max_iterations", 0)
	viper.SetDefault("run.execs_per_second", 0.0)
	viper.SetDefault("run.work_dir", "")
	viper.SetDefault("run.recent", 100)
	viper.SetDefault("run.memory_limit_mb", 0)
	viper.SetDefault("run.cpu_quota", 0)
	viper.SetDefault("run.cpu_weight", 0)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".exitshim"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// EXITSHIM_STORE_DSN overrides store.dsn and so on.
	viper.SetEnvPrefix("EXITSHIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// IsYAMLOutput returns true if YAML output is requested
func IsYAMLOutput() bool {
	return outputFormat == "yaml"
}

// newLogger builds the harness logger from configuration. Logs go to
// stderr so command output stays parseable.
func newLogger(cmd *cobra.Command, component string) (*logging.Logger, error) {
	level := logging.ParseLevel(viper.GetString("log.level"))
	jsonFormat := viper.GetBool("log.json")

	if viper.GetBool("log.file") {
		return logging.NewFileLogger(component, level, jsonFormat)
	}
	logger := logging.NewLogger(level, jsonFormat)
	logger.SetOutput(cmd.ErrOrStderr())
	return logger.WithField("component", component), nil
}
