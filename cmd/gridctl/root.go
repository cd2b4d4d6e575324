package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gridctl",
	Short: "gridctl - operator tool for gridquote nodes",
	Long:  `gridctl encodes and decodes swap paths, converts between boundaries and
prices, and requests quotes from a running gridquote node.

Flags can also be set through GRIDCTL_* environment variables or a config file.`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "node API base URL")
	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout, "request timeout")
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

// initConfig reads the config file and GRIDCTL_* environment variables.
func initConfig() {
	viper.SetEnvPrefix("gridctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if configFile == "" {
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read config %s: %v\n", configFile, err)
	}
}
