package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zde37/ringkv/pkg"
)

// Every flag default can be overridden by a RINGKV_ environment variable,
// e.g. --bootstrap-url by RINGKV_BOOTSTRAP_URL.
const envPrefix = "RINGKV_"

func envString(name, def string) string {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(name string, def bool) bool {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(envPrefix + name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// newLogger builds the process logger from the common log flags.
func newLogger(level, format, file string) (*pkg.Logger, error) {
	loggerConfig := pkg.DefaultConfig()
	loggerConfig.Level = level
	loggerConfig.Format = format
	if file != "" {
		loggerConfig.File.Enable = true
		loggerConfig.File.Path = file
	}
	return pkg.New(loggerConfig)
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "ringkv",
		Short: "A minimal distributed key-value store on a consistent hashing ring",
		Long: `ringkv runs storage nodes that discover each other through a bootstrap
registry and route every key to its owner on a SHA-1 hash ring, forwarding
at most once.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newNodeCmd(), newBootstrapCmd(), newMonitorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
