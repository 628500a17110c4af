package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PowerDNS/perfagent/config"
	"github.com/PowerDNS/perfagent/config/logger"
)

const DefaultConfigFile = "perfagent.yaml"

var (
	configFile string
	debug      bool
	logConfig  bool
	timeout    time.Duration
	conf       config.Config
)

var (
	// These are set by Execute
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

const (
	TimeoutExitCode = 75 // picked EX_TEMPFAIL from sysexits.h
)

func applyTimeout() {
	if timeout <= 0 {
		return
	}
	logrus.WithField("timeout", timeout).Info("Setting command timeout")
	go func() {
		time.Sleep(timeout)
		logrus.Warn("Timeout reached")
		t := time.AfterFunc(10*time.Second, func() {
			logrus.Error("Shutdown took too long, forcing exit")
			os.Exit(TimeoutExitCode)
		})
		rootCancel()
		t.Stop()
		logrus.Error("Exiting due to timeout")
		os.Exit(TimeoutExitCode)
	}()
}

// loadConfig loads the config file. A missing default config file is not
// an error, the agent then runs with defaults and environment overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c := config.Default()
	c.Version = version
	err := c.LoadYAMLFile(configFile, true)
	if err != nil {
		explicit := cmd.Flags().Changed("config")
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return c, err
		}
		logrus.WithField("config", configFile).Debug("No config file, using defaults")
	}
	if key := os.Getenv("PERFAGENT_API_KEY"); key != "" {
		c.APIKey = key
	}
	return c, nil
}

var rootHelp = `This tool runs and tests the perfagent performance monitoring agent
`

var rootCmd = &cobra.Command{
	Use:   "perfagent",
	Short: "This tool runs and tests the perfagent performance monitoring agent",
	Long:  rootHelp,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		conf, err = loadConfig(cmd)
		if err != nil {
			logrus.Fatalf("Load config file %q: %v", configFile, err)
		}
		// Also check at this stage. A config must always be valid, even if you
		// later override some items.
		if err := conf.Check(); err != nil {
			logrus.Fatalf("Config file error: %v", err)
		}

		conf.Log = conf.Log.Merge(logger.FlagConfig)
		if debug {
			conf.Log.Level = "debug"
		}
		logger.Configure(conf.Log)
		logrus.WithField("version", version).Debug("Running")
		if logConfig {
			logrus.Infof("Effective configuration:\n%s\n", conf.String())
		}
		applyTimeout()
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigFile, "Config file")
	rootCmd.PersistentFlags().BoolVar(&logConfig, "log-config", false, "Log the evaluated configuration on startup")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0,
		fmt.Sprintf("Timeout for command execution (exit code %d)", TimeoutExitCode))
	logger.RegisterFlagsWith(rootCmd.PersistentFlags().StringVar)
}

func Execute() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) && timeout > 0 {
			logrus.Error("Context cancelled, likely due to timeout")
			os.Exit(TimeoutExitCode)
		}
		logrus.WithError(err).Error("Error")
		os.Exit(1)
	}
}
