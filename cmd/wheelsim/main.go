package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type cli struct {
	v        *viper.Viper
	cfg      simConfig
	logLevel string
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int64("max-timeout", 1<<20, "largest timeout in ticks, 0 means unbounded")
	cmd.Flags().Int("timers", 1000, "number of timers to arm")
	cmd.Flags().Int64("max-gap", 300, "largest number of ticks between two polls")
	cmd.Flags().Int("rearms", 500, "how many callbacks may re-arm their timer")
	cmd.Flags().Int64("seed", 20161111, "random seed")
	cmd.Flags().String("log-level", "warn", "debug, info, warn or error")
	return v.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	c.v.SetEnvPrefix("WHEELSIM")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if configFile := c.v.GetString("config-file"); configFile != "" {
		c.v.SetConfigFile(configFile)
		if err := c.v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", configFile)
		}
	}

	c.cfg.MaxTimeout = c.v.GetInt64("max-timeout")
	c.cfg.Timers = c.v.GetInt("timers")
	c.cfg.MaxGap = c.v.GetInt64("max-gap")
	c.cfg.Rearms = c.v.GetInt("rearms")
	c.cfg.Seed = c.v.GetInt64("seed")
	c.logLevel = c.v.GetString("log-level")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(c.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rep, err := simulate(c.cfg, logger)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err = enc.Encode(rep); err != nil {
		return errors.Wrap(err, "encode report")
	}
	if err = enc.Close(); err != nil {
		return errors.Wrap(err, "encode report")
	}

	if n := len(rep.Mismatches); n > 0 {
		return errors.Errorf("%d timers fired off schedule", n)
	}
	return nil
}

// newLogger 建立輸出到 stderr 的 JSON logger，stdout 保留給報告
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	return config.Build()
}

func newCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:          "wheelsim",
		Short:        "Drive a timing wheel with random timers and verify every expiry",
		PreRunE:      c.setupConfig,
		RunE:         c.run,
		SilenceUsage: true,
	}

	if err := setupFlags(cmd, c.v); err != nil {
		panic(err)
	}

	return cmd
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
