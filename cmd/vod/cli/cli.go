/*
Copyright 2022 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nagare-media/vod/internal/pkg/version"
	"github.com/nagare-media/vod/pkg/config"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/controllers"
)

type cli struct {
	parsed   bool
	setupErr error

	flagSet     *pflag.FlagSet
	helpFlag    bool
	versionFlag bool
	devFlag     bool
	verbosity   string
	configPath  string

	logger *zap.SugaredLogger
	viper  *viper.Viper
}

// New creates the vod command.
func New() *cli {
	c := &cli{
		flagSet: pflag.NewFlagSet("vod", pflag.ContinueOnError),
		viper:   viper.New(),
	}

	c.flagSet.BoolVarP(&c.helpFlag, "help", "h", false, "Print help and exit")
	c.flagSet.BoolVarP(&c.versionFlag, "version", "V", false, "Print version information and exit")
	c.flagSet.BoolVar(&c.devFlag, "dev", false, "Enable developer mode")
	c.flagSet.StringVarP(&c.verbosity, "verbosity", "v", "", "Log verbosity (\"debug\", \"info\", \"warn\", \"error\", \"panic\", \"fatal\")")
	c.flagSet.StringVarP(&c.configPath, "config", "c", "", "Config file to load instead of searching the known locations")

	c.viper.SetConfigName("config")
	c.viper.SetConfigType("yaml")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath("$HOME/.nagare-media/vod/")
	c.viper.AddConfigPath("/etc/nagare-media/vod/")

	return c
}

// ParseArgs parses the given command line arguments.
func (c *cli) ParseArgs(args []string) {
	c.parsed = true

	if c.setupErr = c.flagSet.Parse(args); c.setupErr != nil {
		return
	}
	c.logger, c.setupErr = c.buildLogger()
}

func (c *cli) buildLogger() (*zap.SugaredLogger, error) {
	verbosity := "info"
	switch {
	case c.verbosity != "":
		verbosity = c.verbosity
	case c.devFlag:
		verbosity = "debug"
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(verbosity)); err != nil {
		return nil, err
	}

	l, err := newLoggerConfig(level, c.devFlag).Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Execute runs the command.
func (c *cli) Execute(ctx context.Context) error {
	if !c.parsed {
		c.setupErr = errors.New("vod command line was not parsed")
	}
	if c.setupErr != nil {
		fmt.Println(c.setupErr)
		fmt.Println()
		c.PrintUsage()
		return c.setupErr
	}

	switch {
	case c.helpFlag:
		c.PrintUsage()
		return nil
	case c.versionFlag:
		_ = version.VOD.Write(os.Stdout)
		return nil
	}

	log := c.logger
	defer func() {
		_ = log.Sync()
	}()

	log.Infow("starting nagare media vod", "version", version.VOD.String())

	cfg, err := c.loadConfig(log)
	if err != nil {
		return err
	}

	// handle termination
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := controllers.NewVODController(*cfg)
	if err != nil {
		log.Errorw("failed to initialize vod", "error", err)
		return err
	}

	execCtx := (&controllers.ExecCtx{}).WithLogger(log)
	return ctrl.Exec(ctx, execCtx)
}

func (c *cli) loadConfig(log *zap.SugaredLogger) (*v1alpha1.Config, error) {
	if err := c.readConfig(log); err != nil {
		log.Errorw("could not read config", "error", err)
		return nil, err
	}

	cfg := &v1alpha1.Config{}
	if err := config.UnmarshalExact(c.viper, cfg); err != nil {
		log.Errorw("could not unmarshal config", "error", err)
		return nil, err
	}
	return cfg, nil
}

func (c *cli) readConfig(log *zap.SugaredLogger) error {
	if c.configPath != "" {
		log.Debugw("reading config file", "config", c.configPath)

		f, err := os.Open(c.configPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return c.viper.ReadConfig(f)
	}

	log.Debug("searching known locations for vod config")
	return c.viper.ReadInConfig()
}

// PrintUsage writes usage information to stdout.
func (c *cli) PrintUsage() {
	fmt.Println("Usage: vod [options]")
	c.flagSet.PrintDefaults()
}

func newLoggerConfig(level zap.AtomicLevel, development bool) zap.Config {
	cfg := zap.Config{
		Level:             level,
		Development:       development,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     consoleEncoderConfig(),
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	cfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	enc := zapcore.EncoderConfig{
		MessageKey:     "M",
		LevelKey:       "L",
		TimeKey:        "T",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// colored levels when attached to a terminal
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		enc.EncodeLevel = zapcore.LowercaseColorLevelEncoder
	}

	return enc
}
