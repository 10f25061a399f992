package main

import (
	"context"
	"fmt"
	"os"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-master/pkg/logging"
	"github.com/core-tools/hsu-master/pkg/master"
)

type flagOptions struct {
	Config               string `long:"config" short:"c" description:"path to the master configuration file" required:"true"`
	Port                 int    `long:"port" description:"port to listen on, overrides the configuration"`
	RunDuration          int    `long:"run-duration" description:"Duration in seconds to run the master (debug feature)"`
	DisableLogCollection bool   `long:"disable-log-collection" description:"discard unit output instead of collecting it"`
	Validate             bool   `long:"validate" description:"validate the configuration file and exit"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	if opts.Validate {
		if err := master.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Configuration is invalid: %v\n", err)
			os.Exit(1)
		}
		summary, _ := master.LoadConfigFromFile(opts.Config)
		fmt.Printf("Configuration is valid: %+v\n", master.GetConfigSummary(summary))
		return
	}

	config, err := master.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(config.Master.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	sugar := zapLogger.Sugar()
	coreLogger := coreLogging.NewLogger(
		logging.ModulePrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: sugar.Debugf,
			Infof:  sugar.Infof,
			Warnf:  sugar.Warnf,
			Errorf: sugar.Errorf,
		})
	logger := logging.NewLogger(logging.ModulePrefix("hsu-master"), logging.NewZapLogFuncs(sugar))

	logger.Infof("opts: %+v", opts)
	logger.Infof("Starting...")

	runOptions := master.RunOptions{
		Port:                 opts.Port,
		RunDuration:          time.Duration(opts.RunDuration) * time.Second,
		DisableLogCollection: opts.DisableLogCollection,
		CoreLogger:           coreLogger,
	}
	if err := master.Run(context.Background(), config, runOptions, zapLogger, logger); err != nil {
		logger.Errorf("Master failed: %v", err)
		zapLogger.Sync()
		os.Exit(1)
	}

	logger.Infof("Done")
}
