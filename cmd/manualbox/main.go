// manualbox mounts an encrypted, in-memory filesystem whose file contents
// are released only after a person approves each access.
//
// The filesystem lives in a single age-encrypted container file (by default
// ~/.manualbox). It is decrypted into memory at mount time and written back
// on unmount or on SIGUSR1. Every read (or every open, depending on the
// access policy) asks the decision command whether to proceed; an answer is
// reused for 30 seconds.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/manualbox/manualbox/internal/adapter"
	"github.com/manualbox/manualbox/internal/config"
	mberrors "github.com/manualbox/manualbox/pkg/errors"
	"github.com/manualbox/manualbox/pkg/utils"
)

const stopTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

type options struct {
	configFile      string
	writeConfig     string
	storage         string
	keyFile         string
	logLevel        string
	logFormat       string
	logFile         string
	policy          string
	sessionKey      string
	decisionCommand string
	decisionTimeout time.Duration
	statfs          string
	metrics         bool
	metricsAddress  string
	allowOther      bool
	debug           bool
}

func run(args []string) error {
	var opts options
	flagSet := pflag.NewFlagSet("manualbox", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flagSet.StringVar(&opts.writeConfig, "write-config", "", "write the effective configuration to this file and exit")
	flagSet.StringVar(&opts.storage, "storage", "", "container file (default ~/.manualbox)")
	flagSet.StringVar(&opts.keyFile, "key-file", "", "file holding the container key")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "text or json")
	flagSet.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	flagSet.StringVar(&opts.policy, "policy", "", "when to ask: auto, open or read")
	flagSet.StringVar(&opts.sessionKey, "session-key", "", "what a decision covers: handle or process")
	flagSet.StringVar(&opts.decisionCommand, "decision-command", "", "program asked for each decision")
	flagSet.DurationVar(&opts.decisionTimeout, "decision-timeout", 0, "deny when the decision command takes longer")
	flagSet.StringVar(&opts.statfs, "statfs", "", "placeholder or passthrough")
	flagSet.BoolVar(&opts.metrics, "metrics", false, "serve Prometheus metrics")
	flagSet.StringVar(&opts.metricsAddress, "metrics-address", "", "metrics listen address")
	flagSet.BoolVar(&opts.allowOther, "allow-other", false, "let other users access the mount")
	flagSet.BoolVar(&opts.debug, "debug", false, "log FUSE traffic")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	cfg, err := loadConfig(flagSet, &opts)
	if err != nil {
		return err
	}

	if opts.writeConfig != "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return cfg.SaveToFile(opts.writeConfig)
	}

	if flagSet.NArg() != 1 {
		printHelp(flagSet)
		return fmt.Errorf("expected exactly one mount point, got %d arguments", flagSet.NArg())
	}
	mountPoint := flagSet.Arg(0)

	logger, err := utils.SetupLogging(cfg.Global.LogLevel, cfg.Global.LogFile, cfg.Global.LogFormat)
	if err != nil {
		return err
	}

	a, err := adapter.New(mountPoint, cfg,
		adapter.WithLogger(logger),
		adapter.WithKeyPrompter(newTerminalPrompter()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	saveRequests := make(chan os.Signal, 1)
	if len(saveSignals) > 0 {
		signal.Notify(saveRequests, saveSignals...)
	}
	defer signal.Stop(stopSignals)
	defer signal.Stop(saveRequests)

	unmounted := make(chan struct{})
	go func() {
		a.Wait()
		close(unmounted)
	}()

	log := logger.WithField("session", a.SessionID())
	for running := true; running; {
		select {
		case sig := <-stopSignals:
			log.WithField("signal", sig.String()).Info("shutting down")
			running = false
		case <-saveRequests:
			if err := a.Save(); err != nil {
				log.WithError(err).Error("save failed")
			}
		case <-unmounted:
			log.Info("filesystem was unmounted")
			running = false
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	return a.Stop(stopCtx)
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(flagSet *pflag.FlagSet, opts *options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	set := func(name string, apply func()) {
		if flagSet.Changed(name) {
			apply()
		}
	}
	set("storage", func() { cfg.Storage.Path = opts.storage })
	set("key-file", func() { cfg.Storage.KeyFile = opts.keyFile })
	set("log-level", func() { cfg.Global.LogLevel = opts.logLevel })
	set("log-format", func() { cfg.Global.LogFormat = opts.logFormat })
	set("log-file", func() { cfg.Global.LogFile = opts.logFile })
	set("policy", func() { cfg.Access.Policy = opts.policy })
	set("session-key", func() { cfg.Access.SessionKey = opts.sessionKey })
	set("decision-command", func() { cfg.Access.DecisionCommand = opts.decisionCommand })
	set("decision-timeout", func() { cfg.Access.DecisionTimeout = opts.decisionTimeout })
	set("statfs", func() { cfg.Statfs.Mode = opts.statfs })
	set("metrics", func() { cfg.Monitoring.Metrics.Enabled = opts.metrics })
	set("metrics-address", func() { cfg.Monitoring.Metrics.Address = opts.metricsAddress })
	set("allow-other", func() { cfg.Mount.AllowOther = opts.allowOther })
	set("debug", func() { cfg.Mount.Debug = opts.debug })
	return cfg, nil
}

func reportError(err error) {
	var e *mberrors.ManualBoxError
	if errors.As(err, &e) {
		fmt.Fprintf(os.Stderr, "manualbox: %s\n", e.UserFacingMessage())
		if rec := e.GetRecommendation(); rec != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", rec)
		}
		if strings.EqualFold(os.Getenv("MANUALBOX_LOG_LEVEL"), "debug") {
			fmt.Fprintln(os.Stderr, e.DetailedDiagnostic())
		}
		return
	}
	fmt.Fprintf(os.Stderr, "manualbox: %v\n", err)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `manualbox: an encrypted filesystem that asks before every read.

Usage:
  manualbox [flags] MOUNTPOINT

The container is unlocked with MANUALBOX_KEY, --key-file, or a key typed
at the prompt. When no container exists a new key is generated and shown
once. Send SIGUSR1 to save without unmounting; SIGINT or SIGTERM unmounts
and saves.

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
