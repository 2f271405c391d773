package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/patrickspencer/hydranotify/internal/config"
)

// options are the flags shared by the run and daemon commands.
type options struct {
	configPath  string
	envFile     string
	dbPath      string
	logLevel    string
	dryRun      bool
	jobsets     []string
	jobs        []string
	systems     []string
	maintainers []string
}

func newFlagSet(name string, opts *options, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	fs.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fs.StringVar(&opts.dbPath, "db", "", "path to the SQLite status database")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print notifications to stdout instead of sending mail")
	fs.StringArrayVar(&opts.jobsets, "jobset", nil, "jobset to search, as project:jobset[:prefix] (repeatable)")
	fs.StringArrayVarP(&opts.jobs, "job", "j", nil, "job to monitor (repeatable)")
	fs.StringArrayVar(&opts.systems, "system", nil, fmt.Sprintf("system to monitor (repeatable, default %v)", config.DefaultSystems))
	fs.StringArrayVarP(&opts.maintainers, "maintainer", "m", nil, "monitor every package of this GitHub handle (repeatable)")
	return fs
}

// loadConfig reads the configuration and applies flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadEnv(o.envFile); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	cfg.Watch.Append(config.WatchConfig{
		Jobsets:     o.jobsets,
		Jobs:        o.jobs,
		Systems:     o.systems,
		Maintainers: o.maintainers,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
