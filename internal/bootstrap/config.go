package bootstrap

import (
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/harvester/internal/config"
	"github.com/jonesrussell/north-cloud/harvester/internal/logger"
)

var (
	// errLoggerRequired is returned when CommandDeps.Logger is nil.
	errLoggerRequired = errors.New("logger is required")
	// errConfigRequired is returned when CommandDeps.Config is nil.
	errConfigRequired = errors.New("config is required")
)

// Options are the process-level settings supplied by the CLI.
type Options struct {
	// ConfigPath overrides CONFIG_PATH and the config.yml default.
	ConfigPath string
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// CommandDeps holds the dependencies every command needs.
type CommandDeps struct {
	Logger logger.Logger
	Config *config.Config
}

// NewCommandDeps creates CommandDeps by loading config and creating logger.
func NewCommandDeps(opts Options) (*CommandDeps, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(logger.String("service", "harvester"))

	deps := &CommandDeps{
		Logger: log,
		Config: cfg,
	}
	if validateErr := deps.Validate(); validateErr != nil {
		return nil, fmt.Errorf("validate deps: %w", validateErr)
	}
	return deps, nil
}

// LoadConfig loads the configuration at path, or at the CONFIG_PATH default
// when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath(config.DefaultConfigPath)
	}
	return config.Load(path)
}

// Validate ensures all required dependencies are present.
func (d *CommandDeps) Validate() error {
	if d.Logger == nil {
		return errLoggerRequired
	}
	if d.Config == nil {
		return errConfigRequired
	}
	return nil
}
