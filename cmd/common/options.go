// Package common holds helpers shared by the harvester subcommands.
package common

import (
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/harvester/internal/bootstrap"
)

// Viper keys bound by the root command.
const (
	KeyConfig   = "config"
	KeyLogLevel = "log_level"
)

// Options returns the bootstrap options from bound flags and environment.
func Options() bootstrap.Options {
	return bootstrap.Options{
		ConfigPath: viper.GetString(KeyConfig),
		LogLevel:   viper.GetString(KeyLogLevel),
	}
}
