package config

import (
	colorable "github.com/mattn/go-colorable"
	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the standard logger for a command.
func (c *Config) SetupLogging() {
	SetupLogging(c.LogLevel)
}

// SetupLogging sets the level and the colored text output. An unknown level
// falls back to info.
func SetupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})
	log.SetOutput(colorable.NewColorableStdout())

	if err != nil {
		log.WithFields(log.Fields{"level": level}).Warn("Unknown log level, using info")
	}
}
