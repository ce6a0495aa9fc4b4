package env

import (
	"os"
	"strconv"

	"github.com/MreRes/financial-bot/internal/config"
)

const (
	logLevelEnvName      = "LOG_LEVEL"
	commandPrefixEnvName = "COMMAND_PREFIX"
	maxHandlesEnvName    = "MAX_HANDLES_PER_USER"
	eventQueueEnvName    = "SESSION_EVENT_QUEUE_SIZE"
)

type appConfig struct {
	logLevel       string
	commandPrefix  string
	maxHandles     int
	eventQueueSize int
}

func NewAppConfig() (config.AppConfig, error) {
	logLevel := os.Getenv(logLevelEnvName)
	if logLevel == "" {
		logLevel = "info"
	}

	prefix := os.Getenv(commandPrefixEnvName)
	if prefix == "" {
		prefix = "!"
	}

	maxHandles := 1
	if raw := os.Getenv(maxHandlesEnvName); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxHandles = parsed
		}
	}

	queueSize := 64
	if raw := os.Getenv(eventQueueEnvName); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			queueSize = parsed
		}
	}

	return &appConfig{
		logLevel:       logLevel,
		commandPrefix:  prefix,
		maxHandles:     maxHandles,
		eventQueueSize: queueSize,
	}, nil
}

func (cfg *appConfig) LogLevel() string {
	return cfg.logLevel
}

func (cfg *appConfig) CommandPrefix() string {
	return cfg.commandPrefix
}

func (cfg *appConfig) MaxHandlesPerUser() int {
	return cfg.maxHandles
}

func (cfg *appConfig) EventQueueSize() int {
	return cfg.eventQueueSize
}
