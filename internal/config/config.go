package config

import (
	"github.com/joho/godotenv"
)

type PGConfig interface {
	DSN() string
}

type BotConfig interface {
	Token() string
	Debug() bool
}

type NLPConfig interface {
	Engine() string // "rules" or "gemini"
	Model() string
	DefaultConfidence() float64
}

type AppConfig interface {
	LogLevel() string
	CommandPrefix() string
	MaxHandlesPerUser() int
	EventQueueSize() int
}

func Load(path string) error {
	err := godotenv.Load(path)
	if err != nil {
		return err
	}
	return nil
}
