package env

import (
	"os"
	"strconv"

	"github.com/MreRes/financial-bot/internal/config"
)

const (
	nlpEngineEnvName     = "NLP_ENGINE"
	nlpModelEnvName      = "NLP_MODEL"
	nlpConfidenceEnvName = "NLP_CONFIDENCE"
)

type nlpConfig struct {
	engine     string
	model      string
	confidence float64
}

func NewNLPConfig() (config.NLPConfig, error) {
	engine := os.Getenv(nlpEngineEnvName)
	if engine == "" {
		engine = "rules"
	}

	model := os.Getenv(nlpModelEnvName)
	if model == "" {
		model = "gemini-2.0-flash"
	}

	confidence := 0.7
	if raw := os.Getenv(nlpConfidenceEnvName); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err == nil && parsed >= 0 && parsed <= 1 {
			confidence = parsed
		}
	}

	return &nlpConfig{
		engine:     engine,
		model:      model,
		confidence: confidence,
	}, nil
}

func (cfg *nlpConfig) Engine() string {
	return cfg.engine
}

func (cfg *nlpConfig) Model() string {
	return cfg.model
}

func (cfg *nlpConfig) DefaultConfidence() float64 {
	return cfg.confidence
}
