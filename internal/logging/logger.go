// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// keyIDLength is how many hex characters of a key hash appear in logs.
const keyIDLength = 8

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// KeyID returns a log field carrying a short prefix of a key hash.
// Raw API keys must never be logged; callers pass the hash.
func KeyID(keyHash string) zap.Field {
	if len(keyHash) > keyIDLength {
		keyHash = keyHash[:keyIDLength]
	}
	return zap.String("key_id", keyHash)
}

// RunID returns a log field for an enrichment run identifier.
func RunID(id string) zap.Field {
	return zap.String("run_id", id)
}
