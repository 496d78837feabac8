package advisor

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config selects the model and limits of the advisor.
type Config struct {
	APIKey   string
	Model    string
	Timeout  time.Duration
	Language Language
}

// ConfigFromEnv reads GEMINI_API_KEY, GEMINI_MODEL, ADVISOR_TIMEOUT and
// ADVISOR_LANGUAGE.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Model:   os.Getenv("GEMINI_MODEL"),
		Timeout: DefaultTimeout,
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if raw := os.Getenv("ADVISOR_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid ADVISOR_TIMEOUT %q", raw)
		}
		cfg.Timeout = d
	}
	lang, err := ParseLanguage(os.Getenv("ADVISOR_LANGUAGE"))
	if err != nil {
		return cfg, err
	}
	cfg.Language = lang
	return cfg, nil
}

// NewClientFromConfig builds a Gemini-backed client. Without an API key every
// analysis yields the fallback advice.
func NewClientFromConfig(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	opts := []Option{WithTimeout(cfg.Timeout), WithLanguage(cfg.Language)}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if cfg.APIKey == "" {
		if logger != nil {
			logger.Warn("GEMINI_API_KEY not set; advisor will only return fallback advice")
		}
		return NewClient(nil, opts...), nil
	}
	gen, err := NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return NewClient(gen, opts...), nil
}
