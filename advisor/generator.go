package advisor

import (
	"context"
	"errors"
)

// ErrEmptyResponse reports a reply without any text.
var ErrEmptyResponse = errors.New("advisor: empty response")

// Generator sends one prompt to a text model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
