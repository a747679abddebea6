// Package enrich generates free-text task analysis through a chain of
// language-model providers.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ErrAllProvidersFailed is returned when no provider in a chain produced text.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Provider turns a prompt into generated text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chain tries providers in order and returns the first successful answer.
type Chain struct {
	providers []Provider
	logger    *log.Logger
}

// NewChain builds a chain. Nil providers are dropped.
func NewChain(logger *log.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Chain{logger: logger}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Len returns the number of configured providers.
func (c *Chain) Len() int { return len(c.providers) }

// Names lists the providers in the order they are tried.
func (c *Chain) Names() []string {
	out := make([]string, len(c.providers))
	for i, p := range c.providers {
		out[i] = p.Name()
	}
	return out
}

// Generate returns the text and the name of the provider that produced it.
func (c *Chain) Generate(ctx context.Context, prompt string) (string, string, error) {
	errs := []error{ErrAllProvidersFailed}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		text, err := p.Generate(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text != "" {
				return text, p.Name(), nil
			}
			err = errors.New("empty response")
		}
		c.logger.WithError(err).WithField("provider", p.Name()).Warn("provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return "", "", errors.Join(errs...)
}
