package enhance

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"video-pipeline/internal/models"
	"video-pipeline/internal/provider"
)

// Scene is one visual beat of the narration.
type Scene struct {
	Text     string   `json:"text"`
	Keywords []string `json:"keywords"`
}

// Result is the enhanced script and the scene breakdown used for media search.
type Result struct {
	Script   string   `json:"script"`
	Scenes   []Scene  `json:"scenes"`
	Keywords []string `json:"keywords"`
	Provider string   `json:"provider"`
}

// Enhancer improves a script and extracts scenes and keywords.
type Enhancer interface {
	Name() string
	Enhance(ctx context.Context, script string) (Result, error)
}

// FallbackFunc observes a provider being skipped.
type FallbackFunc func(provider, reason string, err error)

// Chain tries providers in order and ends with a local enhancer that never fails.
type Chain struct {
	providers  []Enhancer
	local      Enhancer
	logger     zerolog.Logger
	onFallback FallbackFunc
}

// NewChain builds a chain; local is always tried last.
func NewChain(logger zerolog.Logger, onFallback FallbackFunc, local Enhancer, providers ...Enhancer) *Chain {
	if local == nil {
		local = Heuristic{}
	}
	return &Chain{providers: providers, local: local, logger: logger, onFallback: onFallback}
}

// Enhance returns the first provider result, advancing only on provider errors.
// Providers share part of ctx's deadline so the local enhancer always runs.
func (c *Chain) Enhance(ctx context.Context, script string) (Result, error) {
	remote, cancel := provider.Budget(ctx, provider.ProviderShare)
	defer cancel()
	for i, p := range c.providers {
		res, err := c.try(ctx, remote, i, p, script)
		if err == nil {
			return finalize(res, script, p.Name()), nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var perr *models.ProviderError
		if !errors.As(err, &perr) {
			return Result{}, err
		}
		c.logger.Debug().Str("provider", p.Name()).Str("reason", perr.Reason).Msg("enhancer fallback")
		if c.onFallback != nil {
			c.onFallback(p.Name(), perr.Reason, err)
		}
	}
	res, err := c.local.Enhance(ctx, script)
	if err != nil {
		return Result{}, err
	}
	return finalize(res, script, c.local.Name()), nil
}

// try runs provider i within its share of the remote budget.
func (c *Chain) try(ctx, remote context.Context, i int, p Enhancer, script string) (Result, error) {
	actx, cancel := provider.Attempt(remote, i, len(c.providers))
	defer cancel()
	res, err := p.Enhance(actx, script)
	return res, provider.Classify(ctx, actx, p.Name(), err)
}

// finalize fills gaps a provider left so later stages always get scenes and keywords.
func finalize(res Result, original, provider string) Result {
	res.Provider = provider
	res.Script = strings.TrimSpace(res.Script)
	if res.Script == "" {
		res.Script = strings.TrimSpace(original)
	}
	fallback := analyze(res.Script)
	if len(res.Scenes) == 0 {
		res.Scenes = fallback.Scenes
	}
	res.Keywords = normalizeKeywords(res.Keywords, maxKeywords)
	if len(res.Keywords) == 0 {
		res.Keywords = fallback.Keywords
	}
	for i := range res.Scenes {
		res.Scenes[i].Keywords = normalizeKeywords(res.Scenes[i].Keywords, maxSceneKeywords)
		if len(res.Scenes[i].Keywords) == 0 {
			res.Scenes[i].Keywords = ExtractKeywords(res.Scenes[i].Text, maxSceneKeywords)
		}
		if len(res.Scenes[i].Keywords) == 0 {
			res.Scenes[i].Keywords = res.Keywords
		}
	}
	return res
}
