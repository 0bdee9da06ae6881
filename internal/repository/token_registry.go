package repository

import (
	"context"
	"fmt"
	"sort"

	domrepo "TickPilot/internal/domain/repository"
	"TickPilot/pkg/cache"
	"TickPilot/pkg/logger"
)

// TokenRegistry reads account hashes "<prefix>:<token>" and returns the
// tokens whose ready_for_trade field is "true". When the lookup fails or finds
// nothing, the static fallback list is returned instead.
type TokenRegistry struct {
	c        cache.Service
	prefix   string
	fallback []string
	log      *logger.Logger
}

func NewTokenRegistry(c cache.Service, prefix string, fallback []string, log *logger.Logger) *TokenRegistry {
	if log == nil {
		log = logger.Nop()
	}
	return &TokenRegistry{c: c, prefix: prefix, fallback: fallback, log: log}
}

var _ domrepo.TokenRegistry = (*TokenRegistry)(nil)

func (r *TokenRegistry) ListEnabledTokens(ctx context.Context) ([]string, error) {
	if r.c == nil {
		return r.static(), nil
	}
	tokens, err := r.lookup(ctx)
	if err != nil {
		r.log.Warn("token registry unavailable, using static tokens", logger.Error(err))
		return r.static(), nil
	}
	if len(tokens) == 0 {
		return r.static(), nil
	}
	return tokens, nil
}

func (r *TokenRegistry) lookup(ctx context.Context) ([]string, error) {
	keys, err := r.c.Keys(ctx, cache.Pattern(r.prefix))
	if err != nil {
		return nil, fmt.Errorf("scan accounts: %w", err)
	}
	var out []string
	for _, k := range keys {
		fields, err := r.c.HGetAll(ctx, k)
		if err != nil {
			// plain keys under the prefix are not account hashes
			continue
		}
		if fields["ready_for_trade"] == "true" {
			out = append(out, trimNamespace(k, r.prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *TokenRegistry) static() []string {
	return append([]string(nil), r.fallback...)
}

// StaticRegistry always returns the same tokens.
type StaticRegistry []string

func (s StaticRegistry) ListEnabledTokens(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}
