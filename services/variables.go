package services

import (
	"context"
	"math/rand"
	"regexp"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"git-arcade/models"
)

// tokenPattern matches a [NAME] placeholder.
var tokenPattern = regexp.MustCompile(`\[([A-Z0-9_]+)\]`)

// Bindings maps a variable name (without brackets) to its concrete value.
type Bindings map[string]string

// VariableSource loads the dynamic variable pools.
type VariableSource interface {
	DynamicVariables(ctx context.Context) ([]models.DynamicVariable, error)
}

// VariableCache holds the variable pools in memory. Pools are fetched once
// and kept until Invalidate or Reload.
type VariableCache struct {
	source VariableSource
	group  singleflight.Group

	mu     sync.RWMutex
	pools  map[string][]string
	loaded bool
}

func NewVariableCache(source VariableSource) *VariableCache {
	return &VariableCache{source: source}
}

// NewStaticVariableCache returns a cache preloaded with pools that never
// touches a store.
func NewStaticVariableCache(pools map[string][]string) *VariableCache {
	c := &VariableCache{pools: make(map[string][]string, len(pools)), loaded: true}
	for name, values := range pools {
		c.pools[name] = append([]string(nil), values...)
	}
	return c
}

// Load fetches the pools unless they are already cached. Concurrent callers
// share a single fetch.
func (c *VariableCache) Load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded || c.source == nil {
		return nil
	}
	_, err, _ := c.group.Do("load", func() (any, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

func (c *VariableCache) fetch(ctx context.Context) error {
	vars, err := c.source.DynamicVariables(ctx)
	if err != nil {
		return err
	}
	pools := make(map[string][]string, len(vars))
	for _, v := range vars {
		if len(v.ValuePool) > 0 {
			pools[v.VariableName] = []string(v.ValuePool)
		}
	}
	c.mu.Lock()
	c.pools = pools
	c.loaded = true
	c.mu.Unlock()
	log.Debug().Str("component", "challenges").Int("pools", len(pools)).Msg("variable pools loaded")
	return nil
}

// Invalidate drops the cached pools; the next Load fetches them again.
func (c *VariableCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *VariableCache) Reload(ctx context.Context) error {
	if c.source == nil {
		return nil
	}
	c.Invalidate()
	return c.Load(ctx)
}

// Tokens returns the distinct token names of the templates in first-seen order.
func Tokens(templates ...string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, t := range templates {
		for _, m := range tokenPattern.FindAllStringSubmatch(t, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	return names
}

// Bind draws one value per distinct token across all templates. A token
// without a pool binds to its own name.
func (c *VariableCache) Bind(ctx context.Context, templates ...string) Bindings {
	b := make(Bindings)
	c.fill(ctx, b, Tokens(templates...))
	return b
}

func (c *VariableCache) fill(ctx context.Context, b Bindings, names []string) {
	if len(names) == 0 {
		return
	}
	if err := c.Load(ctx); err != nil {
		log.Warn().Err(err).Str("component", "challenges").Msg("variable pools unavailable, binding literal names")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		if _, ok := b[name]; ok {
			continue
		}
		pool := c.pools[name]
		if len(pool) == 0 {
			b[name] = name
			continue
		}
		b[name] = pool[rand.Intn(len(pool))]
	}
}

// Resolve substitutes template with b. When b is nil a fresh binding set is
// drawn; tokens missing from a non-nil b are drawn and added to it.
func (c *VariableCache) Resolve(ctx context.Context, template string, b Bindings) string {
	if b == nil {
		b = make(Bindings)
	}
	c.fill(ctx, b, Tokens(template))
	return Substitute(template, b)
}

// Substitute replaces every bound token; unbound tokens are left as they are.
func Substitute(template string, b Bindings) string {
	return replaceTokens(template, b, func(v string) string { return v })
}

// SubstitutePattern is Substitute for regular expressions: bound values are
// escaped so they match literally.
func SubstitutePattern(pattern string, b Bindings) string {
	return replaceTokens(pattern, b, regexp.QuoteMeta)
}

func replaceTokens(s string, b Bindings, escape func(string) string) string {
	if len(b) == 0 {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := b[name]; ok {
			return escape(v)
		}
		return tok
	})
}
