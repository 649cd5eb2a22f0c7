// Package bands classifies percentages into display bands using CEL conditions.
package bands

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/synchronie/cotation/internal/domain"
)

// NoBand is returned when no condition matches.
const NoBand = ""

// Classifier evaluates band conditions in declaration order; the first
// condition that yields true wins.
type Classifier struct {
	mu    sync.RWMutex
	env   *cel.Env
	bands []*CompiledBand
}

// CompiledBand holds a pre-compiled CEL program.
type CompiledBand struct {
	Config  domain.BandConfig
	Program cel.Program
}

// NewClassifier compiles the given band conditions.
// Conditions may read `percent` (0..100) and `completion` (0..100).
func NewClassifier(configs []domain.BandConfig) (*Classifier, error) {
	env, err := cel.NewEnv(
		cel.Variable("percent", cel.IntType),
		cel.Variable("completion", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &Classifier{env: env}
	if err := c.Reload(configs); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces all bands. On error the previous bands stay active.
func (c *Classifier) Reload(configs []domain.BandConfig) error {
	compiled := make([]*CompiledBand, 0, len(configs))
	for _, cfg := range configs {
		b, err := c.compile(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, b)
	}

	c.mu.Lock()
	c.bands = compiled
	c.mu.Unlock()
	return nil
}

// Classify returns the level of the first matching band.
// Evaluation errors are treated as "no match" for that band.
func (c *Classifier) Classify(percent, completion int) string {
	if c == nil {
		return NoBand
	}

	c.mu.RLock()
	bands := c.bands
	c.mu.RUnlock()

	activation := map[string]any{
		"percent":    int64(percent),
		"completion": int64(completion),
	}

	for _, b := range bands {
		out, _, err := b.Program.Eval(activation)
		if err != nil {
			continue
		}
		if v, ok := out.(types.Bool); ok && bool(v) {
			return b.Config.Level
		}
	}
	return NoBand
}

// Bands returns the configured band definitions.
func (c *Classifier) Bands() []domain.BandConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.BandConfig, 0, len(c.bands))
	for _, b := range c.bands {
		out = append(out, b.Config)
	}
	return out
}

func (c *Classifier) compile(cfg domain.BandConfig) (*CompiledBand, error) {
	if cfg.Level == "" {
		return nil, fmt.Errorf("band %q: level is required", cfg.Expression)
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile band %s: %w", cfg.Level, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("band %s: expression must return bool, got %s", cfg.Level, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for band %s: %w", cfg.Level, err)
	}

	return &CompiledBand{Config: cfg, Program: program}, nil
}
