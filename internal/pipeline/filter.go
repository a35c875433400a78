package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/store"
)

// Filter narrows the postings handed to the matching engine.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *FilterConfig) error
	Apply(ctx context.Context, deps Deps, p *posting.Records) (*posting.Records, Step, error)
}

// Deps aggregates dependencies shared across all filters.
type Deps struct {
	Store  store.Store
	Logger *zap.Logger
}

// Step describes the result of executing a filter.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// FilterConfig contains configuration settings consumed by the filters.
type FilterConfig struct {
	ExcludeFile string
	Limit       int
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// RunFilters executes the supplied filters sequentially and returns the postings left.
func RunFilters(ctx context.Context, cfg *FilterConfig, deps Deps, steps []Filter, p *posting.Records) (*posting.Records, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Info("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Info("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}
		p = next
	}

	return p, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

// DefaultFilters returns the standard filter chain.
func DefaultFilters() []Filter {
	return []Filter{
		NewExcludeFile(),
		NewTerminal(),
		NewLimit(),
	}
}
