package rules

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/condition"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/taxonomy"
)

// Engine evaluates the current rule set. The set is swapped atomically on reload,
// so evaluation never takes a lock.
type Engine struct {
	current atomic.Pointer[Set]
	paths   []string
	store   *taxonomy.Store
	logger  *zap.Logger
}

func NewEngine(set *Set, paths []string, store *taxonomy.Store, log *zap.Logger) *Engine {
	e := &Engine{
		paths:  paths,
		store:  store,
		logger: logger.WithFields(log, zap.String(logger.FieldStage, "rules")),
	}
	if set == nil {
		set = &Set{byID: map[string]*BusinessRule{}}
	}
	e.current.Store(set)
	return e
}

func (e *Engine) Current() *Set {
	return e.current.Load()
}

// Evaluate returns the rule that fires for f, or nil.
func (e *Engine) Evaluate(f condition.Fields) *BusinessRule {
	return e.Current().Match(f)
}

// Reload re-reads the rule files. On error the previous set stays in place.
func (e *Engine) Reload() error {
	set, err := Load(e.paths, e.store)
	if err != nil {
		e.logger.Error("rule reload rejected, keeping previous rules", zap.Error(err))
		return err
	}
	prev := e.current.Swap(set)
	e.logger.Info("rules reloaded", zap.Int("previous", prev.Len()), zap.Int("current", set.Len()))
	return nil
}

// Paths returns the files and directories the engine reloads from.
func (e *Engine) Paths() []string {
	return e.paths
}
