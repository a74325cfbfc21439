// Package teardown implements a registry of cleanup hooks that
// must run exactly once on every exit path of a run.
package teardown

import (
	"sync"

	"github.com/wfeval/wfeval/internal/model"
)

// Registry runs registered hooks in reverse registration order.
//
// The zero value is invalid; use [New].
type Registry struct {
	hooks  []hook
	logger model.Logger
	mu     sync.Mutex
	once   sync.Once
}

type hook struct {
	name string
	fn   func() error
}

// New creates a new [*Registry].
func New(logger model.Logger) *Registry {
	return &Registry{logger: model.ValidLoggerOrDefault(logger)}
}

// Register adds a hook. Hooks registered after [Registry.Run]
// has been called are never executed.
func (r *Registry) Register(name string, fn func() error) {
	r.mu.Lock()
	r.hooks = append(r.hooks, hook{name: name, fn: fn})
	r.mu.Unlock()
}

// Run executes all the hooks once in LIFO order. A failing or
// panicking hook is logged and does not prevent running the others.
// Calling Run more than once is a no-op.
func (r *Registry) Run() {
	r.once.Do(func() {
		r.mu.Lock()
		hooks := r.hooks
		r.hooks = nil
		r.mu.Unlock()
		for idx := len(hooks) - 1; idx >= 0; idx-- {
			r.run(hooks[idx])
		}
	})
}

func (r *Registry) run(h hook) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warnf("teardown: %s: panic: %v", h.name, v)
		}
	}()
	r.logger.Debugf("teardown: %s...", h.name)
	err := h.fn()
	r.logger.Debugf("teardown: %s... %s", h.name, model.ErrorToStringOrOK(err))
	if err != nil {
		r.logger.Warnf("teardown: %s: %s", h.name, err.Error())
	}
}
