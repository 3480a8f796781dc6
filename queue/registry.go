package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ssl-hep/ServiceX-DID/errors"
)

// TaskHandler processes one request.
type TaskHandler interface {
	Handle(ctx context.Context, req Request) error
}

// TaskHandlerFunc adapts a function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, req Request) error

// Handle calls f.
func (f TaskHandlerFunc) Handle(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// DefaultTaskName is the task requests are routed to when they name none.
func DefaultTaskName(finder string) string {
	return finder + ".lookup_dataset"
}

// Registry maps task names to handlers. It is filled at startup by ordinary
// Register calls and read by the consumer.
type Registry struct {
	handlers    map[string]TaskHandler
	defaultTask string
	mu          sync.RWMutex
}

// NewRegistry creates an empty registry. Requests without a task name go to
// defaultTask.
func NewRegistry(defaultTask string) *Registry {
	return &Registry{
		handlers:    make(map[string]TaskHandler),
		defaultTask: defaultTask,
	}
}

// Register adds a handler under name.
// Panics if name is empty or already registered.
func (r *Registry) Register(name string, handler TaskHandler) {
	if name == "" {
		panic("task name must not be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("nil handler for task: %s", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for task: %s", name))
	}
	r.handlers[name] = handler
}

// Has checks if a handler is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// DefaultTask returns the fallback task name.
func (r *Registry) DefaultTask() string {
	return r.defaultTask
}

// Lookup returns the handler for task, using the default when task is empty.
// The resolved name is returned alongside.
func (r *Registry) Lookup(task string) (TaskHandler, string, error) {
	if task == "" {
		task = r.defaultTask
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[task]
	if !ok {
		return nil, task, errors.Mark(errors.Newf("no handler registered for task: %s", task), errors.ErrUnknownTask)
	}
	return h, task, nil
}

// Names returns all registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
