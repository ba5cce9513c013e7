package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ose-micro/bus/codec"
	"github.com/ose-micro/bus/topic"
)

// Registry holds the descriptor records the external scanner produces and
// serves lookups by queue name. It is built up once at startup via
// RegisterEvent/RegisterCommand and is read-only for the lifetime of the
// application thereafter.
type Registry struct {
	mu       sync.Mutex
	kinds    map[string]Kind
	events   map[string][]*eventDescriptor
	commands map[string]map[string]*commandDescriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds:    make(map[string]Kind),
		events:   make(map[string][]*eventDescriptor),
		commands: make(map[string]map[string]*commandDescriptor),
	}
}

// RegisterEvent registers fn to run for messages on queue whose routing key
// matches pattern. Registering a command descriptor on the same queue
// elsewhere fails with HandlerRegistrationError.
func RegisterEvent[T any](r *Registry, queue, pattern string, fn EventHandler[T]) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	m, err := topic.Compile(pattern)
	if err != nil {
		return NewInvalidArgument("pattern", err.Error())
	}
	if fn == nil {
		return NewInvalidArgument("fn", "must not be nil")
	}

	d := &eventDescriptor{
		queue:   queue,
		pattern: pattern,
		matcher: m,
		invoke: func(ctx context.Context, body []byte) error {
			var v T
			if err := codec.Decode(body, &v); err != nil {
				return NewCodecError(err)
			}
			return fn(ctx, v)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimKindLocked(queue, KindEvent); err != nil {
		return err
	}
	r.events[queue] = append(r.events[queue], d)
	return nil
}

// RegisterCommand registers fn as the unique handler for routingKey on
// queue. Registering a second command with the same routingKey on the same
// queue, or an event descriptor on a command queue, fails with
// HandlerRegistrationError.
func RegisterCommand[T any, R any](r *Registry, queue, routingKey string, fn CommandHandler[T, R]) error {
	if err := validateQueueName(queue); err != nil {
		return err
	}
	if !topic.ValidKey(routingKey) {
		return NewInvalidArgument("routingKey", "must be a literal routing key with no wildcards")
	}
	if fn == nil {
		return NewInvalidArgument("fn", "must not be nil")
	}

	d := &commandDescriptor{
		queue:      queue,
		routingKey: routingKey,
		invoke: func(ctx context.Context, body []byte) ([]byte, error) {
			var v T
			if err := codec.Decode(body, &v); err != nil {
				return nil, NewCodecError(err)
			}
			result, err := fn(ctx, v)
			if err != nil {
				return nil, err
			}
			return codec.Encode(result)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.claimKindLocked(queue, KindCommand); err != nil {
		return err
	}
	if r.commands[queue] == nil {
		r.commands[queue] = make(map[string]*commandDescriptor)
	}
	if _, exists := r.commands[queue][routingKey]; exists {
		return NewHandlerRegistrationError(queue, fmt.Sprintf("duplicate routing key %q", routingKey))
	}
	r.commands[queue][routingKey] = d
	return nil
}

// claimKindLocked enforces §3's homogeneity invariant: a queue is either
// all-events or all-commands. Must be called with r.mu held.
func (r *Registry) claimKindLocked(queue string, kind Kind) error {
	if existing, ok := r.kinds[queue]; ok {
		if existing != kind {
			return NewHandlerRegistrationError(queue, fmt.Sprintf("queue already holds %s descriptors, cannot add %s", existing, kind))
		}
		return nil
	}
	r.kinds[queue] = kind
	return nil
}

// QueueKind reports the kind of queue and whether anything is registered
// on it at all.
func (r *Registry) QueueKind(queue string) (Kind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.kinds[queue]
	return k, ok
}

// Queues returns every distinct queue name with at least one descriptor.
func (r *Registry) Queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.kinds))
	for q := range r.kinds {
		out = append(out, q)
	}
	return out
}

// EventPatterns returns the binding patterns registered on an event queue,
// the union the Broker Adapter binds the queue to at startup.
func (r *Registry) EventPatterns(queue string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	descs := r.events[queue]
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.pattern
	}
	return out
}

// CommandRoutingKeys returns the literal routing keys registered on a
// command queue, which the Broker Adapter binds individually.
func (r *Registry) CommandRoutingKeys(queue string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commands[queue]))
	for k := range r.commands[queue] {
		out = append(out, k)
	}
	return out
}

// MatchEvents returns every event descriptor on queue whose pattern
// matches key, per §4.4 step 2.
func (r *Registry) MatchEvents(queue, key string) []eventInvoker {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventInvoker
	for _, d := range r.events[queue] {
		if d.matcher.Match(key) {
			out = append(out, eventInvoker{invoke: d.invoke})
		}
	}
	return out
}

// LookupCommand returns the unique command descriptor for key on queue.
func (r *Registry) LookupCommand(queue, key string) (commandInvoker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.commands[queue][key]
	if !ok {
		return commandInvoker{}, false
	}
	return commandInvoker{invoke: d.invoke}, true
}

// eventInvoker and commandInvoker expose just enough of the internal
// descriptors for the dispatch package to call, without leaking the
// registry's type-erasure closures as part of the public descriptor type.
type eventInvoker struct {
	invoke func(ctx context.Context, body []byte) error
}

func (e eventInvoker) Invoke(ctx context.Context, body []byte) error {
	return e.invoke(ctx, body)
}

type commandInvoker struct {
	invoke func(ctx context.Context, body []byte) ([]byte, error)
}

func (c commandInvoker) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	return c.invoke(ctx, body)
}

func validateQueueName(queue string) error {
	if strings.TrimSpace(queue) == "" {
		return NewInvalidArgument("queue", "must not be empty or whitespace")
	}
	return nil
}
