package bus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/motorctl/motor-bot/internal/errors"
)

// Registry maps topic patterns to subscriptions and owns the receive Loop.
// The loop runs exactly while at least one subscription is registered.
type Registry struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
	loop *Loop
}

func NewRegistry(connector Connector, reconnectInterval time.Duration) *Registry {
	r := &Registry{
		subs: make(map[string][]*Subscription),
	}
	r.loop = NewLoop(connector, r.Dispatch, reconnectInterval)
	return r
}

// Register adds sub under pattern. The first registration in an empty
// registry starts the receive loop.
func (r *Registry) Register(pattern string, sub *Subscription) error {
	if !ValidPattern(pattern) {
		return apperrors.InvalidArgument(fmt.Sprintf("invalid topic pattern %q", pattern))
	}
	if sub == nil || sub.cb == nil {
		return apperrors.InvalidArgument("subscription callback is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if slices.Contains(r.subs[pattern], sub) {
		return nil
	}

	wasEmpty := len(r.subs) == 0
	r.subs[pattern] = append(r.subs[pattern], sub)

	log.Debug().
		Str("pattern", pattern).
		Str("subscription", sub.name).
		Int("patternCount", len(r.subs)).
		Msg("bus callback registered")

	if wasEmpty {
		r.loop.Start()
	}
	return nil
}

// Unregister removes sub from pattern. With a nil sub the whole pattern entry
// is removed; with an empty pattern sub is removed from every pattern.
// Removing something that is not registered is a no-op. When the registry
// becomes empty the receive loop is stopped.
func (r *Registry) Unregister(pattern string, sub *Subscription) error {
	if pattern == "" && sub == nil {
		return apperrors.InvalidArgument("either topic pattern or subscription must be given")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case sub == nil:
		delete(r.subs, pattern)
	case pattern == "":
		for p := range r.subs {
			r.removeLocked(p, sub)
		}
	default:
		r.removeLocked(pattern, sub)
	}

	if len(r.subs) == 0 {
		r.loop.Stop()
	}
	return nil
}

func (r *Registry) removeLocked(pattern string, sub *Subscription) {
	list, ok := r.subs[pattern]
	if !ok {
		return
	}

	list = slices.DeleteFunc(slices.Clone(list), func(s *Subscription) bool { return s == sub })
	if len(list) == 0 {
		delete(r.subs, pattern)
		return
	}
	r.subs[pattern] = list
}

// Dispatch invokes every subscription whose pattern matches msg.Topic, at most
// once each. Subscriptions are snapshotted first so callbacks may register or
// unregister freely.
func (r *Registry) Dispatch(ctx context.Context, msg Message) {
	r.mu.Lock()
	var matched []*Subscription
	for pattern, list := range r.subs {
		if !Match(pattern, msg.Topic) {
			continue
		}
		for _, sub := range list {
			if !slices.Contains(matched, sub) {
				matched = append(matched, sub)
			}
		}
	}
	r.mu.Unlock()

	for _, sub := range matched {
		invoke(ctx, sub, msg)
	}
}

func invoke(ctx context.Context, sub *Subscription, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Interface("panic", p).
				Str("topic", msg.Topic).
				Str("subscription", sub.name).
				Msg("bus callback panicked")
		}
	}()

	if err := sub.cb(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("topic", msg.Topic).
			Str("subscription", sub.name).
			Msg("bus callback failed")
	}
}

// AwaitListening blocks until the receive loop holds its subscription.
func (r *Registry) AwaitListening(ctx context.Context) error {
	return r.loop.AwaitListening(ctx)
}

func (r *Registry) Running() bool {
	return r.loop.State() != StateStopped
}

func (r *Registry) State() State {
	return r.loop.State()
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Has reports whether pattern has at least one subscription.
func (r *Registry) Has(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[pattern]) > 0
}

// Close drops every registration and waits for the loop to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.subs = make(map[string][]*Subscription)
	r.loop.Stop()
	r.mu.Unlock()

	r.loop.Wait()
}
