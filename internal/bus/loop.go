package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/motorctl/motor-bot/internal/errors"
)

const DefaultReconnectInterval = 5 * time.Second

type State int

const (
	StateStopped State = iota
	StateConnecting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	default:
		return "stopped"
	}
}

var errConnectionClosed = errors.New("connection closed")

// DispatchFunc receives every message read by the Loop.
type DispatchFunc func(ctx context.Context, msg Message)

// Loop keeps one subscription to TopicAll alive and hands each message to
// dispatch. It reconnects forever with a fixed backoff until stopped.
type Loop struct {
	connector Connector
	dispatch  DispatchFunc
	interval  time.Duration

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	listening chan struct{}
	isOpen    bool
}

func NewLoop(connector Connector, dispatch DispatchFunc, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	return &Loop{
		connector: connector,
		dispatch:  dispatch,
		interval:  interval,
		listening: make(chan struct{}),
	}
}

// Start spawns the receive goroutine. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := l.done
	done := make(chan struct{})

	l.cancel = cancel
	l.done = done
	l.state = StateConnecting
	l.resetListeningLocked()

	go l.run(ctx, prev, done)
	log.Info().Dur("reconnectInterval", l.interval).Msg("bus receive loop started")
}

// Stop cancels the receive goroutine. It does not wait for the goroutine to
// exit, so it is safe to call from a callback running on the loop; use Wait
// for that.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel == nil {
		return
	}

	l.cancel()
	l.cancel = nil
	l.state = StateStopped
	l.resetListeningLocked()
	log.Info().Msg("bus receive loop stopped")
}

// Wait blocks until the most recently started goroutine has exited.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// AwaitListening blocks until the loop holds an active subscription.
func (l *Loop) AwaitListening(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateStopped {
		l.mu.Unlock()
		return apperrors.BusUnavailable(errors.New("receive loop is stopped"))
	}
	ch := l.listening
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) run(ctx context.Context, prev, done chan struct{}) {
	defer close(done)

	// A previous run may still be closing its connection.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	timer := time.NewTimer(l.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}

		log.Error().
			Err(err).
			Dur("retryIn", l.interval).
			Msg("bus receive loop error")
		l.transition(ctx, StateConnecting)

		timer.Reset(l.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) listen(ctx context.Context) error {
	conn, err := l.connector.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.Subscribe(ctx, TopicAll); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicAll, err)
	}

	l.transition(ctx, StateListening)
	log.Info().Str("topic", TopicAll).Msg("bus receive loop listening")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-conn.Done():
			if err := conn.Err(); err != nil {
				return apperrors.BusUnavailable(err)
			}
			return apperrors.BusUnavailable(errConnectionClosed)

		case msg := <-conn.Messages():
			l.dispatch(ctx, msg)
		}
	}
}

// transition ignores updates from a run that has already been cancelled so a
// late goroutine cannot overwrite StateStopped.
func (l *Loop) transition(ctx context.Context, state State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	l.state = state
	switch state {
	case StateListening:
		if !l.isOpen {
			close(l.listening)
			l.isOpen = true
		}
	default:
		l.resetListeningLocked()
	}
}

func (l *Loop) resetListeningLocked() {
	if l.isOpen {
		l.listening = make(chan struct{})
		l.isOpen = false
	}
}
