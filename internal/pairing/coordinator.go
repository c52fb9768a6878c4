// Package pairing runs the device pairing handshake over the message bus.
//
// One attempt publishes {"type":"request"} on "<serial>/pair", waits for the
// device to answer on the same topic and persists the device on acceptance.
// The response callback is registered only for the lifetime of the attempt.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/motorctl/motor-bot/internal/audit"
	"github.com/motorctl/motor-bot/internal/bus"
	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/model"
)

const DefaultTimeout = 30 * time.Second

// storeTimeout bounds AddDevice once a device has accepted. The store call is
// detached from the attempt deadline so an accept that arrived in time is
// always reported as such.
const storeTimeout = 10 * time.Second

type Outcome int

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeRejected
	OutcomeTimedOut
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	// Reason is the device's rejection message, if any.
	Reason string
	Device *model.Device
	// Cause overrides the error returned by Err.
	Cause error
}

// Err converts a non-accepted result into the matching AppError.
func (r Result) Err() error {
	if r.Cause != nil {
		return r.Cause
	}
	switch r.Outcome {
	case OutcomeAccepted:
		return nil
	case OutcomeRejected:
		return apperrors.PairingRejected(r.Reason)
	case OutcomeConflict:
		return apperrors.AlreadyExists("Device")
	default:
		return apperrors.PairingTimeout()
	}
}

// DeviceStore persists a paired device. A serial that is already stored must
// fail with ErrCodeAlreadyExists.
type DeviceStore interface {
	UserRegistered(ctx context.Context, telegramID int64) (bool, error)
	AddDevice(ctx context.Context, ownerTelegramID int64, serial, name string) (*model.Device, error)
}

// Subscriber is the part of the bus registry an attempt needs.
type Subscriber interface {
	Register(pattern string, sub *bus.Subscription) error
	Unregister(pattern string, sub *bus.Subscription) error
	AwaitListening(ctx context.Context) error
}

type Coordinator struct {
	subscriber Subscriber
	publisher  bus.Publisher
	store      DeviceStore
	timeout    time.Duration
}

func NewCoordinator(subscriber Subscriber, publisher bus.Publisher, store DeviceStore, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		subscriber: subscriber,
		publisher:  publisher,
		store:      store,
		timeout:    timeout,
	}
}

// DeviceName is the display name given to a newly paired device.
func DeviceName(serial string) string {
	return "Motor " + serial
}

// attempt is the in-memory state of one PairDevice call.
type attempt struct {
	serial    string
	userID    int64
	requestID string
	createdAt time.Time

	once   sync.Once
	result chan Result

	mu sync.Mutex
	// accepting is set once an accepted response is being stored; the waiter
	// then waits for the store instead of timing out.
	accepting bool
	closed    bool
}

func newAttempt(serial string, userID int64) *attempt {
	return &attempt{
		serial:    serial,
		userID:    userID,
		requestID: uuid.NewString(),
		createdAt: time.Now(),
		result:    make(chan Result, 1),
	}
}

// resolve sets the outcome once. Later calls, including those after the
// waiter gave up, are no-ops.
func (a *attempt) resolve(r Result) bool {
	resolved := false
	a.once.Do(func() {
		a.result <- r
		resolved = true
	})
	return resolved
}

// beginAccept claims the attempt for storing. It fails once the waiter has
// given up.
func (a *attempt) beginAccept() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.accepting = true
	return true
}

// close marks the deadline as passed and reports whether an accept is in
// flight.
func (a *attempt) close() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.accepting
}

// PairDevice runs one pairing attempt for serial on behalf of the Telegram
// user userID and blocks until the device answers or the timeout elapses.
func (c *Coordinator) PairDevice(ctx context.Context, serial string, userID int64) Result {
	if !bus.ValidSegment(serial) {
		return Result{Outcome: OutcomeRejected, Reason: "Invalid serial number"}
	}

	registered, err := c.store.UserRegistered(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("telegramId", userID).Msg("failed to look up pairing user")
		return Result{Outcome: OutcomeRejected, Reason: "Pairing could not be started", Cause: err}
	}
	if !registered {
		return Result{Outcome: OutcomeRejected, Reason: "User is not registered", Cause: apperrors.NotRegistered()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	a := newAttempt(serial, userID)
	topic := bus.PairTopic(serial)
	logger := log.With().
		Str("serial", serial).
		Int64("telegramId", userID).
		Str("requestId", a.requestID).
		Logger()

	sub := bus.NewSubscription("pairing:"+a.requestID, c.handleResponse(ctx, a))
	if err := c.subscriber.Register(topic, sub); err != nil {
		logger.Error().Err(err).Msg("failed to register pairing callback")
		return Result{Outcome: OutcomeRejected, Reason: "Pairing could not be started"}
	}
	defer func() {
		if err := c.subscriber.Unregister(topic, sub); err != nil {
			logger.Error().Err(err).Msg("failed to unregister pairing callback")
		}
	}()

	if err := c.publishRequest(ctx, topic, a); err != nil {
		logger.Warn().Err(err).Msg("pairing request not sent")
		return c.timedOut(ctx, a)
	}
	logger.Info().Dur("timeout", c.timeout).Msg("pairing request sent")

	select {
	case res := <-a.result:
		c.audit(ctx, a, res)
		return res
	case <-ctx.Done():
		if a.close() {
			res := <-a.result
			c.audit(ctx, a, res)
			return res
		}
		if !a.resolve(Result{Outcome: OutcomeTimedOut}) {
			// The callback settled first; its result is already buffered.
			res := <-a.result
			c.audit(ctx, a, res)
			return res
		}
		return c.timedOut(ctx, a)
	}
}

// publishRequest waits for the receive loop to hold its subscription so the
// device's answer cannot slip past before it is listening.
func (c *Coordinator) publishRequest(ctx context.Context, topic string, a *attempt) error {
	if err := c.subscriber.AwaitListening(ctx); err != nil {
		return fmt.Errorf("await listening: %w", err)
	}

	payload, err := json.Marshal(model.PairingRequest{
		Type:      model.PairingTypeRequest,
		RequestID: a.requestID,
	})
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, topic, payload)
}

func (c *Coordinator) timedOut(ctx context.Context, a *attempt) Result {
	res := Result{Outcome: OutcomeTimedOut}
	c.audit(ctx, a, res)
	return res
}

func (c *Coordinator) handleResponse(ctx context.Context, a *attempt) bus.Callback {
	return func(_ context.Context, msg bus.Message) error {
		var resp model.PairingResponse
		if err := json.Unmarshal(msg.Payload, &resp); err != nil {
			return apperrors.MalformedPayload(msg.Topic, err)
		}

		// Our own request comes back through the "#" subscription.
		if resp.Type == model.PairingTypeRequest {
			return nil
		}
		if resp.Type != model.PairingTypeResponse {
			return apperrors.MalformedPayload(msg.Topic, fmt.Errorf("unexpected type %q", resp.Type))
		}
		if resp.RequestID != "" && resp.RequestID != a.requestID {
			log.Debug().
				Str("topic", msg.Topic).
				Str("requestId", resp.RequestID).
				Msg("ignoring pairing response for another attempt")
			return nil
		}

		switch resp.Status {
		case model.PairingStatusAccepted:
			c.accept(ctx, a)
		case model.PairingStatusRejected:
			a.resolve(Result{Outcome: OutcomeRejected, Reason: resp.Message})
		default:
			return apperrors.MalformedPayload(msg.Topic, fmt.Errorf("unknown status %q", resp.Status))
		}
		return nil
	}
}

// accept persists the device. Nothing is written once the waiter has given
// up; an accept that wins the race is always resolved, even past the deadline.
func (c *Coordinator) accept(ctx context.Context, a *attempt) {
	if ctx.Err() != nil || !a.beginAccept() {
		return
	}

	// The waiter blocks on the result once accepting is set, so a panicking
	// store must still settle it.
	defer func() {
		if r := recover(); r != nil {
			a.resolve(Result{Outcome: OutcomeRejected, Reason: "The device could not be saved"})
			panic(r)
		}
	}()

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	device, err := c.store.AddDevice(storeCtx, a.userID, a.serial, DeviceName(a.serial))
	switch {
	case err == nil:
		a.resolve(Result{Outcome: OutcomeAccepted, Device: device})
	case apperrors.HasCode(err, apperrors.ErrCodeAlreadyExists):
		a.resolve(Result{Outcome: OutcomeConflict})
	case apperrors.HasCode(err, apperrors.ErrCodeNotRegistered):
		a.resolve(Result{Outcome: OutcomeRejected, Reason: "User is not registered", Cause: err})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.resolve(Result{Outcome: OutcomeTimedOut})
	default:
		log.Error().Err(err).Str("serial", a.serial).Msg("failed to store paired device")
		a.resolve(Result{Outcome: OutcomeRejected, Reason: "The device could not be saved"})
	}
}

func (c *Coordinator) audit(ctx context.Context, a *attempt, res Result) {
	event := audit.Event{
		TelegramID: a.userID,
		Serial:     a.serial,
		Details: map[string]interface{}{
			"request_id": a.requestID,
			"elapsed":    time.Since(a.createdAt),
		},
	}
	switch res.Outcome {
	case OutcomeAccepted:
		event.Type = audit.EventDevicePaired
	case OutcomeRejected:
		event.Type = audit.EventDevicePairReject
		event.Details["reason"] = res.Reason
	case OutcomeConflict:
		event.Type = audit.EventDevicePairConflict
	default:
		event.Type = audit.EventDevicePairTimeout
	}
	audit.Log(ctx, event)
}
