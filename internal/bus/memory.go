package bus

import (
	"context"
	"errors"
	"sync"
)

// Responder reacts to a message published on a MemoryBroker, standing in for
// device firmware. It runs on its own goroutine.
type Responder func(b *MemoryBroker, msg Message)

type responder struct {
	pattern string
	fn      Responder
}

// MemoryBroker is an in-process bus. It implements both Connector and
// Publisher and is used for local runs and tests.
type MemoryBroker struct {
	mu         sync.Mutex
	conns      map[*memoryConn]struct{}
	published  []Message
	responders []responder
	dialErrs   []error
	dials      int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{conns: make(map[*memoryConn]struct{})}
}

func (b *MemoryBroker) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		return nil, err
	}

	c := &memoryConn{
		broker:   b,
		messages: make(chan Message, messageBuffer),
		done:     make(chan struct{}),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// Publish records msg, delivers it to every matching connection and runs
// matching responders.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	b.published = append(b.published, msg)
	var targets []*memoryConn
	for c := range b.conns {
		if c.matches(topic) {
			targets = append(targets, c)
		}
	}
	var fns []Responder
	for _, r := range b.responders {
		if Match(r.pattern, topic) {
			fns = append(fns, r.fn)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.deliver(msg)
	}
	for _, fn := range fns {
		go fn(b, msg)
	}
	return nil
}

// Respond installs fn for every future message matching pattern.
func (b *MemoryBroker) Respond(pattern string, fn Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders = append(b.responders, responder{pattern: pattern, fn: fn})
}

// FailDials makes the next len(errs) Dial calls fail with the given errors.
func (b *MemoryBroker) FailDials(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErrs = append(b.dialErrs, errs...)
}

// DropConnections severs every open connection with err.
func (b *MemoryBroker) DropConnections(err error) {
	b.mu.Lock()
	conns := make([]*memoryConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.fail(err)
	}
}

// Published returns messages published on topic, in order.
func (b *MemoryBroker) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// ActiveConns counts connections that hold at least one subscription.
func (b *MemoryBroker) ActiveConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for c := range b.conns {
		if c.subscribed() {
			n++
		}
	}
	return n
}

func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *MemoryBroker) remove(c *memoryConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, c)
}

var errMemoryConnClosed = errors.New("memory connection closed")

type memoryConn struct {
	broker   *MemoryBroker
	messages chan Message
	done     chan struct{}

	mu     sync.Mutex
	topics []string
	err    error
	closed bool
}

func (c *memoryConn) Subscribe(ctx context.Context, topic string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errMemoryConnClosed
	}
	c.topics = append(c.topics, topic)
	return nil
}

func (c *memoryConn) matches(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.topics {
		if Match(p, topic) {
			return true
		}
	}
	return false
}

func (c *memoryConn) subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && len(c.topics) > 0
}

func (c *memoryConn) deliver(msg Message) {
	select {
	case c.messages <- msg:
	case <-c.done:
	}
}

func (c *memoryConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

func (c *memoryConn) Messages() <-chan Message { return c.messages }

func (c *memoryConn) Done() <-chan struct{} { return c.done }

func (c *memoryConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memoryConn) Close() error {
	c.fail(nil)
	c.broker.remove(c)
	return nil
}
